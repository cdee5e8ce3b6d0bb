package inventorydb

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	// Registered drivers: "pgx", "postgres" and "duckdb".
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb/v2"
)

// Supported database/sql driver names.
const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverDuckDB   = "duckdb"
	DriverMySQL    = "mysql"
)

// Config describes the inventory database connection and how it is inspected and queried.
type Config struct {
	Driver       string
	URL          string
	MaxOpenConns int

	// Schema and IncludeTables scope the Inspector.
	Schema        string
	IncludeTables []string

	// QueryTimeout bounds each Executor statement; zero means no limit.
	QueryTimeout time.Duration
	// ReadOnly restricts the Executor to SELECT/WITH statements run in a read-only
	// transaction, and opens DuckDB files in read-only mode.
	ReadOnly bool
}

func (c Config) driver() string {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	if driver == "" {
		return DriverPgx
	}
	return driver
}

// Open connects to the inventory database and verifies it with a ping.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	driver := cfg.driver()
	dsn, err := DSN(driver, cfg.URL, cfg.ReadOnly)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// DSN converts a connection URL into the data source name the driver expects.
func DSN(driver, rawURL string, readOnly bool) (string, error) {
	switch driver {
	case DriverMySQL:
		return mysqlDSN(rawURL)
	case DriverDuckDB:
		return duckDBDSN(rawURL, readOnly), nil
	default:
		return rawURL, nil
	}
}

// mysqlDSN accepts SQLAlchemy style URLs (mysql://, mysql+pymysql://) as well as
// native go-sql-driver DSNs, which pass through unchanged.
func mysqlDSN(rawURL string) (string, error) {
	if !strings.Contains(rawURL, "://") {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid mysql url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "mysql" && !strings.HasPrefix(scheme, "mysql+") {
		return "", fmt.Errorf("invalid mysql url: unsupported scheme %q", u.Scheme)
	}

	cfg := mysql.NewConfig()
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" && u.Hostname() != "" {
		cfg.Addr = net.JoinHostPort(u.Hostname(), "3306")
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")

	params := map[string]string{}
	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		if key == "unix_socket" {
			cfg.Net = "unix"
			cfg.Addr = values[0]
			continue
		}
		params[key] = values[0]
	}
	if len(params) > 0 {
		cfg.Params = params
	}
	return cfg.FormatDSN(), nil
}

func duckDBDSN(rawURL string, readOnly bool) string {
	path := strings.TrimPrefix(rawURL, "duckdb://")
	// In-memory databases cannot be opened read-only.
	if !readOnly || path == "" || path == ":memory:" || strings.Contains(path, "access_mode=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "access_mode=READ_ONLY"
}

// SchemaFor returns the schema to inspect. DuckDB maps the postgres default onto
// "main"; MySQL maps it onto the connection's current database.
func SchemaFor(driver, schema string) string {
	schema = strings.TrimSpace(schema)
	defaulted := schema == "" || schema == "public"
	switch {
	case strings.EqualFold(driver, DriverDuckDB) && defaulted:
		return "main"
	case strings.EqualFold(driver, DriverMySQL) && defaulted:
		return ""
	case schema == "":
		return "public"
	}
	return schema
}
