package inventorydb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const columnsQuery = `SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = $1
ORDER BY table_name, ordinal_position`

// mysqlColumnsQuery falls back to the connection's database when no schema is set.
const mysqlColumnsQuery = `SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = COALESCE(NULLIF(?, ''), DATABASE())
ORDER BY table_name, ordinal_position`

type column struct {
	name     string
	dataType string
	nullable bool
}

// Inspector renders the inventory schema as CREATE TABLE text for the prompt and caches it.
type Inspector struct {
	db            *sql.DB
	query         string
	schema        string
	includeTables []string
	logger        *slog.Logger

	mu          sync.RWMutex
	text        string
	lastRefresh time.Time
}

// NewInspector constructs an inspector for cfg.Schema. cfg.IncludeTables limits output when non-empty.
func NewInspector(db *sql.DB, cfg Config, logger *slog.Logger) *Inspector {
	if logger == nil {
		logger = slog.Default()
	}
	driver := cfg.driver()
	query := columnsQuery
	if driver == DriverMySQL {
		query = mysqlColumnsQuery
	}
	return &Inspector{
		db:            db,
		query:         query,
		schema:        SchemaFor(driver, cfg.Schema),
		includeTables: cfg.IncludeTables,
		logger:        logger.With("component", "inventorydb.inspector"),
	}
}

// TableInfo returns the cached schema text, loading it on first use.
func (i *Inspector) TableInfo(ctx context.Context) (string, error) {
	i.mu.RLock()
	text := i.text
	i.mu.RUnlock()
	if text != "" {
		return text, nil
	}
	return i.Refresh(ctx)
}

// LastRefresh reports when the cache was last loaded.
func (i *Inspector) LastRefresh() time.Time {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.lastRefresh
}

// Refresh reloads the schema from information_schema and replaces the cache.
func (i *Inspector) Refresh(ctx context.Context) (string, error) {
	rows, err := i.db.QueryContext(ctx, i.query, i.schema)
	if err != nil {
		return "", fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	tables := make(map[string][]column)
	var order []string
	for rows.Next() {
		var (
			table, name, dataType, nullable string
		)
		if err := rows.Scan(&table, &name, &dataType, &nullable); err != nil {
			return "", fmt.Errorf("scan column: %w", err)
		}
		if _, ok := tables[table]; !ok {
			order = append(order, table)
		}
		tables[table] = append(tables[table], column{
			name:     name,
			dataType: dataType,
			nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	selected, err := i.selectTables(order, tables)
	if err != nil {
		return "", err
	}
	if len(selected) == 0 {
		return "", fmt.Errorf("schema %q has no tables", i.schemaName())
	}

	blocks := make([]string, 0, len(selected))
	for _, table := range selected {
		blocks = append(blocks, renderTable(table, tables[table]))
	}
	text := strings.Join(blocks, "\n\n")

	i.mu.Lock()
	i.text = text
	i.lastRefresh = time.Now().UTC()
	i.mu.Unlock()

	i.logger.Info("schema loaded", "schema", i.schemaName(), "tables", len(selected))
	return text, nil
}

func (i *Inspector) selectTables(found []string, tables map[string][]column) ([]string, error) {
	if len(i.includeTables) == 0 {
		sort.Strings(found)
		return found, nil
	}
	var missing []string
	for _, name := range i.includeTables {
		if _, ok := tables[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("include tables %v not found in schema %q", missing, i.schemaName())
	}
	return append([]string(nil), i.includeTables...), nil
}

func (i *Inspector) schemaName() string {
	if i.schema == "" {
		return "current database"
	}
	return i.schema
}

func renderTable(table string, columns []column) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(table)
	b.WriteString(" (\n")
	for idx, col := range columns {
		b.WriteString("\t")
		b.WriteString(col.name)
		b.WriteString(" ")
		b.WriteString(strings.ToUpper(col.dataType))
		if !col.nullable {
			b.WriteString(" NOT NULL")
		}
		if idx < len(columns)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
	return b.String()
}
