package inventorydb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrEmptyQuery is returned for blank statements.
	ErrEmptyQuery = errors.New("query cannot be empty")
	// ErrNotReadOnly is returned when the read-only guard rejects a statement.
	ErrNotReadOnly = errors.New("only SELECT or WITH queries are allowed")
	// ErrMultipleStatements is returned when more than one statement is submitted.
	ErrMultipleStatements = errors.New("only a single statement is allowed")
)

// Result is a fully materialized query result.
type Result struct {
	Columns []string
	Rows    [][]any
	// Text renders the rows as a list of tuples, e.g. [(91,)].
	Text string
}

// Executor runs generated statements against the inventory database.
type Executor struct {
	db       *sql.DB
	driver   string
	timeout  time.Duration
	readOnly bool
	logger   *slog.Logger
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// NewExecutor constructs an executor. When cfg.ReadOnly is set only SELECT/WITH
// statements run, inside a transaction that is always rolled back.
func NewExecutor(db *sql.DB, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		db:       db,
		driver:   cfg.driver(),
		timeout:  cfg.QueryTimeout,
		readOnly: cfg.ReadOnly,
		logger:   logger.With("component", "inventorydb.executor"),
	}
}

// Run executes the statement as given and collects every row.
func (e *Executor) Run(ctx context.Context, query string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Result{}, ErrEmptyQuery
	}
	if e.readOnly {
		if err := ValidateReadOnly(query); err != nil {
			return Result{}, err
		}
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var q queryer = e.db
	// go-duckdb has no read-only transactions; the file is opened with access_mode=READ_ONLY instead.
	if e.readOnly && e.driver != DriverDuckDB {
		tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return Result{}, fmt.Errorf("begin read-only transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		q = tx
	}

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read columns: %w", err)
	}
	kinds := make([]columnKind, len(columns))
	if types, err := rows.ColumnTypes(); err == nil {
		for i, ct := range types {
			kinds[i] = kindOf(ct.DatabaseTypeName())
		}
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			values[i] = normalizeValue(v, kinds[i])
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	e.logger.Debug("query executed", "columns", len(columns), "rows", len(out))
	return Result{Columns: columns, Rows: out, Text: FormatRows(out)}, nil
}

// ValidateReadOnly accepts a single SELECT or WITH statement and rejects any
// data-changing keyword outside comments, quoted literals and quoted identifiers.
// It is a fast path; the read-only transaction in Run is what the database enforces.
func ValidateReadOnly(query string) error {
	words, split := sqlWords(query)
	if len(words) == 0 {
		return ErrEmptyQuery
	}
	if words[0] != "select" && words[0] != "with" {
		return ErrNotReadOnly
	}
	if split {
		return ErrMultipleStatements
	}
	for _, w := range words[1:] {
		if _, ok := writeKeywords[w]; ok {
			return fmt.Errorf("%w: %s is not allowed", ErrNotReadOnly, strings.ToUpper(w))
		}
	}
	return nil
}

var writeKeywords = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "merge": {}, "upsert": {},
	"drop": {}, "alter": {}, "create": {}, "truncate": {}, "rename": {},
	"grant": {}, "revoke": {}, "copy": {}, "call": {}, "into": {},
	"attach": {}, "detach": {}, "lock": {},
}

// sqlWords lowercases the bare words of q, skipping comments, quoted literals
// and quoted identifiers. split reports text after a statement separator.
func sqlWords(q string) (words []string, split bool) {
	separated := false
	for i := 0; i < len(q); {
		c := q[i]
		switch {
		case c == '-' && strings.HasPrefix(q[i:], "--"):
			end := strings.IndexByte(q[i:], '\n')
			if end < 0 {
				return words, split
			}
			i += end + 1
		case c == '/' && strings.HasPrefix(q[i:], "/*"):
			end := strings.Index(q[i+2:], "*/")
			if end < 0 {
				return words, split
			}
			i += end + 4
		case c == '\'' || c == '"' || c == '`':
			split = split || separated
			i = skipQuoted(q, i, c)
		case c == ';':
			separated = true
			i++
		case isWordByte(c):
			start := i
			for i < len(q) && isWordByte(q[i]) {
				i++
			}
			split = split || separated
			words = append(words, strings.ToLower(q[start:i]))
		default:
			if separated && !isSpaceByte(c) {
				split = true
			}
			i++
		}
	}
	return words, split
}

// skipQuoted returns the index just past the quoted run starting at q[i].
// Doubled quotes and backslash escapes stay inside the run.
func skipQuoted(q string, i int, quote byte) int {
	for j := i + 1; j < len(q); j++ {
		switch q[j] {
		case '\\':
			j++
		case quote:
			if j+1 < len(q) && q[j+1] == quote {
				j++
				continue
			}
			return j + 1
		}
	}
	return len(q)
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 0x80 ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

type columnKind int

const (
	kindUnknown columnKind = iota
	kindNumeric
	kindOther
)

func kindOf(typeName string) columnKind {
	switch strings.ToUpper(typeName) {
	case "":
		return kindUnknown
	case "INT", "INT2", "INT4", "INT8", "INTEGER", "SMALLINT", "BIGINT", "HUGEINT", "TINYINT", "MEDIUMINT",
		"UINTEGER", "UBIGINT", "USMALLINT", "UTINYINT",
		"UNSIGNED INT", "UNSIGNED BIGINT", "UNSIGNED SMALLINT", "UNSIGNED TINYINT", "UNSIGNED MEDIUMINT",
		"NUMERIC", "DECIMAL", "FLOAT", "FLOAT4", "FLOAT8", "REAL", "DOUBLE", "DOUBLE PRECISION":
		return kindNumeric
	}
	return kindOther
}

// number marks a value that must render without quotes.
type number string

func normalizeValue(v any, kind columnKind) any {
	switch val := v.(type) {
	case []byte:
		return normalizeValue(string(val), kind)
	case string:
		if kind == kindNumeric || (kind == kindUnknown && looksNumeric(val)) {
			return number(val)
		}
		return val
	default:
		return val
	}
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// FormatRows renders rows as a list of tuples: [(91,)] or [('Nike', 12.5), ...].
func FormatRows(rows [][]any) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(formatValue(v))
		}
		if len(row) == 1 {
			b.WriteByte(',')
		}
		b.WriteByte(')')
	}
	b.WriteByte(']')
	return b.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "None"
	case number:
		return string(val)
	case string:
		return "'" + strings.ReplaceAll(val, "'", `\'`) + "'"
	case bool:
		if val {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case time.Time:
		return "'" + val.Format("2006-01-02 15:04:05") + "'"
	default:
		return fmt.Sprint(val)
	}
}
