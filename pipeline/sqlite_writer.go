package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-listings/models"

	_ "modernc.org/sqlite"
)

const sqliteTable = "items"

// SQLiteWriter stores records as rows of a single TEXT-column table. The
// table is created from the first record's field names.
type SQLiteWriter struct {
	db      *sql.DB
	path    string
	columns []string
	mu      sync.Mutex
}

// NewSQLiteWriter creates a fresh database at filename, replacing any
// existing file.
func NewSQLiteWriter(filename string) (*SQLiteWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	if err := os.Remove(filename); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove old sqlite file: %w", err)
	}

	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &SQLiteWriter{db: db, path: filename}, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (sw *SQLiteWriter) createTable(ctx context.Context, tx *sql.Tx) error {
	defs := make([]string, len(sw.columns))
	for i, col := range sw.columns {
		defs[i] = quoteIdent(col) + " TEXT"
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(sqliteTable), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Write inserts records in one transaction.
func (sw *SQLiteWriter) Write(records []models.Record) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if len(records) == 0 {
		return nil
	}
	ctx := context.Background()

	tx, err := sw.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite tx: %w", err)
	}
	defer tx.Rollback()

	if sw.columns == nil {
		sw.columns = records[0].Names()
		if err := sw.createTable(ctx, tx); err != nil {
			return err
		}
	}

	quoted := make([]string, len(sw.columns))
	marks := make([]string, len(sw.columns))
	for i, col := range sw.columns {
		quoted[i] = quoteIdent(col)
		marks[i] = "?"
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(sqliteTable), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		values := record.Values(sw.columns)
		args := make([]any, len(values))
		for i, v := range values {
			args[i] = v
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert sqlite row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite tx: %w", err)
	}
	return nil
}

// Validate ensures at least one row was stored.
func (sw *SQLiteWriter) Validate() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	if sw.columns == nil {
		return fmt.Errorf("sqlite table was never created")
	}
	var n int
	if err := sw.db.QueryRow("SELECT COUNT(*) FROM " + quoteIdent(sqliteTable)).Scan(&n); err != nil {
		return fmt.Errorf("count sqlite rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite table is empty")
	}
	return nil
}

func (sw *SQLiteWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.db.Close()
}
