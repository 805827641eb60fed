// ABOUTME: Generic row repository for the tables served by the backend
// ABOUTME: Implements CRUD over models.Record with column validation and ordered, filtered listing
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/harperreed/huddle/models"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrInvalidRecord  = errors.New("invalid record")
	ErrUnknownTable   = errors.New("unknown table")
	ErrUnknownColumn  = errors.New("unknown column")
	ErrConstraint     = errors.New("constraint violation")
)

// Filter is an equality predicate on one column.
type Filter struct {
	Column string
	Value  string
}

// ListOptions narrows and orders a List call.
type ListOptions struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// RowsRepository provides CRUD operations over any data table.
type RowsRepository struct {
	db *sql.DB

	mu      sync.Mutex
	columns map[string]map[string]bool
}

// NewRowsRepository creates a new rows repository.
func NewRowsRepository(db *sql.DB) *RowsRepository {
	return &RowsRepository{db: db, columns: make(map[string]map[string]bool)}
}

// DB returns the underlying handle.
func (r *RowsRepository) DB() *sql.DB {
	return r.db
}

// Columns returns the set of columns of a data table.
func (r *RowsRepository) Columns(ctx context.Context, table string) (map[string]bool, error) {
	if !isDataTable(table) {
		return nil, fmt.Errorf("%s: %w", table, ErrUnknownTable)
	}

	r.mu.Lock()
	cols, ok := r.columns[table]
	r.mu.Unlock()
	if ok {
		return cols, nil
	}

	rows, err := r.db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	cols = make(map[string]bool)
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.columns[table] = cols
	r.mu.Unlock()
	return cols, nil
}

func isDataTable(table string) bool {
	for _, t := range DataTables {
		if t == table {
			return true
		}
	}
	return false
}

// quoteIdent quotes a SQLite identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (r *RowsRepository) checkColumns(ctx context.Context, table string, names ...string) (map[string]bool, error) {
	cols, err := r.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		if !cols[n] {
			return nil, fmt.Errorf("%s.%s: %w", table, n, ErrUnknownColumn)
		}
	}
	return cols, nil
}

// bindValue converts a record value into something the driver accepts.
func bindValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, int64, int, float64, bool, []byte:
		return x, nil
	case time.Time:
		return models.FormatTime(x), nil
	case json.Number:
		return x.String(), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("failed to encode value: %w", err)
		}
		return string(b), nil
	}
}

func wrapWriteErr(err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return err
}

// Create inserts rec into table, filling id and timestamps when absent.
func (r *RowsRepository) Create(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	if rec == nil {
		return nil, ErrInvalidRecord
	}
	rec = rec.Clone()
	if rec.ID() == "" {
		rec["id"] = uuid.New().String()
	}

	cols, err := r.checkColumns(ctx, table, rec.Columns()...)
	if err != nil {
		return nil, err
	}

	now := models.Now()
	for _, c := range []string{"created_at", "updated_at"} {
		if cols[c] && rec.String(c) == "" {
			rec[c] = now
		}
	}

	names := rec.Columns()
	quoted := make([]string, len(names))
	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
		placeholders[i] = "?"
		v, err := bindValue(rec[n])
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", table, wrapWriteErr(err))
	}

	return r.Get(ctx, table, rec.ID())
}

// Get retrieves a row by id.
func (r *RowsRepository) Get(ctx context.Context, table, id string) (models.Record, error) {
	if _, err := r.Columns(ctx, table); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(table)+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", table, id, err)
	}
	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", table, id, ErrRecordNotFound)
	}
	return recs[0], nil
}

// Update applies patch to the row with the given id and returns the new row.
func (r *RowsRepository) Update(ctx context.Context, table, id string, patch models.Record) (models.Record, error) {
	if id == "" || len(patch) == 0 {
		return nil, ErrInvalidRecord
	}
	patch = patch.Clone()
	if pid, ok := patch["id"]; ok && pid != id {
		return nil, fmt.Errorf("cannot change id: %w", ErrInvalidRecord)
	}
	delete(patch, "id")

	cols, err := r.checkColumns(ctx, table, patch.Columns()...)
	if err != nil {
		return nil, err
	}
	if cols["updated_at"] && patch.String("updated_at") == "" {
		patch["updated_at"] = models.Now()
	}

	names := patch.Columns()
	sets := make([]string, len(names))
	args := make([]any, 0, len(names)+1)
	for i, n := range names {
		sets[i] = quoteIdent(n) + " = ?"
		v, err := bindValue(patch[n])
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", quoteIdent(table), strings.Join(sets, ", "))
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s/%s: %w", table, id, wrapWriteErr(err))
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%s/%s: %w", table, id, ErrRecordNotFound)
	}

	return r.Get(ctx, table, id)
}

// Delete removes a row by id and returns what was deleted.
func (r *RowsRepository) Delete(ctx context.Context, table, id string) (models.Record, error) {
	old, err := r.Get(ctx, table, id)
	if err != nil {
		return nil, err
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM "+quoteIdent(table)+" WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to delete %s/%s: %w", table, id, wrapWriteErr(err))
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%s/%s: %w", table, id, ErrRecordNotFound)
	}
	return old, nil
}

// List retrieves rows matching opts.
func (r *RowsRepository) List(ctx context.Context, table string, opts ListOptions) ([]models.Record, error) {
	names := make([]string, 0, len(opts.Filters)+1)
	for _, f := range opts.Filters {
		names = append(names, f.Column)
	}
	if opts.OrderBy != "" {
		names = append(names, opts.OrderBy)
	}
	if _, err := r.checkColumns(ctx, table, names...); err != nil {
		return nil, err
	}

	var b strings.Builder
	var args []any
	b.WriteString("SELECT * FROM " + quoteIdent(table))
	for i, f := range opts.Filters {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(quoteIdent(f.Column) + " = ?")
		args = append(args, f.Value)
	}
	if opts.OrderBy != "" {
		b.WriteString(" ORDER BY " + quoteIdent(opts.OrderBy))
		if opts.Descending {
			b.WriteString(" DESC")
		}
		// Stable order for equal keys.
		b.WriteString(", id")
	} else {
		b.WriteString(" ORDER BY rowid")
	}
	if opts.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, opts.Limit)
	}

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	return scanRecords(rows)
}

// scanRecords reads every row into a Record and closes rows.
func scanRecords(rows *sql.Rows) ([]models.Record, error) {
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	recs := make([]models.Record, 0)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		rec := make(models.Record, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[c] = string(b)
				continue
			}
			rec[c] = values[i]
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}
