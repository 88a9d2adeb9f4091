// Package sqlstore implements item.Store over database/sql for SQLite and MySQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/itemdesk/internal/item"
)

// ErrDuplicate is returned by Insert when the id already exists.
var ErrDuplicate = errors.New("duplicate item id")

// Store persists items through database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects with d's driver, applies migrations, and returns a ready Store.
func Open(ctx context.Context, d Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	if d.maxOpenConns > 0 {
		db.SetMaxOpenConns(d.maxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}
	if err := Migrate(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, dialect: d}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const itemColumns = `id, person_name, description, category, created_at, created_by, resolved, resolved_at`

// Insert stores a new item.
func (s *Store) Insert(ctx context.Context, it *item.Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.PersonName, it.Description, string(it.Category),
		toMicros(it.CreatedAt), it.CreatedBy, it.Resolved, nullMicros(it.ResolvedAt),
	)
	if err != nil {
		if s.dialect.isDuplicate != nil && s.dialect.isDuplicate(err) {
			return fmt.Errorf("insert %s: %w", it.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert %s: %w", it.ID, err)
	}
	return nil
}

// Get retrieves an item by ID.
func (s *Store) Get(ctx context.Context, id string) (*item.Item, bool, error) {
	it, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return it, true, nil
}

// List returns the items matching q in q.Order.
func (s *Store) List(ctx context.Context, q item.Query) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE resolved = ?`
	args := []any{q.Resolved}
	if q.Resolved && !q.ResolvedBefore.IsZero() {
		query += ` AND resolved_at <= ?`
		args = append(args, toMicros(q.ResolvedBefore))
	}
	if q.Order == item.OrderResolvedDesc {
		query += ` ORDER BY resolved_at DESC, seq`
	} else {
		query += ` ORDER BY seq`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}

// CompareAndSetResolved resolves the item when its resolved flag equals expected.
func (s *Store) CompareAndSetResolved(ctx context.Context, id string, expected bool, at time.Time) (bool, error) {
	if expected {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE items SET resolved = ?, resolved_at = ? WHERE id = ? AND resolved = ?`,
		true, toMicros(at), id, false,
	)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve %s: rows affected: %w", id, err)
	}
	return n == 1, nil
}

// Delete removes the item and reports whether a row was deleted.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s: rows affected: %w", id, err)
	}
	return n == 1, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*item.Item, error) {
	var (
		it         item.Item
		category   string
		createdAt  int64
		resolvedAt sql.NullInt64
	)
	err := row.Scan(&it.ID, &it.PersonName, &it.Description, &category, &createdAt, &it.CreatedBy, &it.Resolved, &resolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	it.Category = item.Category(category)
	it.CreatedAt = fromMicros(createdAt)
	if resolvedAt.Valid {
		t := fromMicros(resolvedAt.Int64)
		it.ResolvedAt = &t
	}
	return &it, nil
}

// Times are stored as UTC unix microseconds, the precision shared by every backend.
func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}
