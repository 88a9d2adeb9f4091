// Package pgstore provides a PostgreSQL implementation of item.Store.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/itemdesk/internal/item"
)

var tracer = otel.Tracer("github.com/linnemanlabs/itemdesk/internal/item/pgstore")

//go:embed schema.sql
var schema string

// ErrDuplicate is returned by Insert when the id already exists.
var ErrDuplicate = errors.New("duplicate item id")

// Store persists items in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store. The caller owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const itemColumns = `id, person_name, description, category, created_at, created_by, resolved, resolved_at`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Insert stores a new item.
func (s *Store) Insert(ctx context.Context, it *item.Item) error {
	ctx, span := startSpan(ctx, "pgstore.Insert", "INSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO items (`+itemColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		it.ID, it.PersonName, it.Description, string(it.Category), it.CreatedAt, it.CreatedBy, it.Resolved, it.ResolvedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fail(span, fmt.Errorf("insert %s: %w", it.ID, ErrDuplicate))
		}
		return fail(span, fmt.Errorf("insert %s: %w", it.ID, err))
	}
	return nil
}

// Get retrieves an item by ID.
func (s *Store) Get(ctx context.Context, id string) (*item.Item, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Get", "SELECT")
	defer span.End()

	it, err := scanItem(s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		return nil, false, fail(span, err)
	}
	if it == nil {
		return nil, false, nil
	}
	return it, true, nil
}

// List returns the items matching q in q.Order.
func (s *Store) List(ctx context.Context, q item.Query) ([]*item.Item, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()
	span.SetAttributes(attribute.Bool("itemdesk.query.resolved", q.Resolved))

	query, args := buildList(q)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query items: %w", err))
	}
	defer rows.Close()

	var out []*item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate items: %w", err))
	}
	span.SetAttributes(attribute.Int("itemdesk.items.returned", len(out)))
	return out, nil
}

func buildList(q item.Query) (string, []any) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE resolved = $1`
	args := []any{q.Resolved}
	if q.Resolved && !q.ResolvedBefore.IsZero() {
		query += ` AND resolved_at <= $2`
		args = append(args, q.ResolvedBefore)
	}
	switch q.Order {
	case item.OrderResolvedDesc:
		query += ` ORDER BY resolved_at DESC NULLS LAST, seq`
	default:
		query += ` ORDER BY seq`
	}
	return query, args
}

// CompareAndSetResolved resolves the item when its resolved flag equals expected.
// The guarded UPDATE is the arbitration point for concurrent resolves.
func (s *Store) CompareAndSetResolved(ctx context.Context, id string, expected bool, at time.Time) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.CompareAndSetResolved", "UPDATE")
	defer span.End()

	if expected {
		return false, nil
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE items SET resolved = TRUE, resolved_at = $2 WHERE id = $1 AND resolved = FALSE`,
		id, at,
	)
	if err != nil {
		return false, fail(span, fmt.Errorf("resolve %s: %w", id, err))
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes the item and reports whether a row was deleted.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Delete", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return false, fail(span, fmt.Errorf("delete %s: %w", id, err))
	}
	return tag.RowsAffected() == 1, nil
}

// scanItem scans a single row. Returns (nil, nil) when no row is found.
func scanItem(row pgx.Row) (*item.Item, error) {
	var (
		it       item.Item
		category string
	)
	err := row.Scan(&it.ID, &it.PersonName, &it.Description, &category, &it.CreatedAt, &it.CreatedBy, &it.Resolved, &it.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}
	it.Category = item.Category(category)
	it.CreatedAt = it.CreatedAt.UTC()
	if it.ResolvedAt != nil {
		t := it.ResolvedAt.UTC()
		it.ResolvedAt = &t
	}
	return &it, nil
}
