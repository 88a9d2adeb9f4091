// Package pgprofiles implements identity.Gateway over a PostgreSQL profiles table.
package pgprofiles

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/itemdesk/internal/identity"
	"github.com/linnemanlabs/itemdesk/internal/item"
)

var tracer = otel.Tracer("github.com/linnemanlabs/itemdesk/internal/identity/pgprofiles")

//go:embed schema.sql
var schema string

// Profile is a row of the profiles table.
type Profile struct {
	ID       string
	Username string
	FullName string
	Role     item.Role
}

// Store reads profiles from PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on pool and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
	))
}

// Authenticate implements identity.Gateway by matching the token digest.
func (s *Store) Authenticate(ctx context.Context, c identity.Credentials) (identity.Session, error) {
	ctx, span := startSpan(ctx, "pgprofiles.Authenticate")
	defer span.End()

	if c.Token == "" {
		return identity.Session{}, identity.ErrInvalidCredentials
	}
	h := identity.HashToken(c.Token)

	var id string
	err := s.pool.QueryRow(ctx, `SELECT id FROM profiles WHERE token_sha256 = $1`, h[:]).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return identity.Session{}, identity.ErrInvalidCredentials
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return identity.Session{}, fmt.Errorf("authenticate: %w", err)
	}
	return identity.Session{UserID: id, Token: c.Token}, nil
}

// Role implements identity.Gateway and item.RoleSource.
func (s *Store) Role(ctx context.Context, userID string) (item.Role, error) {
	ctx, span := startSpan(ctx, "pgprofiles.Role")
	defer span.End()

	var role string
	err := s.pool.QueryRow(ctx, `SELECT role FROM profiles WHERE id = $1`, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", item.ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("lookup role %s: %w", userID, err)
	}
	r, ok := identity.ParseRole(role)
	if !ok {
		return "", fmt.Errorf("profile %s has unknown role %q", userID, role)
	}
	return r, nil
}

// Get returns the profile for userID.
func (s *Store) Get(ctx context.Context, userID string) (*Profile, bool, error) {
	ctx, span := startSpan(ctx, "pgprofiles.Get")
	defer span.End()

	var (
		p    Profile
		role string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, full_name, role FROM profiles WHERE id = $1`, userID,
	).Scan(&p.ID, &p.Username, &p.FullName, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, fmt.Errorf("get profile %s: %w", userID, err)
	}
	p.Role = item.Role(role)
	return &p, true, nil
}

// Upsert creates or updates p and sets its API token.
func (s *Store) Upsert(ctx context.Context, p *Profile, token string) error {
	ctx, span := startSpan(ctx, "pgprofiles.Upsert")
	defer span.End()

	if _, ok := identity.ParseRole(string(p.Role)); !ok {
		return fmt.Errorf("upsert profile %s: unknown role %q", p.ID, p.Role)
	}
	username := p.Username
	if username == "" {
		username = p.ID
	}
	h := identity.HashToken(token)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (id, username, full_name, role, token_sha256)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			username     = EXCLUDED.username,
			full_name    = EXCLUDED.full_name,
			role         = EXCLUDED.role,
			token_sha256 = EXCLUDED.token_sha256`,
		p.ID, username, p.FullName, string(p.Role), h[:],
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert profile %s: %w", p.ID, err)
	}
	return nil
}
