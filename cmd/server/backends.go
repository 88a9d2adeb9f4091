package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/linnemanlabs/go-core/log"

	vc "github.com/linnemanlabs/itemdesk/internal/cfg"
	"github.com/linnemanlabs/itemdesk/internal/identity"
	"github.com/linnemanlabs/itemdesk/internal/identity/pgprofiles"
	"github.com/linnemanlabs/itemdesk/internal/item"
	"github.com/linnemanlabs/itemdesk/internal/item/memstore"
	"github.com/linnemanlabs/itemdesk/internal/item/pgstore"
	"github.com/linnemanlabs/itemdesk/internal/item/sqlstore"
	"github.com/linnemanlabs/itemdesk/internal/postgres"
)

// backends owns the connections opened for the configured store and
// identity backends. The postgres pool is shared when both use it.
type backends struct {
	pool    *pgxpool.Pool
	closers []func()
}

func (b *backends) postgresPool(ctx context.Context, appCfg *vc.Config) (*pgxpool.Pool, error) {
	if b.pool != nil {
		return b.pool, nil
	}
	pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL, postgres.PoolConfig{
		SlowQuery: 200 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	b.pool = pool
	b.closers = append(b.closers, pool.Close)
	return pool, nil
}

// Close releases everything in reverse order of opening.
func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func (b *backends) openStore(ctx context.Context, L log.Logger, appCfg *vc.Config) (item.Store, error) {
	switch appCfg.Store {
	case vc.StorePostgres:
		pool, err := b.postgresPool(ctx, appCfg)
		if err != nil {
			return nil, err
		}
		s, err := pgstore.New(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("pgstore init: %w", err)
		}
		L.Info(ctx, "using postgres store")
		return s, nil

	case vc.StoreSQLite, vc.StoreMySQL:
		d, _ := sqlstore.ParseDialect(appCfg.Store)
		dsn := appCfg.SQLitePath
		if appCfg.Store == vc.StoreMySQL {
			dsn = appCfg.MySQLDSN
		}
		s, err := sqlstore.Open(ctx, d, dsn)
		if err != nil {
			return nil, fmt.Errorf("sqlstore init: %w", err)
		}
		b.closers = append(b.closers, func() { _ = s.Close() })
		L.Info(ctx, "using sql store", "dialect", d.Name)
		return s, nil

	default:
		L.Info(ctx, "using in-memory store")
		return memstore.New(), nil
	}
}

func (b *backends) openIdentity(ctx context.Context, L log.Logger, appCfg *vc.Config) (identity.Gateway, error) {
	users, err := parseSeedUsers(appCfg.StaticUsers)
	if err != nil {
		return nil, err
	}

	if appCfg.Identity != vc.IdentityPostgres {
		L.Info(ctx, "using static identity", "users", len(users))
		return identity.NewStatic(users), nil
	}

	pool, err := b.postgresPool(ctx, appCfg)
	if err != nil {
		return nil, err
	}
	profiles, err := pgprofiles.New(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("pgprofiles init: %w", err)
	}
	for _, u := range users {
		if err := profiles.Upsert(ctx, &pgprofiles.Profile{ID: u.ID, Role: u.Role}, u.Token); err != nil {
			return nil, fmt.Errorf("seed profiles: %w", err)
		}
	}
	L.Info(ctx, "using postgres identity", "seeded", len(users))
	return profiles, nil
}

func parseSeedUsers(spec string) ([]identity.User, error) {
	if spec == "" {
		return nil, nil
	}
	users, err := identity.ParseUsers(spec)
	if err != nil {
		return nil, fmt.Errorf("static users: %w", err)
	}
	return users, nil
}
