package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/randalmurphal/toolgraph/pkg/toolgraph/store"
)

// OpenStore opens the store selected by databaseURL: in-memory when empty,
// Postgres for postgres:// and postgresql:// URLs, otherwise SQLite at the
// given path (":memory:" allowed, optional sqlite:// prefix).
func OpenStore(ctx context.Context, databaseURL string) (store.Store, error) {
	switch {
	case databaseURL == "":
		return store.NewMemoryStore(), nil

	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		pg, err := store.NewPostgresStore(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.CreateTables(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("create tables: %w", err)
		}
		return pg, nil

	default:
		return store.NewSQLiteStore(strings.TrimPrefix(databaseURL, "sqlite://"))
	}
}
