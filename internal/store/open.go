package store

import (
	"context"
	"fmt"
	"log/slog"

	"greencart-sim/internal/config"
)

// Open returns the driver selected by cfg. Postgres schemas are created on open.
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "badger":
		return OpenBadger(BadgerOptions{Path: cfg.Path, Logger: logger})
	case "postgres":
		pg, err := OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := pg.InitSchema(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("open store: unknown driver %q", cfg.Driver)
	}
}
