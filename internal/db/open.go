package db

import (
	"context"
	"fmt"

	"github.com/kidandcat/teamsync/internal/config"
)

// Open connects the backend named by cfg.Storage.Backend and stacks the
// retry and metrics layers from opts on top of it.
func Open(ctx context.Context, cfg config.Config, opts Options) (*Gateway, error) {
	if opts.Retryer == nil && cfg.Storage.Retries > 0 {
		opts.Retryer = NewExponentialBackoff(cfg.Storage.Retries, cfg.Storage.RetryInitial, cfg.Storage.RetryMax)
	}

	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		s, err := OpenSQLite(cfg.SQLitePath())
		if err != nil {
			return nil, err
		}
		opts.Logger.Info().Str("path", cfg.SQLitePath()).Msg("using sqlite storage")
		return s.Gateway(opts), nil
	case config.BackendSurreal:
		s, err := OpenSurreal(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		opts.Logger.Info().Str("url", cfg.Storage.SurrealURL).Msg("using surrealdb storage")
		return s.Gateway(opts), nil
	case config.BackendMemory:
		opts.Logger.Warn().Msg("using in-memory storage, data is lost on exit")
		return NewMemory().Gateway(opts), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
