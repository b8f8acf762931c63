package database

import (
	"context"
	"fmt"

	"boxes-go/internal/config"
)

// NewStoreFromConfig opens the store described by the database config.
func NewStoreFromConfig(ctx context.Context, cfg *config.Config, opts Options) (*SQLiteStore, error) {
	dbCfg := cfg.Database
	opts.SeedSampleData = opts.SeedSampleData || dbCfg.SeedSampleData

	switch dbCfg.Type {
	case "sqlite":
		if dbCfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return Open(ctx, cfg.StorePath(), opts)
	case "memory":
		return Open(ctx, MemoryPath, opts)
	default:
		return nil, fmt.Errorf("unknown database type: %s", dbCfg.Type)
	}
}
