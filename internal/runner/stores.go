package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/abates/network-lab-runner/collection"
	"github.com/abates/network-lab-runner/fixture"
	"github.com/abates/network-lab-runner/sqlstore"
	"github.com/abates/network-lab-runner/store"
)

// openStore connects the store for cfg.Driver. The returned close function
// is always safe to call.
func openStore(ctx context.Context, cfg Config, registry *collection.Registry, logger *slog.Logger) (fixture.Store, func(), error) {
	if cfg.Driver == "dynamodb" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		return store.New(dynamodb.NewFromConfig(awsCfg), cfg.Dynamo, registry, logger), func() {}, nil
	}

	s, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN, registry)
	if err != nil {
		return nil, nil, err
	}
	closeStore := func() {
		if err := s.Close(); err != nil {
			logger.Warn("close database failed", "error", err)
		}
	}
	if cfg.Migrations != "" {
		logger.Info("applying migrations", "dir", cfg.Migrations)
		if err := s.ApplyMigrations(ctx, os.DirFS(cfg.Migrations), "."); err != nil {
			closeStore()
			return nil, nil, err
		}
	}
	return s, closeStore, nil
}
