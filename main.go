package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"go.uber.org/zap"

	"github.com/meridianhq/meridian-core/pkg/config"
	"github.com/meridianhq/meridian-core/pkg/database"
	"github.com/meridianhq/meridian-core/pkg/handlers"
	"github.com/meridianhq/meridian-core/pkg/logging"
	"github.com/meridianhq/meridian-core/pkg/middleware"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("driver", cfg.Database.Driver),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
	)

	ctx := context.Background()

	registry, cleanup, err := buildRegistry(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer cleanup()

	mux := http.NewServeMux()
	healthHandler := handlers.NewHealthHandler(cfg, registry, logger)
	healthHandler.RegisterRoutes(mux)
	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting meridian-core", zap.String("addr", addr), zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

// buildRegistry connects the configured backend, runs migrations on the
// postgres path, and returns the process-wide container registry.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*database.Registry, func(), error) {
	if cfg.Database.Driver == "sqlserver" {
		db, err := database.NewSQLServerConnection(ctx, cfg.Database.SQLServerURL, int(cfg.Database.MaxConnections))
		if err != nil {
			return nil, nil, err
		}
		return database.NewSQLServerRegistry(db, logger), func() { _ = db.Close() }, nil
	}

	migrationDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		return nil, nil, err
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		_ = migrationDB.Close()
		return nil, nil, err
	}
	_ = migrationDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return database.NewPostgresRegistry(db, logger), db.Close, nil
}
