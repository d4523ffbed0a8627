package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/todmy/psychometrics/internal/api"
	"github.com/todmy/psychometrics/internal/auth"
	"github.com/todmy/psychometrics/internal/config"
	"github.com/todmy/psychometrics/internal/logging"
	"github.com/todmy/psychometrics/internal/session"
	"github.com/todmy/psychometrics/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "psychometrics server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(".")
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Config{
		Directory:  cfg.Logging.Directory,
		Level:      cfg.Logging.Level,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		return err
	}
	defer log.Sync()

	sc, err := cfg.Analysis.Session()
	if err != nil {
		return err
	}
	analysis := session.NewService(sc, log)

	cfg.Watch(log, func(next *config.Config) {
		sc, err := next.Analysis.Session()
		if err != nil {
			log.Error("Ignoring invalid analysis settings", zap.Error(err))
			return
		}
		analysis.UpdateConfig(sc)
	})
	log.Info("Configuration loaded", zap.String("file", cfg.File()))

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if cfg.Database.Migrate {
		if err := storage.Migrate(context.Background(), db); err != nil {
			return err
		}
	}

	authService := auth.NewJWTService(auth.Config{
		SecretKey:     cfg.Auth.JWTSecret,
		TokenDuration: cfg.Auth.TokenDuration,
	}, auth.NewPostgresRepository(db))

	server := api.NewServer(api.ServerConfig{
		Analysis:    analysis,
		Auth:        authService,
		Sessions:    storage.NewPostgresSessionRepository(db),
		Blocks:      storage.NewPostgresBlockRepository(db),
		Curves:      storage.NewPostgresCurveRepository(db),
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      log,
	})

	log.Info("Starting psychometrics server", zap.String("port", cfg.Server.Port))
	return server.Run(":" + cfg.Server.Port)
}
