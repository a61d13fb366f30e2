package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/httplog/v2"
	"github.com/jmoiron/sqlx"
	"github.com/vadimbarashkov/tinylink/internal/adapter/repository/postgres"
	"github.com/vadimbarashkov/tinylink/internal/adapter/repository/sqlite"
	"github.com/vadimbarashkov/tinylink/internal/config"
	"github.com/vadimbarashkov/tinylink/internal/entity"
	"github.com/vadimbarashkov/tinylink/internal/usecase"
	"github.com/vadimbarashkov/tinylink/migrations"
	"golang.org/x/sync/errgroup"

	delivery "github.com/vadimbarashkov/tinylink/internal/adapter/delivery/http"
	pgpool "github.com/vadimbarashkov/tinylink/pkg/postgres"
	sqlitedb "github.com/vadimbarashkov/tinylink/pkg/sqlite"
)

const (
	serviceName     = "tinylink"
	shutdownTimeout = 10 * time.Second
)

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

type linkStore interface {
	Save(ctx context.Context, code, url string) (*entity.Link, error)
	FindByCode(ctx context.Context, code string) (*entity.Link, error)
	RecordClick(ctx context.Context, code string, now time.Time) error
	Remove(ctx context.Context, code string) error
	List(ctx context.Context) ([]*entity.Link, error)
	Ping(ctx context.Context) error
}

func Run(ctx context.Context, cfg *config.Config) error {
	const op = "app.Run"

	logger := newLogger(cfg)

	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer db.Close()

	logger.Info("store ready", slog.String("driver", cfg.Storage.Driver))

	linkUseCase := usecase.New(store, logger.Logger,
		usecase.WithCodeLength(cfg.ShortCode.Length),
		usecase.WithMaxRetries(cfg.ShortCode.MaxRetries),
		usecase.WithStoreTimeout(cfg.Storage.Timeout),
		usecase.WithReservedCodes(delivery.ReservedCodes...),
	)

	r := delivery.NewRouter(logger, linkUseCase, store,
		delivery.WithPingTimeout(cfg.Storage.Timeout),
		delivery.WithVersion(Version),
	)

	server := &http.Server{
		Addr:           cfg.HTTPServer.Addr(),
		Handler:        r,
		ReadTimeout:    cfg.HTTPServer.ReadTimeout,
		WriteTimeout:   cfg.HTTPServer.WriteTimeout,
		IdleTimeout:    cfg.HTTPServer.IdleTimeout,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error

		logger.Info("starting server", slog.String("addr", server.Addr), slog.String("env", cfg.Env))

		switch cfg.Env {
		case config.EnvProd:
			err = server.ListenAndServeTLS(cfg.HTTPServer.CertFile, cfg.HTTPServer.KeyFile)
		default:
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: server error occurred: %w", op, err)
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s: failed to shutdown server: %w", op, err)
		}

		// Clicks recorded by the last requests still need the store.
		if err := linkUseCase.Wait(shutdownCtx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		logger.Info("server stopped")

		return nil
	})

	return g.Wait()
}

func newLogger(cfg *config.Config) *httplog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	return httplog.NewLogger(serviceName, httplog.Options{
		JSON:     cfg.Env == config.EnvProd,
		LogLevel: level,
		Concise:  cfg.Env == config.EnvDev,
		Tags: map[string]string{
			"env":     cfg.Env,
			"version": Version,
		},
		Writer: os.Stdout,
	})
}

// openStore connects to the configured database, brings its schema up to date
// and returns the link store on top of it.
func openStore(ctx context.Context, cfg *config.Config) (*sqlx.DB, linkStore, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		if err := sqlitedb.RunMigrations(migrations.SQLite, "sqlite", cfg.SQLite.Path); err != nil {
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		db, err := sqlitedb.New(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}

		return db, sqlite.NewLinkRepository(db), nil
	default:
		dsn := cfg.Postgres.DSN()

		db, err := pgpool.New(
			ctx,
			dsn,
			pgpool.WithConnectTimeout(cfg.Postgres.ConnectTimeout),
			pgpool.WithConnMaxIdleTime(cfg.Postgres.ConnMaxIdleTime),
			pgpool.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
			pgpool.WithMaxIdleConns(cfg.Postgres.MaxIdleConns),
			pgpool.WithMaxOpenConns(cfg.Postgres.MaxOpenConns),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := pgpool.RunMigrations(migrations.Postgres, "postgres", dsn); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		return db, postgres.NewLinkRepository(db), nil
	}
}
