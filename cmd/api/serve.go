package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"agendas/api/internal/app"
	"agendas/api/internal/attachments"
	"agendas/api/internal/auth"
	"agendas/api/internal/catalogue"
	"agendas/api/internal/engine"
	"agendas/api/internal/export"
	"agendas/api/internal/metrics"
	"agendas/api/internal/search"
	"agendas/api/internal/session"
	"agendas/api/internal/store"
)

// dataStore is what both the SQL and the in-memory stores offer.
type dataStore interface {
	engine.RemoteStore
	search.EntrySearcher
	search.EntryLister
	Ping(ctx context.Context) error
}

// openDatabase returns a nil db for the memory driver.
func openDatabase(ctx context.Context) (*sql.DB, store.Dialect, error) {
	switch cfg.StoreDriver {
	case string(store.Postgres):
		db, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		return db, store.Postgres, err
	case string(store.SQLite):
		db, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		return db, store.SQLite, err
	case "memory":
		return nil, "", nil
	default:
		return nil, "", fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func migrate(ctx context.Context, db *sql.DB, dialect store.Dialect) error {
	migrations, err := store.Migrations(cfg.MigrationsDir)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, dialect, migrations); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	return nil
}

func loadCatalogues() (*catalogue.Registry, error) {
	if cfg.CatalogueDir == "" {
		return catalogue.Builtin()
	}
	return catalogue.Load(os.DirFS(cfg.CatalogueDir))
}

func runServe(ctx context.Context) error {
	catalogues, err := loadCatalogues()
	if err != nil {
		return fmt.Errorf("load catalogues: %w", err)
	}

	db, dialect, err := openDatabase(ctx)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	var (
		data     dataStore
		fallback search.Searcher
	)
	if db == nil {
		logger.Warn("using the memory store, edits will not survive a restart")
		memory := store.NewMemoryStore()
		data, fallback = memory, search.NewStoreSearch(memory)
	} else {
		defer db.Close()
		if err := migrate(ctx, db, dialect); err != nil {
			return err
		}
		var sqlStore *store.SQLStore
		if dialect == store.Postgres {
			sqlStore = store.NewPostgresStore(db)
			fallback = search.NewPgFTS(db)
		} else {
			sqlStore = store.NewSQLiteStore(db)
			fallback = search.NewStoreSearch(sqlStore)
		}
		data = sqlStore
	}

	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("search"))
		defer meili.Close()
		index = meili
	}
	searchService := search.NewService(index, fallback, logger.Named("search"))
	go func() {
		if err := searchService.Reindex(ctx, data); err != nil {
			logger.Warn("initial reindex failed", zap.Error(err))
		}
	}()

	var sessions session.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using Redis for editor sessions")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		sessions = redisStore
	} else {
		logger.Info("keeping editor sessions in memory")
		sessions = session.NewMemoryStore(nil)
	}
	defer sessions.Close()

	files, err := attachments.Open(ctx, attachments.Config{
		Driver:    attachments.Driver(cfg.BlobDriver),
		Bucket:    cfg.BlobBucket,
		Endpoint:  cfg.BlobEndpoint,
		Region:    cfg.BlobRegion,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
		UseSSL:    cfg.BlobUseSSL,
		PathStyle: cfg.BlobPathStyle,
	})
	if err != nil {
		return fmt.Errorf("attachment storage failed: %w", err)
	}

	loginProof, err := auth.NewProxyVerifier(cfg.LoginSecretHash)
	switch {
	case errors.Is(err, auth.ErrLoginDisabled):
		logger.Warn("AGENDA_LOGIN_SECRET_HASH is empty, every login will be refused")
	case err != nil:
		return err
	}

	recorder := metrics.New()
	eng := engine.New(data, catalogues, engine.Options{
		Logger:   logger.Named("engine"),
		Observer: recorder,
		Indexer:  searchService,
	})
	service := app.New(cfg, app.Dependencies{
		Engine:   eng,
		Store:    data,
		Sessions: sessions,
		Files:    files,
		Search:   searchService,
		Export:   export.NewService(export.Options{Logger: logger.Named("export")}),
		Metrics:  recorder,
		Logger:   logger,

		LoginProof: loginProof,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("agendas API listening",
			zap.String("addr", cfg.Addr),
			zap.String("store", cfg.StoreDriver),
			zap.String("files", string(files.Driver())),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	// Editors close after the listener stops taking requests.
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("flushing editors on shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
