package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"richfield/internal/app"
	"richfield/internal/config"
	"richfield/internal/export"
	"richfield/internal/gitrepo"
	"richfield/internal/search"
	"richfield/internal/session"
	"richfield/internal/store"
	"richfield/internal/toolbar"
)

type sessionBackend interface {
	Save(context.Context, session.Snapshot, time.Duration) error
	Load(context.Context, string) (session.Snapshot, error)
	ListByField(context.Context, string) ([]session.Snapshot, error)
	Delete(context.Context, string) error
	Ping(context.Context) error
	Close() error
}

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	bar := toolbar.Default()
	if strings.TrimSpace(cfg.ToolbarFile) != "" {
		bar, err = toolbar.Load(cfg.ToolbarFile)
		if err != nil {
			log.Fatalf("toolbar config: %v", err)
		}
	}

	pgfts := search.NewPgFTS(db)
	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		index = meiliClient
	}
	searchService := search.NewService(index, pgfts)
	defer searchService.Flush()

	var sessions sessionBackend
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for editing sessions")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		sessions = redisStore
	} else {
		log.Printf("Using process memory for editing sessions")
		sessions = session.NewMemoryStore()
	}
	defer sessions.Close()

	var artifacts export.ArtifactStore
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		minioStore, err := export.NewMinioStore(ctx, export.MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Printf("WARNING: export uploads disabled: %v", err)
		} else {
			artifacts = minioStore
		}
	}

	service := app.New(cfg, app.Deps{
		Store:     store.NewPostgresStore(db),
		Git:       gitrepo.New(cfg.ReposDir),
		Sessions:  sessions,
		Search:    searchService,
		Records:   pgfts,
		Artifacts: artifacts,
		Toolbar:   bar,
	})
	if index != nil {
		go service.Reindex(ctx)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Richfield API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
