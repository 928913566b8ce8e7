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

	"tempo/api/internal/app"
	"tempo/api/internal/config"
	"tempo/api/internal/email"
	"tempo/api/internal/export"
	"tempo/api/internal/livetimer"
	"tempo/api/internal/notify"
	"tempo/api/internal/store"
)

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

	dataStore := store.NewPostgresStore(db)

	liveStore, err := livetimer.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer liveStore.Close()

	broker, err := notify.NewBroker(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer broker.Close()

	service := app.New(cfg, dataStore, liveStore, broker, app.RoleAuthorizer{})

	mailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailService.IsConfigured() {
		log.Printf("Allocation warning emails enabled")
		service = service.WithMailer(mailService)
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archive, err := export.NewArchiver(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("object storage connection failed: %v", err)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			log.Printf("WARNING: export archive bucket unavailable: %v", err)
		} else {
			log.Printf("Archiving timesheet exports to bucket %s", cfg.MinioBucket)
			service = service.WithArchiver(archive)
		}
	}

	httpServer := app.NewHTTPServer(service, broker, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: /api/events holds long-lived SSE streams.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Tempo API listening on %s", cfg.Addr)
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
