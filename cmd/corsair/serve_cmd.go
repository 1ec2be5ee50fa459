package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/grcorsair/corsair/pkg/api"
	"github.com/grcorsair/corsair/pkg/config"
	"github.com/grcorsair/corsair/pkg/credential"
	"github.com/grcorsair/corsair/pkg/keys"
	"github.com/grcorsair/corsair/pkg/observability"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the issuance and verification HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			provider, err := observability.Setup(ctx, &observability.Config{
				ServiceName:    "corsair",
				ServiceVersion: credential.GeneratorVersion,
				OTLPEndpoint:   cfg.OTLPEndpoint,
				BatchTimeout:   5 * time.Second,
			}, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = provider.Shutdown(shutdownCtx)
			}()

			mgr, err := keys.NewFileManager(cfg.KeysDir)
			if err != nil {
				return err
			}
			if !mgr.Loaded() {
				if err := mgr.Generate(); err != nil {
					return err
				}
				slog.Info("generated signing keypair", "dir", cfg.KeysDir)
			}

			scittLog, err := openSCITT(cfg, mgr)
			if err != nil {
				return err
			}

			store, err := idempotencyStore(cfg)
			if err != nil {
				return err
			}

			gen := credential.NewGenerator(mgr, scittLog)
			issuer := credential.NewIdempotentIssuer(gen, store)
			server := api.NewServer(issuer, mgr, cfg.Domain)

			httpServer := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("listening", "port", cfg.Port, "domain", cfg.Domain)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			}
		},
	}
	return cmd
}

// idempotencyStore picks the durable backend: redis when configured,
// postgres when DATABASE_URL is set, sqlite otherwise. The issuer still
// keeps its bounded in-memory fallback for store outages.
func idempotencyStore(cfg *config.Config) (credential.ResponseStore, error) {
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return api.NewRedisIdempotencyStore(client), nil
	}
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return api.NewSQLIdempotencyStore(db, true)
	}
	db, err := sql.Open("sqlite", cfg.SCITTDBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return api.NewSQLIdempotencyStore(db, false)
}
