package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/lookup"
	"github.com/sells-group/campaignfin/internal/metrics"
	"github.com/sells-group/campaignfin/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve candidate lookups and matches over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		store, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		cache, closeCache, err := profileCache(ctx)
		if err != nil {
			return err
		}
		defer closeCache()

		svc := lookup.NewService(lookup.WithCache(cache), lookup.WithMetrics(metrics.Default()), lookup.WithReceipts(store))
		reloader := server.NewReloader(store, svc, time.Duration(cfg.Server.ReloadSecs)*time.Second)
		if _, err := reloader.Reload(ctx); err != nil {
			// Keep serving; /health reports no_snapshot until a reload succeeds.
			zap.L().Warn("initial snapshot load failed", zap.Error(err))
		}
		go reloader.Run(ctx)

		router := server.NewRouter(svc, server.Options{
			CORSOrigins: cfg.Server.CORSOrigins,
			MaxBatch:    cfg.Server.MaxBatch,
		})
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(cfg.Server.ShutdownSecs)*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// profileCache picks Redis when lookup.redis_url is set, else an
// in-process LRU.
func profileCache(ctx context.Context) (lookup.Cache, func(), error) {
	if cfg.Lookup.RedisURL == "" {
		return lookup.NewMemoryCache(cfg.Lookup.CacheSize, cfg.Lookup.CacheTTL()), func() {}, nil
	}
	client, err := lookup.DialRedis(ctx, cfg.Lookup.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return lookup.NewRedisCache(client, cfg.Lookup.CacheTTL()), func() { _ = client.Close() }, nil
}
