package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kasirlite/backend/internal/cache"
	"kasirlite/backend/internal/config"
	"kasirlite/backend/internal/export"
	"kasirlite/backend/internal/httpapi"
	"kasirlite/backend/internal/metrics"
	"kasirlite/backend/internal/service"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	a, err := bootstrap(bootCtx, bootOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			a.logger.Warn("close error", zap.Error(err))
		}
	}()

	reportCache := openReportCache(bootCtx, a)
	m := metrics.New()
	engine, err := a.engine(bootCtx, service.Options{
		ReportCache:    reportCache,
		ReportCacheTTL: time.Duration(a.cfg.ReportCacheTTLSeconds) * time.Second,
		Metrics:        m,
	})
	if err != nil {
		return err
	}
	m.DrawerOpen(engine.DrawerStatus().Open)

	api := httpapi.New(engine, export.New(engine), m, a.logger, a.cfg.AllowedOrigin)
	server := &http.Server{
		Addr:              a.cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("POS backend listening", zap.String("addr", a.cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("shutdown error", zap.Error(err))
	}
	a.logger.Info("server stopped")
	return nil
}

// openReportCache falls back to no caching when Redis is not configured or
// does not answer.
func openReportCache(ctx context.Context, a *app) cache.ReportCache {
	if a.cfg.RedisAddr == "" {
		a.logger.Info("report cache: noop")
		return cache.NoopReportCache{}
	}
	redisCache := cache.NewRedisReportCache(a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		a.logger.Warn("redis unavailable, using noop report cache", zap.String("addr", a.cfg.RedisAddr), zap.Error(err))
		_ = redisCache.Close()
		return cache.NoopReportCache{}
	}
	a.closers = append(a.closers, redisCache.Close)
	a.logger.Info("report cache: redis", zap.String("addr", a.cfg.RedisAddr))
	return redisCache
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap(cmd.Context(), bootOptions{migrate: true})
			if err != nil {
				return err
			}
			defer a.close()

			if a.cfg.DBDriver == config.DriverMemory {
				fmt.Fprintln(cmd.OutOrStdout(), "memory driver has no schema; nothing to migrate")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", a.cfg.DBDriver)
			return nil
		},
	}
}
