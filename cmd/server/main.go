package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"kvkstats/internal/api"
	"kvkstats/internal/app"
	"kvkstats/internal/config"
)

const shutdownTimeout = 15 * time.Second

func main() {
	fx.New(
		app.Module,
		fx.Invoke(runServer),
	).Run()
}

func runServer(lc fx.Lifecycle, h *api.Handler, cfg *config.Config, logger zerolog.Logger) {
	routerCfg := api.DefaultRouterConfig()
	routerCfg.AllowedOrigins = cfg.AllowedOrigins

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(h, routerCfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				logger.Info().Str("addr", srv.Addr).Str("upload_mode", cfg.UploadMode).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("server shutdown failed")
				return err
			}
			logger.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
