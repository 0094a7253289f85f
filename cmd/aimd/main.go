// Command aimd runs the application instance manager: the per-node HTTP
// surface that starts, stops, and health-registers AppScale application
// server instances. It starts serving in the background and shuts down
// gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/crypticterminal/aim/internal/api"
	"github.com/crypticterminal/aim/internal/bootstrap"
	"github.com/crypticterminal/aim/internal/config"
)

func main() {
	cfg := config.LoadConfig()
	config.SetupLogger(cfg.LogLevel)

	lc, authService, err := bootstrap.Bootstrap(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}

	handlers := api.New(lc, authService)

	r := gin.New()
	r.Use(gin.Recovery())
	api.SetupRoutes(r, handlers, nil)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	log.Info().Str("addr", cfg.HTTPAddr).Msg("starting aimd")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server startup failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down aimd...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	bootstrap.Shutdown(lc)
	log.Info().Msg("aimd exited")
}
