// pimsmock runs the in-memory fake PIMS server as a standalone process, for
// local development against a realistic endpoint without touching a real
// keyfile. One keyfile is pre-seeded; /metrics exposes Prometheus metrics.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pims/internal/pimstest"
	"pims/internal/platform/config"
	"pims/internal/platform/httpserver"
	"pims/internal/platform/logger"
	"pims/pkg/wire"
)

func main() {
	cfg := config.MockFromEnv()
	log := logger.New(cfg.LogLevel)

	fake := pimstest.New()
	fake.AddKeyfile(wire.KeyfileInfo{
		ID:                cfg.KeyfileID,
		Name:              "local-development",
		Description:       "pimsmock seeded keyfile",
		PseudonymTemplate: ":PatientID|Patient{ID:6}:StudyInstanceUID|1.2.826.0.1.{seq}",
	})

	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Mount("/", fake.Handler())

	srv := httpserver.New(cfg.Addr, router)
	log.Info("starting pimsmock", "addr", cfg.Addr, "keyfile_id", cfg.KeyfileID)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}
