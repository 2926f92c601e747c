package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dev-kishor/webcam-backend/internal/adapters/http"
	"github.com/dev-kishor/webcam-backend/internal/adapters/rtc"
	sig "github.com/dev-kishor/webcam-backend/internal/adapters/signal"
	"github.com/dev-kishor/webcam-backend/internal/app"
	"github.com/dev-kishor/webcam-backend/internal/app/orch"
	"github.com/dev-kishor/webcam-backend/internal/config"
	"github.com/dev-kishor/webcam-backend/internal/metrics"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	engine := rtc.NewEngine(rtc.Config{
		AnnouncedIP: cfg.AnnouncedIP,
		PortMin:     cfg.RTCPortMin,
		PortMax:     cfg.RTCPortMax,
		ICEServers:  cfg.ICEServers,
	})
	defer engine.Close()

	registry := app.NewRegistry(engine, cfg.WorkerPool)
	if err := registry.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start engine workers")
	}

	rooms := app.NewRoomManager()
	orchestrator := &orch.Orchestrator{
		Registry: registry,
		Rooms:    rooms,
		Links:    app.NewLinkService(),
		Policy:   app.SimplePolicy{},
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	orchestrator.Metrics = metrics.New(promReg, func() int { return len(rooms.List()) })

	ctl := sig.NewSignalWSController(orchestrator, orchestrator.Metrics)
	ctl.ReadLimit = cfg.ReadLimit
	ctl.PingPeriod = cfg.PingPeriod

	r := router.SetupRouter(ctx, cfg, ctl, promReg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("ride signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	// A dead engine worker cannot serve its routers. Drain briefly,
	// then let the supervisor restart the process.
	select {
	case <-ctx.Done():
	case err := <-registry.Fatal():
		log.Error().Err(err).Dur("grace", cfg.EngineGrace).Msg("engine fatal, draining")
		time.Sleep(cfg.EngineGrace)
		cancel()
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
