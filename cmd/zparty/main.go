package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/navikt/zparty/internal/api"
	"github.com/navikt/zparty/internal/config"
	"github.com/navikt/zparty/internal/metrics"
	"github.com/navikt/zparty/internal/repository"
	"github.com/navikt/zparty/internal/service"
	"github.com/navikt/zparty/internal/utils"
	"github.com/navikt/zparty/internal/web"
	"github.com/navikt/zparty/internal/ws"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	serverConfig := config.GetServerConfig()
	utils.SetupLogging(serverConfig.LogLevel, serverConfig.LogFormat)

	if err := run(serverConfig); err != nil {
		log.Fatal().Err(err).Str("module", "main").Msg("zparty stopped")
	}
}

func run(serverConfig config.ServerConfig) error {
	roomsConfig := config.GetRoomsConfig()

	// Initialize the stores using the factory
	stores, err := repository.NewStores(config.GetRedisConfig())
	if err != nil {
		return err
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error().Err(err).Str("module", "main").Msg("Error closing storage connection")
		}
	}()

	recorder := metrics.NewRecorder()

	coordinator, err := service.NewCoordinator(stores.Rooms, stores.Presence, roomsConfig, service.WithMetrics(recorder))
	if err != nil {
		return err
	}

	// Every event goes to websocket subscribers and SSE streams
	hub := ws.NewHub()
	events := web.NewSSEBroadcaster()
	fanout := service.NewFanout()
	fanout.Register(hub)
	fanout.Register(events)

	router := api.SetupRoutes(api.Dependencies{
		Coordinator: coordinator,
		Broadcaster: fanout,
		Events:      events,
		Sockets:     ws.NewGateway(coordinator, hub, fanout, recorder),
		Metrics:     recorder,
		Store:       stores,
		Backend:     stores.Backend,
	})

	server := &http.Server{
		Addr:         ":" + serverConfig.Port,
		Handler:      web.WrapWithMiddleware(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disable write timeout for SSE and websocket connections
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().
			Str("module", "main").
			Str("port", serverConfig.Port).
			Str("backend", stores.Backend).
			Msg("Starting zparty server")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if roomsConfig.ReaperEnabled() {
		reaper := service.NewReaper(coordinator, fanout, recorder, roomsConfig.ReconnectGrace, roomsConfig.ReaperInterval)
		g.Go(func() error {
			return reaper.Run(ctx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Str("module", "main").Msg("Shutting down server...")

		// First close SSE streams so Shutdown does not wait on them
		events.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return err
		}

		log.Info().Str("module", "main").Msg("Server gracefully stopped")
		return nil
	})

	return g.Wait()
}
