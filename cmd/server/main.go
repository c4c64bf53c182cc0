package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dialgrid/callcore/internal/api"
	"github.com/dialgrid/callcore/internal/auth"
	"github.com/dialgrid/callcore/internal/bus"
	"github.com/dialgrid/callcore/internal/config"
	"github.com/dialgrid/callcore/internal/metrics"
	"github.com/dialgrid/callcore/internal/monitor"
	"github.com/dialgrid/callcore/internal/presence"
	"github.com/dialgrid/callcore/internal/router"
	"github.com/dialgrid/callcore/internal/session"
	"github.com/dialgrid/callcore/internal/stats"
	"github.com/dialgrid/callcore/internal/storage"
	"github.com/dialgrid/callcore/internal/transfer"
	"github.com/dialgrid/callcore/internal/websocket"
	"github.com/dialgrid/callcore/pkg/middleware"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("log_level", cfg.LogLevel).
		Msg("starting callcore server")

	// Create context for services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus
	eventBus := bus.New(cfg.SubscriberBuffer, log.Logger)

	// Agent presence registry
	registry := presence.NewRegistry(eventBus, log.Logger)

	// Session archive store
	store, err := storage.NewStore(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}

	// Call session engine
	engine := session.NewEngine(registry, eventBus, cfg.ACWDuration, log.Logger)
	engine.SetStore(store)

	// Queue router with routing loop
	routerMgr := router.NewManager(registry, engine, eventBus, log.Logger)
	for _, spec := range cfg.DefaultQueues {
		routerMgr.AddQueue(router.Config{
			QueueID:         spec.QueueID,
			Skills:          spec.Skills,
			SLTarget:        cfg.SLTarget,
			SLThresholdSecs: cfg.SLThresholdSecs,
		})
	}
	routingLoop := router.NewLoop(routerMgr, eventBus, cfg.RoutingInterval, log.Logger)
	go routingLoop.Start(ctx)

	// Transfer coordinator
	transfers := transfer.NewCoordinator(engine, registry, routerMgr, cfg.TransferTimeout, log.Logger)

	// Supervisor monitoring
	monitorCoord := monitor.NewCoordinator(engine, eventBus, log.Logger)
	go monitorCoord.Watch()

	// Daily per-agent stats
	dailyStats := stats.NewDailyTracker(store, eventBus, log.Logger)
	go dailyStats.Start(ctx, 30*time.Second)

	// Stale agent sweeper
	go staleSweep(ctx, registry)

	// WebSocket hub
	hub := websocket.NewHub(log.Logger)
	go hub.Run()
	go hub.ConsumeEvents(eventBus)
	wsHandler := websocket.NewHandler(hub, cfg, log.Logger)

	// HTTP handlers
	callsHandler := api.NewCallsHandler(engine, routerMgr, log.Logger)
	transferHandler := api.NewTransferHandler(transfers, log.Logger)
	monitoringHandler := api.NewMonitoringHandler(monitorCoord, log.Logger)
	queueHandler := api.NewQueueHandler(routerMgr, log.Logger)
	agentsHandler := api.NewAgentsHandler(registry, store, log.Logger)
	adminHandler := api.NewAdminHandler(engine, routerMgr, registry, monitorCoord, store, log.Logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Register public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Get("/metrics", metrics.Get().Handler())

	// Add auth middleware for protected routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Get("/ws", wsHandler.ServeHTTP)

		r.Route("/api", func(r chi.Router) {
			// Call intake and queues
			r.Post("/calls", callsHandler.CreateCall)
			r.Get("/queues", queueHandler.List)
			r.Get("/queues/{queueId}", queueHandler.Get)
			r.Delete("/queues/{queueId}/calls/{requestId}", callsHandler.AbandonCall)

			// Sessions
			r.Get("/sessions", callsHandler.ListSessions)
			r.Get("/sessions/{sessionId}", callsHandler.GetSession)
			r.Post("/sessions/{sessionId}/connect", callsHandler.Connect)
			r.Post("/sessions/{sessionId}/hold", callsHandler.SetHold)
			r.Post("/sessions/{sessionId}/mute", callsHandler.SetMute)
			r.Post("/sessions/{sessionId}/record", callsHandler.SetRecording)
			r.Post("/sessions/{sessionId}/end", callsHandler.End)
			r.Post("/sessions/{sessionId}/wrapup", callsHandler.CompleteWrapUp)

			// Transfers
			r.Post("/sessions/{sessionId}/transfers/warm", transferHandler.StartWarm)
			r.Post("/sessions/{sessionId}/transfers/cold/agent", transferHandler.ColdToAgent)
			r.Post("/sessions/{sessionId}/transfers/cold/queue", transferHandler.ColdToQueue)
			r.Post("/sessions/{sessionId}/conference/leave", transferHandler.LeaveConference)
			r.Post("/transfers/{transferId}/accept", transferHandler.Accept)
			r.Post("/transfers/{transferId}/reject", transferHandler.Reject)

			// Agents
			r.Post("/agents/roster", agentsHandler.HandleRoster)
			r.Get("/agents", agentsHandler.List)
			r.Get("/agents/{agentId}", agentsHandler.Get)
			r.Put("/agents/{agentId}/presence", agentsHandler.SetPresence)
			r.Put("/agents/{agentId}/status", agentsHandler.SetStatus)
			r.Post("/agents/{agentId}/heartbeat", agentsHandler.Heartbeat)
			r.Get("/agents/{agentId}/history", agentsHandler.GetHistory)
			r.Get("/agents/{agentId}/sessions", agentsHandler.GetSessions)

			// Monitoring (supervisor and above)
			r.Group(func(r chi.Router) {
				r.Use(api.RequireSupervisorOrAdmin)
				r.Post("/sessions/{sessionId}/monitoring", monitoringHandler.Start)
				r.Get("/sessions/{sessionId}/monitoring", monitoringHandler.ListForCall)
				r.Delete("/monitoring/{monitoringId}", monitoringHandler.Stop)
				r.Post("/monitoring/{monitoringId}/mode", monitoringHandler.Escalate)
			})

			// Admin
			r.Group(func(r chi.Router) {
				r.Use(api.RequireAdmin)
				r.Post("/queues", queueHandler.Create)
				r.Post("/admin/queues/wipe", adminHandler.WipeQueues)
				r.Post("/admin/sessions/{sessionId}/end", adminHandler.ForceEndSession)
				r.Post("/admin/degraded/reset", adminHandler.ResetDegraded)
				r.Post("/admin/dynamo/wipe", adminHandler.WipeDynamo)
			})
		})
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Stop background loops
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// staleSweep periodically marks agents with missed heartbeats as disconnected
func staleSweep(ctx context.Context, registry *presence.Registry) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			registry.CheckStaleAgents()
			metrics.Get().UpdateAgentStats(registry.GetAll())
		}
	}
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"callcore"}`)
}
