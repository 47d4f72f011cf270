// Package server provides the public entry point for initializing the
// TaskPilot server.
//
// This package exists in pkg/ (not internal/) so that embedders can compose
// the assembled handler with their own middleware or model provider:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/taskpilot/taskpilot/internal/agent"
	"github.com/taskpilot/taskpilot/internal/api"
	"github.com/taskpilot/taskpilot/internal/api/handlers"
	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/extsync"
	"github.com/taskpilot/taskpilot/internal/gate"
	"github.com/taskpilot/taskpilot/internal/llm"
	"github.com/taskpilot/taskpilot/internal/store"
	"github.com/taskpilot/taskpilot/internal/suggest"
	"github.com/taskpilot/taskpilot/internal/telemetry"
	"github.com/taskpilot/taskpilot/internal/tools"
)

// Options customizes server assembly. The zero value selects config-driven
// defaults throughout.
type Options struct {
	// Model overrides the language-model client. Nil selects the static
	// zero-config client.
	Model llm.Client
}

// Server holds the initialized TaskPilot components.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store (in-memory unless DATABASE_URL is set).
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithOptions(ctx, config.Load(), Options{})
}

// NewWithOptions initializes the server with an explicit configuration.
func NewWithOptions(ctx context.Context, cfg *config.Config, opts Options) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	var dataStore store.Store
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		dataStore = pg
	} else {
		dataStore = store.NewMemoryStore()
		log.Info().Msg("In-memory store initialized")
	}

	model := opts.Model
	if model == nil {
		model = llm.NewStatic("")
		log.Warn().Msg("No model provider configured, using static replies")
	}
	model = llm.WithTimeout(model, cfg.Model.Timeout)

	registry := tools.NewRegistry(tools.TaskTools(dataStore)...)
	g, err := gate.New(registry, gate.DefaultRules()...)
	if err != nil {
		return nil, fmt.Errorf("compile confirmation rules: %w", err)
	}

	loop := agent.NewLoop(dataStore, model, registry, g, cfg.Model.MaxTurns)
	adapter := extsync.NewAdapter(cfg.Sync)
	mgr := suggest.NewManager(dataStore, model, adapter, suggest.DefaultBatchConcurrency)

	log.Info().Int("tools", len(registry.List())).Msg("Agent loop initialized")
	log.Info().Bool("sync_enabled", adapter.Enabled()).Msg("Suggestion manager initialized")

	h := handlers.New(dataStore, loop, mgr, cfg.Version)

	return &Server{
		Handler:      api.NewRouter(h),
		Store:        dataStore,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
