// Package serverapp wires configuration, database, data provider and HTTP
// server into one lifecycle: Init, Start, WaitForStop, Shutdown.
package serverapp

import (
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"sqlprovider/internal/config"
	"sqlprovider/internal/dialect"
	"sqlprovider/internal/logging"
	"sqlprovider/internal/morph"
	"sqlprovider/internal/observability"
	"sqlprovider/internal/provider"
	"sqlprovider/internal/schema"
)

// App owns runtime resources for the server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	meterProvider  *observability.MeterProvider
	queryMetrics   *observability.QueryMetrics
	tracerProvider *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }
	dialect    dialect.Dialect

	schema   *schema.Schema
	morphs   map[string]map[string]morph.Descriptor
	provider *provider.DataProvider

	mux     *http.ServeMux
	handler http.Handler

	serverAddr string
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	d, err := cfg.Database.Dialect()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve SQL dialect: %w", err)
	}
	return &App{cfg: cfg, logger: logger, dialect: d}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Provider returns the data provider built by Init, or nil before Init.
func (a *App) Provider() *provider.DataProvider {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.provider
}

// Handler returns the fully wrapped HTTP handler built by Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
