package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/abrezinsky/chanpoll/internal/config"
	"github.com/abrezinsky/chanpoll/internal/dispatch"
	"github.com/abrezinsky/chanpoll/internal/gateway"
	"github.com/abrezinsky/chanpoll/internal/handlers"
	"github.com/abrezinsky/chanpoll/internal/logger"
	"github.com/abrezinsky/chanpoll/internal/observability"
	"github.com/abrezinsky/chanpoll/internal/repository"
	"github.com/abrezinsky/chanpoll/internal/services"
)

// App holds all application dependencies
type App struct {
	log      logger.Logger
	handlers *handlers.Handlers
	repo     *repository.Repository
}

// New creates and wires a new application instance
func New(log logger.Logger, cfg config.Config) (*App, error) {
	repo, err := repository.New(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(cfg.MetricsNamespace, promRegistry)

	registry := services.NewRegistry()
	dispatcher := dispatch.New(log)

	// The hub is both the poll service's line sender and the poll
	// service's caller, so it is built first and attached after.
	hub := gateway.New(log, cfg.CommandPrefix, repo, dispatcher, metrics)

	flags := services.PollFlags{
		OnlyOnlineUsersCount:  cfg.OnlyOnlineUsersCount,
		OnlyRegisteredMayVote: cfg.OnlyRegisteredMayVote,
		ForbidPrefixedChoices: cfg.ForbidPrefixedChoices,
	}
	polls := services.NewPollService(log, registry, dispatcher, hub,
		services.NewTimerScheduler(), flags, cfg.CommandPrefix, metrics)
	hub.SetPollService(polls)

	h := handlers.New(log, polls, repo, hub.ServeWs, observability.Handler(promRegistry))

	return &App{
		log:      log,
		handlers: h,
		repo:     repo,
	}, nil
}

// Router returns the configured HTTP router
func (a *App) Router() chi.Router {
	return a.handlers.Router()
}

// Close releases app resources
func (a *App) Close() {
	if a.repo != nil {
		a.repo.Close()
	}
}

// Run starts the HTTP server
func (a *App) Run(addr string) error {
	a.log.Info("server starting", "addr", addr)
	return http.ListenAndServe(addr, a.Router())
}
