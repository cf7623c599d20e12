package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/abrezinsky/chanpoll/internal/logger"
	"github.com/abrezinsky/chanpoll/internal/services"
)

// Pinger is the health dependency, satisfied by the repository
type Pinger interface {
	Ping(ctx context.Context) error
}

// PollLister exposes running poll snapshots, satisfied by the poll service
type PollLister interface {
	Active() []services.PollStatus
}

// Handlers holds the HTTP surface's dependencies
type Handlers struct {
	log     logger.Logger
	polls   PollLister
	pinger  Pinger
	ws      http.HandlerFunc
	metrics http.Handler
}

// New creates the HTTP handlers
func New(log logger.Logger, polls PollLister, pinger Pinger, ws http.HandlerFunc, metrics http.Handler) *Handlers {
	return &Handlers{
		log:     log,
		polls:   polls,
		pinger:  pinger,
		ws:      ws,
		metrics: metrics,
	}
}

// PollResponse is the JSON shape of one running poll
type PollResponse struct {
	Channel string   `json:"channel"`
	Choices []string `json:"choices"`
	Started string   `json:"started"`
	EndsIn  string   `json:"ends_in"`
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.pinger != nil {
		if err := h.pinger.Ping(r.Context()); err != nil {
			h.log.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) handleListPolls(w http.ResponseWriter, r *http.Request) {
	active := h.polls.Active()

	polls := make([]PollResponse, 0, len(active))
	for _, p := range active {
		polls = append(polls, PollResponse{
			Channel: p.Channel,
			Choices: p.Choices,
			Started: humanize.Time(p.StartedAt),
			EndsIn:  time.Until(p.Deadline).Round(time.Second).String(),
		})
	}
	writeJSON(w, http.StatusOK, polls)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
