package app

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	httputil "swimbook/pkg/http"
	"swimbook/pkg/logger"
)

// Checker is a named readiness check for a backing service.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

type HealthHandler struct {
	checkers []Checker
	timeout  time.Duration
	log      *logger.Logger
}

func NewHealthHandler(checkers []Checker, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		checkers: checkers,
		timeout:  2 * time.Second,
		log:      log,
	}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := httputil.WriteJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
	}); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Health", "operation", "WriteJSON", "error", err)
	}
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := make(map[string]string, len(h.checkers))
	for _, c := range h.checkers {
		if err := c.Check(ctx); err != nil {
			h.log.Error("Readiness check failed",
				"check", c.Name,
				"error", err,
				"path", r.URL.Path,
			)
			checks[c.Name] = "error"
			status, code = "unavailable", http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}

	if err := httputil.WriteJSON(w, code, HealthResponse{
		Status: status,
		Checks: checks,
	}); err != nil {
		h.log.Error("failed to write JSON response", "handler", "Ready", "operation", "WriteJSON", "error", err)
	}
}

func (h *HealthHandler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}
