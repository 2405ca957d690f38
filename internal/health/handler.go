// Package health exposes a lightweight HTTP health endpoint for container probes.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"line_otp_bot/internal/logging"
)

const storePingTimeout = 2 * time.Second

// StoreChecker defines the subset of persistence behavior required for health.
type StoreChecker interface {
	Ping(ctx context.Context) error
}

// Handler answers health probes, reporting the persistence backend state.
type Handler struct {
	logger       *logrus.Entry
	storeChecker StoreChecker
}

type response struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

// NewHandler constructs a health handler backed by the given store checker.
func NewHandler(storeChecker StoreChecker, logger *logrus.Entry) *Handler {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Handler{
		logger:       logger,
		storeChecker: storeChecker,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := response{Status: "ok"}
	storeStatus := "ok"

	ctx := r.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if h.storeChecker == nil {
		storeStatus = "error"
		h.logger.WithField("event", "health_store_missing").Warn("store checker is not configured for health endpoint")
	} else {
		pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
		err := h.storeChecker.Ping(pingCtx)
		cancel()

		if err != nil {
			storeStatus = "error"
			h.logger.WithFields(logging.Fields{
				"event": "health_store_error",
			}).WithError(err).Warn("store ping failed during health check")
		}
	}

	if storeStatus != "ok" {
		resp.Status = "degraded"
		resp.Store = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.WithField("event", "health_write_error").WithError(err).Error("failed to encode health response")
	}
}
