package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MikeSquared-Agency/Badger/internal/engine"
	"github.com/MikeSquared-Agency/Badger/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps the store error taxonomy onto HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrStorageUnavailable), errors.Is(err, engine.ErrStaleSnapshot):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return store.Invalid("invalid request body: %v", err)
	}
	return nil
}

type outcomeResponse struct {
	Fact     interface{}     `json:"fact,omitempty"`
	Snapshot *store.Snapshot `json:"snapshot,omitempty"`
	Warning  string          `json:"warning,omitempty"`
}

// writeOutcome reports a committed fact. A stale snapshot is a warning on a 2xx, never
// an error status.
func writeOutcome[T any](w http.ResponseWriter, status int, out *engine.Outcome[T]) {
	resp := outcomeResponse{Fact: out.Fact, Snapshot: out.Snapshot}
	if out.Warning != nil {
		resp.Warning = out.Warning.Error()
	}
	writeJSON(w, status, resp)
}
