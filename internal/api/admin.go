package api

import (
	"log/slog"
	"net/http"

	"github.com/MikeSquared-Agency/Badger/internal/engine"
	"github.com/MikeSquared-Agency/Badger/internal/scoring"
	"github.com/MikeSquared-Agency/Badger/internal/store"
)

type AdminHandler struct {
	engine *engine.Engine
	schema *store.ProvisionReport
	logger *slog.Logger
}

// NewAdminHandler takes the report of the startup provisioning run; it may be nil when
// the store needs no provisioning.
func NewAdminHandler(e *engine.Engine, schema *store.ProvisionReport, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{engine: e, schema: schema, logger: logger}
}

type weightsResponse struct {
	Weights  scoring.WeightSet `json:"weights"`
	Defaults scoring.WeightSet `json:"defaults"`
}

func (h *AdminHandler) GetWeights(w http.ResponseWriter, r *http.Request) {
	ws, err := h.engine.Weights().Get(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, weightsResponse{Weights: ws, Defaults: h.engine.Weights().Defaults()})
}

type setWeightsResponse struct {
	Weights   scoring.WeightSet `json:"weights"`
	Total     int               `json:"total"`
	Updated   int               `json:"updated"`
	Unchanged int               `json:"unchanged"`
	Stale     []string          `json:"stale,omitempty"`
	Warning   string            `json:"warning,omitempty"`
}

// SetWeights accepts a partial update; omitted categories keep their weight.
func (h *AdminHandler) SetWeights(w http.ResponseWriter, r *http.Request) {
	var patch scoring.WeightPatch
	if err := decode(r, &patch); err != nil {
		writeError(w, h.logger, err)
		return
	}
	next, report, err := h.engine.SetWeights(r.Context(), patch, r.Header.Get(ActorHeader))
	stale, isStale := engine.AsStale(err)
	if err != nil && !isStale {
		writeError(w, h.logger, err)
		return
	}
	resp := setWeightsResponse{Weights: next}
	if report != nil {
		resp.Total, resp.Updated, resp.Unchanged = report.Total, report.Updated, report.Unchanged
		for _, s := range report.Stale {
			resp.Stale = append(resp.Stale, s.UserID)
		}
		if len(resp.Stale) > 0 {
			resp.Warning = "some snapshots are stale"
		}
	}
	if isStale {
		resp.Warning = stale.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type schemaResponse struct {
	Mode         store.SchemaMode `json:"mode"`
	Bootstrapped bool             `json:"bootstrapped"`
	AddedColumns []string         `json:"added_columns"`
	Columns      []string         `json:"optional_columns"`
}

func (h *AdminHandler) Schema(w http.ResponseWriter, r *http.Request) {
	resp := schemaResponse{
		Mode:         h.engine.Mode(),
		AddedColumns: []string{},
		Columns:      store.OptionalColumnNames(),
	}
	if h.schema != nil {
		resp.Bootstrapped = h.schema.Bootstrapped
		if h.schema.AddedColumns != nil {
			resp.AddedColumns = h.schema.AddedColumns
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AdminHandler) EnrollStudent(w http.ResponseWriter, r *http.Request) {
	var req engine.EnrollInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	out, err := h.engine.EnrollStudent(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOutcome(w, http.StatusCreated, out)
}

func (h *AdminHandler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req engine.ChallengeInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	out, err := h.engine.CreateChallenge(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOutcome(w, http.StatusCreated, out)
}

func (h *AdminHandler) RecomputeAll(w http.ResponseWriter, r *http.Request) {
	category := store.CategoryAll
	if q := r.URL.Query().Get("category"); q != "" {
		c, ok := store.ParseCategory(q)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown category"})
			return
		}
		category = c
	}
	report, err := h.engine.RecomputeAll(r.Context(), category)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	stale := make([]string, 0, len(report.Stale))
	for _, s := range report.Stale {
		stale = append(stale, s.UserID)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":     report.Total,
		"updated":   report.Updated,
		"unchanged": report.Unchanged,
		"stale":     stale,
	})
}

func (h *AdminHandler) RebuildLeaderboard(w http.ResponseWriter, r *http.Request) {
	n, err := h.engine.RebuildLeaderboard(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"entries": n})
}
