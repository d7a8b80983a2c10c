package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Badger/internal/engine"
	"github.com/MikeSquared-Agency/Badger/internal/store"
)

type StudentsHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewStudentsHandler(e *engine.Engine, logger *slog.Logger) *StudentsHandler {
	return &StudentsHandler{engine: e, logger: logger}
}

func identifier(r *http.Request) string {
	return chi.URLParam(r, "identifier")
}

func recordID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, store.Invalid("invalid record id")
	}
	return id, nil
}

// Score computes the composite from current facts without storing it.
func (h *StudentsHandler) Score(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.Aggregate(r.Context(), identifier(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *StudentsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	view, err := h.engine.Snapshot(r.Context(), identifier(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *StudentsHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	category := store.CategoryAll
	if q := r.URL.Query().Get("category"); q != "" {
		c, ok := store.ParseCategory(q)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown category"})
			return
		}
		category = c
	}
	snap, err := h.engine.OnFactChanged(r.Context(), identifier(r), category)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type gradeRequest struct {
	Value *float64 `json:"value"`
}

func (h *StudentsHandler) SetGrade(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid year"})
		return
	}
	var req gradeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	out, err := h.engine.SetGrade(r.Context(), identifier(r), engine.GradeInput{Year: year, Value: req.Value})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOutcome(w, http.StatusOK, out)
}

func (h *StudentsHandler) SetMastery(w http.ResponseWriter, r *http.Request) {
	var req engine.MasteryInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	out, err := h.engine.SetMastery(r.Context(), identifier(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOutcome(w, http.StatusOK, out)
}

func (h *StudentsHandler) SubmitChallenge(w http.ResponseWriter, r *http.Request) {
	var req engine.SubmissionInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	out, err := h.engine.SubmitChallenge(r.Context(), identifier(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOutcome(w, http.StatusCreated, out)
}

func (h *StudentsHandler) RecordAttendance(w http.ResponseWriter, r *http.Request) {
	var req engine.AttendanceInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	out, err := h.engine.RecordAttendance(r.Context(), identifier(r), req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOutcome(w, http.StatusCreated, out)
}

type verifyRequest struct {
	Verified *bool `json:"verified"`
}

// VerifyAttendance confirms a record; {"verified": false} withdraws the confirmation.
func (h *StudentsHandler) VerifyAttendance(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	verified := true
	if r.ContentLength != 0 {
		var req verifyRequest
		if err := decode(r, &req); err != nil {
			writeError(w, h.logger, err)
			return
		}
		if req.Verified != nil {
			verified = *req.Verified
		}
	}
	out, err := h.engine.SetAttendanceVerified(r.Context(), identifier(r), id, verified)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOutcome(w, http.StatusOK, out)
}

func (h *StudentsHandler) DeleteAttendance(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out, err := h.engine.DeleteAttendance(r.Context(), identifier(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOutcome(w, http.StatusOK, out)
}

func (h *StudentsHandler) RecordExtracurricular(w http.ResponseWriter, r *http.Request) {
	var req engine.ExtracurricularInput
	if err := decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	actor := r.Header.Get(ActorHeader)
	out, err := h.engine.RecordExtracurricular(r.Context(), identifier(r), actor, req)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOutcome(w, http.StatusCreated, out)
}

func (h *StudentsHandler) DeleteExtracurricular(w http.ResponseWriter, r *http.Request) {
	id, err := recordID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out, err := h.engine.DeleteExtracurricular(r.Context(), identifier(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeOutcome(w, http.StatusOK, out)
}

func (h *StudentsHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	top, err := h.engine.Leaderboard(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if top == nil {
		top = []store.RankedSnapshot{}
	}
	writeJSON(w, http.StatusOK, top)
}
