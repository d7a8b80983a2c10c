package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Badger/internal/engine"
	"github.com/MikeSquared-Agency/Badger/internal/store"
)

const testToken = "admin-token"

type mockRanker struct {
	mock.Mock
}

func (m *mockRanker) Update(ctx context.Context, snap *store.Snapshot) error {
	return m.Called(ctx, snap).Error(0)
}

func (m *mockRanker) Top(ctx context.Context, limit int) ([]store.RankedSnapshot, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.RankedSnapshot), args.Error(1)
}

func (m *mockRanker) Rank(ctx context.Context, userID string) (*store.RankedSnapshot, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.RankedSnapshot), args.Error(1)
}

func (m *mockRanker) Rebuild(ctx context.Context, entries []store.RankedSnapshot) error {
	return m.Called(ctx, entries).Error(0)
}

type testServer struct {
	handler http.Handler
	store   *store.MemoryStore
	ranker  *mockRanker
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ms := store.NewMemoryStore(store.ModeNormalized)
	rk := &mockRanker{}
	rk.On("Update", mock.Anything, mock.Anything).Return(nil).Maybe()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := engine.New(ms, engine.Options{
		Ranker:     rk,
		Registerer: prometheus.NewRegistry(),
		Logger:     logger,
	})
	report := &store.ProvisionReport{Mode: store.ModeNormalized, AddedColumns: []string{"seminar_score"}}
	return &testServer{handler: NewRouter(e, report, testToken, logger), store: ms, ranker: rk}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set(ActorHeader, "staff-7")
	if admin {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *testServer) enroll(t *testing.T) {
	t.Helper()
	w := s.do(t, "POST", "/api/v1/students", map[string]string{
		"user_id": "u-1", "id_number": "2024001", "login_name": "alice", "full_name": "Alice",
	}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestEnrollRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, "POST", "/api/v1/students", map[string]string{"login_name": "alice"}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFactWriteReturnsSnapshot(t *testing.T) {
	s := newTestServer(t)
	s.enroll(t)

	w := s.do(t, "PUT", "/api/v1/students/2024001/mastery", map[string]float64{"percentage": 80}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	snap := body["snapshot"].(map[string]interface{})
	assert.Equal(t, 16.0, snap["score"])
	assert.Equal(t, "warning", snap["badge_color"])
	assert.NotContains(t, body, "warning")

	w = s.do(t, "PUT", "/api/v1/students/alice/grades/1", map[string]float64{"value": 90}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snap = decodeBody(t, w)["snapshot"].(map[string]interface{})
	assert.Equal(t, 43.0, snap["score"])

	s.ranker.On("Rank", mock.Anything, "u-1").Return(&store.RankedSnapshot{Rank: 3, UserID: "u-1", Score: 43}, nil).Once()
	w = s.do(t, "GET", "/api/v1/students/u-1/snapshot", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	view := decodeBody(t, w)
	assert.Equal(t, 43.0, view["score"])
	assert.Equal(t, 3.0, view["rank"])
	assert.Equal(t, false, view["stale"])
	assert.Equal(t, "Beginner", view["points_rank"])
	s.ranker.AssertExpectations(t)

	w = s.do(t, "GET", "/api/v1/students/u-1/score", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 43.0, decodeBody(t, w)["overall_score"])
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	s.enroll(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"unknown student", "GET", "/api/v1/students/nobody/snapshot", nil, http.StatusNotFound},
		{"grade out of range", "PUT", "/api/v1/students/u-1/grades/1", map[string]float64{"value": 120}, http.StatusBadRequest},
		{"bad year", "PUT", "/api/v1/students/u-1/grades/first", map[string]float64{"value": 50}, http.StatusBadRequest},
		{"unknown field", "PUT", "/api/v1/students/u-1/mastery", map[string]float64{"pct": 50}, http.StatusBadRequest},
		{"bad record id", "DELETE", "/api/v1/students/u-1/attendance/xyz", nil, http.StatusBadRequest},
		{"missing record", "DELETE", "/api/v1/students/u-1/attendance/7b0c1f3e-8f6a-4c1e-9d55-2f4d2f0d9a10", nil, http.StatusNotFound},
		{"bad category", "POST", "/api/v1/students/u-1/recompute?category=sports", nil, http.StatusBadRequest},
		{"unknown challenge", "POST", "/api/v1/students/u-1/challenges", map[string]interface{}{
			"challenge_id": "7b0c1f3e-8f6a-4c1e-9d55-2f4d2f0d9a10", "percentage": 40,
		}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path, tt.body, false)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, decodeBody(t, w), "error")
		})
	}
}

func TestStorageFailureIs503(t *testing.T) {
	s := newTestServer(t)
	s.enroll(t)
	s.store.FailOn("SetMastery", errors.New("connection refused"))

	w := s.do(t, "PUT", "/api/v1/students/u-1/mastery", map[string]float64{"percentage": 50}, false)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStaleSnapshotIsWarning(t *testing.T) {
	s := newTestServer(t)
	s.enroll(t)
	s.store.FailOn("SaveSnapshot", errors.New("lock timeout"))

	w := s.do(t, "POST", "/api/v1/students/u-1/attendance", map[string]interface{}{
		"event_name": "Go meetup", "verified": true,
	}, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Contains(t, body["warning"], "stale")
	fact := body["fact"].(map[string]interface{})
	assert.Equal(t, 100.0, fact["points"])
}

func TestAttendanceLifecycle(t *testing.T) {
	s := newTestServer(t)
	s.enroll(t)

	w := s.do(t, "POST", "/api/v1/students/u-1/attendance", map[string]interface{}{
		"event_name": "Webinar", "points": 300,
	}, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decodeBody(t, w)["fact"].(map[string]interface{})["id"].(string)

	w = s.do(t, "POST", "/api/v1/students/u-1/attendance/"+id+"/verify", nil, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cats := decodeBody(t, w)["snapshot"].(map[string]interface{})["categories"].(map[string]interface{})
	assert.Equal(t, 3.0, cats["seminars"])

	w = s.do(t, "POST", "/api/v1/students/u-1/attendance/"+id+"/verify", map[string]bool{"verified": false}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cats = decodeBody(t, w)["snapshot"].(map[string]interface{})["categories"].(map[string]interface{})
	assert.Equal(t, 0.0, cats["seminars"])

	w = s.do(t, "DELETE", "/api/v1/students/u-1/attendance/"+id, nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWeightsEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.enroll(t)
	s.do(t, "PUT", "/api/v1/students/u-1/mastery", map[string]float64{"percentage": 50}, false)

	w := s.do(t, "GET", "/api/v1/weights", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	ws := decodeBody(t, w)["weights"].(map[string]interface{})
	assert.Equal(t, 20.0, ws["mastery"])

	w = s.do(t, "PUT", "/api/v1/weights", map[string]float64{"mastery": 40}, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, 1.0, body["updated"])
	assert.Equal(t, 40.0, body["weights"].(map[string]interface{})["mastery"])

	s.ranker.On("Rank", mock.Anything, "u-1").Return(nil, errors.New("redis down")).Once()
	w = s.do(t, "GET", "/api/v1/students/u-1/snapshot", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	view := decodeBody(t, w)
	assert.Equal(t, 20.0, view["score"])
	assert.NotContains(t, view, "rank", "a cache miss leaves the rank out")

	w = s.do(t, "PUT", "/api/v1/weights", map[string]float64{"academic": -5}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSchemaEndpoint(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, "GET", "/api/v1/schema", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "normalized", body["mode"])
	assert.Equal(t, []interface{}{"seminar_score"}, body["added_columns"])
	assert.NotEmpty(t, body["optional_columns"])
}

func TestLeaderboard(t *testing.T) {
	s := newTestServer(t)
	cached := []store.RankedSnapshot{{Rank: 1, UserID: "u-9", Score: 88, Badge: "gold"}}
	s.ranker.On("Top", mock.Anything, 5).Return(cached, nil).Once()
	s.ranker.On("Top", mock.Anything, 100).Return(nil, errors.New("redis down")).Once()

	w := s.do(t, "GET", "/api/v1/leaderboard?limit=5", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	var top []store.RankedSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &top))
	assert.Equal(t, cached, top)

	s.enroll(t)
	w = s.do(t, "GET", "/api/v1/leaderboard", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	top = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &top))
	require.Len(t, top, 1)
	assert.Equal(t, "u-1", top[0].UserID)

	w = s.do(t, "GET", "/api/v1/leaderboard?limit=-1", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	s.ranker.AssertExpectations(t)
}

func TestMetricsRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	engine.NewMetrics(reg)
	h := NewMetricsRouter(reg)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "badger_stale_snapshots_total")
}
