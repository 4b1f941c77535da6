package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"outbound-pool/internal/circuitbreaker"
	"outbound-pool/internal/common/logging"
	"outbound-pool/internal/handlers"
	"outbound-pool/internal/pool"
)

type MockPool struct {
	mock.Mock
}

func (m *MockPool) GetMetrics() pool.Stats {
	return m.Called().Get(0).(pool.Stats)
}

func (m *MockPool) ResetMetrics() {
	m.Called()
}

func (m *MockPool) HealthCheck() pool.Health {
	return m.Called().Get(0).(pool.Health)
}

type MockCircuits struct {
	mock.Mock
}

func (m *MockCircuits) Snapshots() []circuitbreaker.Snapshot {
	return m.Called().Get(0).([]circuitbreaker.Snapshot)
}

func (m *MockCircuits) Reset() {
	m.Called()
}

func (m *MockCircuits) ResetHost(hostKey string) bool {
	return m.Called(hostKey).Bool(0)
}

func (m *MockCircuits) Remove(hostKey string) bool {
	return m.Called(hostKey).Bool(0)
}

func newHandlers() (*handlers.Handlers, *MockPool, *MockCircuits) {
	p := &MockPool{}
	c := &MockCircuits{}
	return handlers.New(p, c, logging.NewNopLogger()), p, c
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		health     pool.Health
		wantStatus int
	}{
		{
			name:       "healthy",
			health:     pool.Health{Status: pool.HealthStatusHealthy, Capacity: 100},
			wantStatus: http.StatusOK,
		},
		{
			name:       "warning still serves",
			health:     pool.Health{Status: pool.HealthStatusWarning, OpenCircuits: 1, Capacity: 100},
			wantStatus: http.StatusOK,
		},
		{
			name:       "closing",
			health:     pool.Health{Status: pool.HealthStatusWarning, Closing: true},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, p, _ := newHandlers()
			p.On("HealthCheck").Return(tt.health)

			rec := httptest.NewRecorder()
			h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.health.Status, body["status"])
			assert.EqualValues(t, tt.health.OpenCircuits, body["open_circuits"])
			assert.Contains(t, body, "timestamp")
			p.AssertExpectations(t)
		})
	}
}

func TestGetStats(t *testing.T) {
	h, p, _ := newHandlers()
	p.On("GetMetrics").Return(pool.Stats{
		TotalRequests:      7,
		SuccessfulRequests: 5,
		FailedRequests:     2,
		Circuits: []circuitbreaker.Snapshot{
			{HostKey: "https://api.example.com", State: "open"},
		},
	})

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats pool.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(7), stats.TotalRequests)
	assert.Equal(t, int64(2), stats.FailedRequests)
	require.Len(t, stats.Circuits, 1)
	assert.Equal(t, "open", stats.Circuits[0].State)
}

func TestResetStats(t *testing.T) {
	h, p, _ := newHandlers()
	p.On("GetMetrics").Return(pool.Stats{TotalRequests: 9, FailedRequests: 1})
	p.On("ResetMetrics").Return()

	rec := httptest.NewRecorder()
	h.ResetStats(rec, httptest.NewRequest(http.MethodPost, "/stats/reset", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	p.AssertCalled(t, "ResetMetrics")
	p.AssertExpectations(t)
}

func TestGetCircuits(t *testing.T) {
	h, _, c := newHandlers()
	next := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.On("Snapshots").Return([]circuitbreaker.Snapshot{
		{HostKey: "https://a.example.com", State: "open", ConsecutiveFailures: 5, NextAttemptAt: &next},
		{HostKey: "https://b.example.com", State: "closed"},
	})

	rec := httptest.NewRecorder()
	h.GetCircuits(rec, httptest.NewRequest(http.MethodGet, "/circuits", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snaps []circuitbreaker.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
	require.Len(t, snaps, 2)
	assert.Equal(t, 5, snaps[0].ConsecutiveFailures)
	require.NotNil(t, snaps[0].NextAttemptAt)
	assert.True(t, next.Equal(*snaps[0].NextAttemptAt))
	assert.Nil(t, snaps[1].NextAttemptAt)
}

func TestResetCircuits(t *testing.T) {
	t.Run("all", func(t *testing.T) {
		h, _, c := newHandlers()
		c.On("Reset").Return()

		rec := httptest.NewRecorder()
		h.ResetCircuits(rec, httptest.NewRequest(http.MethodPost, "/circuits/reset", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		c.AssertCalled(t, "Reset")
	})

	t.Run("single host", func(t *testing.T) {
		h, _, c := newHandlers()
		c.On("ResetHost", "https://api.example.com").Return(true)

		rec := httptest.NewRecorder()
		h.ResetCircuits(rec, httptest.NewRequest(http.MethodPost, "/circuits/reset?host=https://api.example.com", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		c.AssertNotCalled(t, "Reset")
	})

	t.Run("unknown host", func(t *testing.T) {
		h, _, c := newHandlers()
		c.On("ResetHost", "https://nope.example.com").Return(false)

		rec := httptest.NewRecorder()
		h.ResetCircuits(rec, httptest.NewRequest(http.MethodPost, "/circuits/reset?host=https://nope.example.com", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRemoveCircuit(t *testing.T) {
	t.Run("removes known host", func(t *testing.T) {
		h, _, c := newHandlers()
		c.On("Remove", "https://api.example.com").Return(true)

		rec := httptest.NewRecorder()
		h.RemoveCircuit(rec, httptest.NewRequest(http.MethodDelete, "/circuits?host=https://api.example.com", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		c.AssertExpectations(t)
	})

	t.Run("unknown host", func(t *testing.T) {
		h, _, c := newHandlers()
		c.On("Remove", "https://nope.example.com").Return(false)

		rec := httptest.NewRecorder()
		h.RemoveCircuit(rec, httptest.NewRequest(http.MethodDelete, "/circuits?host=https://nope.example.com", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("host required", func(t *testing.T) {
		h, _, c := newHandlers()

		rec := httptest.NewRecorder()
		h.RemoveCircuit(rec, httptest.NewRequest(http.MethodDelete, "/circuits", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		c.AssertNotCalled(t, "Remove", mock.Anything)
	})
}
