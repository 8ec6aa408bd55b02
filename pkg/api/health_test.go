package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ciorch/pkg/store"
)

type fakeHealthStore struct {
	store.Store
	pingErr error
}

func (f *fakeHealthStore) Ping(ctx context.Context) error { return f.pingErr }

func newTestRouter(hs *HealthServer) http.Handler {
	r := chi.NewRouter()
	hs.Routes(r)
	return r
}

func TestHealthHandlerAlwaysHealthy(t *testing.T) {
	hs := NewHealthServer(&fakeHealthStore{pingErr: errors.New("down")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	newTestRouter(hs).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestReadyHandlerStoreDown(t *testing.T) {
	hs := NewHealthServer(&fakeHealthStore{pingErr: errors.New("connection refused")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	newTestRouter(hs).ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp readyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "not ready", resp.Status)
	assert.Contains(t, resp.Checks["durable_store"], "error")
	assert.NotEmpty(t, resp.Message)
}

func TestReadyHandlerStoreUp(t *testing.T) {
	hs := NewHealthServer(&fakeHealthStore{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	newTestRouter(hs).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp readyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "ok", resp.Checks["durable_store"])
	assert.Empty(t, resp.Message)
}

func TestHealthRoutesMountedIndependently(t *testing.T) {
	hs := NewHealthServer(&fakeHealthStore{}, nil)
	r := newTestRouter(hs)

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.NotEqual(t, http.StatusNotFound, w.Code, "path %s should be routed", path)
	}

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
