package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStoreChecker struct{ err error }

func (f *fakeStoreChecker) Ping(ctx context.Context) error { return f.err }

func TestLiveness_AlwaysOK(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(&fakeStoreChecker{}, nil)
	r := gin.New()
	r.GET("/health", h.Liveness)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestReadiness_NoBusConfigured_AlwaysReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(&fakeStoreChecker{}, nil)
	r := gin.New()
	r.GET("/health/ready", h.Readiness)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "disabled")
}

func TestReadiness_StoreDegraded_StillReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandler(&fakeStoreChecker{err: errors.New("connection refused")}, nil)
	r := gin.New()
	r.GET("/health/ready", h.Readiness)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "degraded")
}
