package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taoyao-code/frigate-gateway/internal/registry"
)

type versionBackend struct {
	version string
	err     error
}

func (b *versionBackend) Retain(context.Context, string, bool) (json.RawMessage, error) {
	return nil, nil
}

func (b *versionBackend) GetRecordings(context.Context, string, *int64, *int64) (json.RawMessage, error) {
	return nil, nil
}

func (b *versionBackend) GetRecordingsSummary(context.Context, string) (json.RawMessage, error) {
	return nil, nil
}

func (b *versionBackend) Version(context.Context) (string, error) {
	return b.version, b.err
}

func TestFrigateChecker(t *testing.T) {
	down := errors.New("connection refused")

	tests := []struct {
		name     string
		backends map[string]*versionBackend
		want     Status
	}{
		{"无实例", nil, StatusDegraded},
		{"全部可达", map[string]*versionBackend{"a": {version: "0.14.1"}, "b": {version: "0.13.2"}}, StatusHealthy},
		{"部分不可达", map[string]*versionBackend{"a": {version: "0.14.1"}, "b": {err: down}}, StatusDegraded},
		{"全部不可达", map[string]*versionBackend{"a": {err: down}, "b": {err: down}}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := registry.New()
			for id, b := range tt.backends {
				reg.Register(id, b)
			}
			res := NewFrigateChecker(reg).Check(context.Background())
			assert.Equal(t, tt.want, res.Status)
			assert.Len(t, res.Details, len(tt.backends))
		})
	}
}

func TestFrigateChecker_Details(t *testing.T) {
	reg := registry.New()
	reg.Register("front", &versionBackend{version: "0.14.1"})

	res := NewFrigateChecker(reg).Check(context.Background())
	assert.Equal(t, "0.14.1", res.Details["front"])
	assert.Equal(t, "frigate", NewFrigateChecker(reg).Name())
}

func TestHTTPRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		status Status
		path   string
		want   int
	}{
		{"ready 健康", StatusHealthy, "/health/ready", http.StatusOK},
		{"ready 降级", StatusDegraded, "/health/ready", http.StatusOK},
		{"ready 不健康", StatusUnhealthy, "/health/ready", http.StatusServiceUnavailable},
		{"live", StatusUnhealthy, "/health/live", http.StatusOK},
		{"报告 降级", StatusDegraded, "/health", http.StatusOK},
		{"报告 不健康", StatusUnhealthy, "/health", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			RegisterHTTPRoutes(r, NewAggregator(&mockChecker{"frigate", tt.status}))

			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}

func TestHTTPRoutes_ReportBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterHTTPRoutes(r, NewAggregator(&mockChecker{"frigate", StatusDegraded}))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	var report Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Contains(t, report.Checks, "frigate")
}

func TestReadiness(t *testing.T) {
	r := New()
	assert.False(t, r.Ready())
	r.SetRegistryReady(true)
	assert.False(t, r.Ready())
	r.SetHTTPReady(true)
	assert.True(t, r.Ready())
}
