package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyWithNothingRegistered(t *testing.T) {
	assert.True(t, Ready())
	assert.Equal(t, "ok", Health().Status)
}

func TestCriticalComponentGatesReadiness(t *testing.T) {
	Register("wal", true)
	t.Cleanup(func() { Deregister("wal") })

	assert.True(t, Ready())

	SetHealthy("wal", false, "log corruption")
	assert.False(t, Ready())
	report := Health()
	assert.Equal(t, "down", report.Status)
	assert.Equal(t, "unhealthy: log corruption", report.Components["wal"])

	SetHealthy("wal", true, "")
	assert.True(t, Ready())
	assert.Equal(t, "ok", Health().Components["wal"])
}

func TestNonCriticalComponentOnlyDegrades(t *testing.T) {
	Register("batch", false)
	t.Cleanup(func() { Deregister("batch") })

	SetHealthy("batch", false, "worker pool saturated")
	assert.True(t, Ready())
	assert.Equal(t, "degraded", Health().Status)
}

func TestRegistrationIsRefCounted(t *testing.T) {
	Register("wal", true)
	Register("wal", true) // second holder, e.g. an LSM engine's internal stream
	t.Cleanup(func() { Deregister("wal") })

	Deregister("wal")
	_, stillTracked := Health().Components["wal"]
	assert.True(t, stillTracked, "one holder remains, component must survive")
}

func TestDeregisterUnknownComponentIsANoop(t *testing.T) {
	Deregister("never-registered")
	assert.True(t, Ready())
}

func TestSetHealthyOnUnregisteredComponentIsANoop(t *testing.T) {
	SetHealthy("never-registered", false, "ignored")
	assert.Equal(t, "ok", Health().Status)
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	Register("coordinator", true)
	t.Cleanup(func() { Deregister("coordinator") })
	SetVersion("test-build")

	serve := func() (*httptest.ResponseRecorder, Report) {
		rec := httptest.NewRecorder()
		HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		var report Report
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&report))
		return rec, report
	}

	rec, report := serve()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", report.Status)
	assert.True(t, report.Ready)
	assert.Equal(t, "test-build", report.Version)

	SetHealthy("coordinator", false, "scheduler wedged")
	rec, report = serve()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "down", report.Status)
	assert.False(t, report.Ready)
}
