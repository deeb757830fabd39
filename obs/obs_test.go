package obs_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/finance-engine/obs"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, obs.ParseLevel(" DEBUG "))
	assert.Equal(t, slog.LevelWarn, obs.ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, obs.ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, obs.ParseLevel("verbose"))
}

func TestNewLogger_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := obs.NewLogger(&buf, "warn", true)

	logger.Info("dropped")
	logger.Warn("kept", "account", "OPS")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"msg":"kept"`)
	assert.Contains(t, buf.String(), `"account":"OPS"`)
	assert.Same(t, slog.Default(), obs.OrDefault(nil))
}

func TestInstrument_ExposesRouteLabels(t *testing.T) {
	obs.Init()
	obs.Init()

	h := obs.Instrument(func(*http.Request) string { return "/api/expenses/{id}" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/expenses/e-1", nil))
	obs.IntegrityViolation("negative_balance")
	obs.Transition("expense", "Valider")

	rec := httptest.NewRecorder()
	obs.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",route="/api/expenses/{id}",status="418"}`)
	assert.Contains(t, body, `finance_integrity_violations_total{kind="negative_balance"}`)
	assert.Contains(t, body, `finance_transitions_total{entity="expense",transition="Valider"}`)
	assert.NotContains(t, body, "e-1")
}
