package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesComponent(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "ledger", zerolog.InfoLevel)
	log.Debug().Msg("hidden")
	log.Info().Str("number", "tx-1").Msg("recorded")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "ledger", line["component"])
	assert.Equal(t, "tx-1", line["number"])
	assert.Equal(t, "info", line["level"])
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, ParseLogLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLogLevel("bogus"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLogLevel("error"))
}

func TestMetricsRegisterOnPrivateRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.TransactionsRecorded.WithLabelValues("success").Inc()
	m.SetChannelMetrics("notify", 5, 10)

	var c dto.Metric
	require.NoError(t, m.TransactionsRecorded.WithLabelValues("success").Write(&c))
	assert.Equal(t, 1.0, c.GetCounter().GetValue())

	var g dto.Metric
	require.NoError(t, m.ChannelUtilization.WithLabelValues("notify").Write(&g))
	assert.Equal(t, 0.5, g.GetGauge().GetValue())

	// A second set on a fresh registry must not collide.
	NewMetrics(prometheus.NewRegistry())
}

func TestReadiness(t *testing.T) {
	h := NewHealthChecker()

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.SetReady(true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.AddCheck("postgres", func(context.Context) error { return errors.New("down") })
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "down")

	rec = httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
