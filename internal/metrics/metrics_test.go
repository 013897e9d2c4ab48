package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/beastmode/internal/dispatch"
	"github.com/roach88/beastmode/internal/engine"
)

var (
	_ dispatch.Observer = (*Metrics)(nil)
	_ engine.Observer   = (*Metrics)(nil)
)

func TestObserveDispatch(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveDispatch("create-tenants", "ok", 1, 20*time.Millisecond)
	m.ObserveDispatch("create-tenants", "ok", 3, time.Second)
	m.ObserveDispatch("create-tenants", "failed", 3, time.Second)
	m.ObserveDispatch("mass-provision", "confirm", 0, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("create-tenants", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("create-tenants", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatchTotal.WithLabelValues("mass-provision", "confirm")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.dispatchDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.dispatchAttempts), "gated dispatches made no attempt")
}

func TestObserveTurn(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveTurn("match", time.Millisecond)
	m.ObserveTurn("match", time.Millisecond)
	m.ObserveTurn("fallback", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turnsTotal.WithLabelValues("match")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turnsTotal.WithLabelValues("fallback")))
}

func TestRegisterGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	n := 3
	RegisterGauge(reg, "sessions_active", "Live sessions", func() int { return n })

	expected := `
# HELP beastmode_sessions_active Live sessions
# TYPE beastmode_sessions_active gauge
beastmode_sessions_active 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "beastmode_sessions_active"))

	n = 5
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(strings.Replace(expected, " 3\n", " 5\n", 1)), "beastmode_sessions_active"))
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)
	m.ObserveTurn("match", time.Millisecond)

	srv := httptest.NewServer(Handler(reg))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `beastmode_turns_total{route="match"} 1`)
	assert.Contains(t, string(body), "go_goroutines")

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
