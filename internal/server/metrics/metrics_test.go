package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnections(t *testing.T) {
	m := New()
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.ConnectionRejected()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConnectionsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RejectedConnections))
}

func TestObserveCommand(t *testing.T) {
	m := New()
	m.ObserveCommand("login", true, 5*time.Millisecond)
	m.ObserveCommand("login", false, time.Millisecond)
	m.ObserveCommand("login", false, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commands.WithLabelValues("login", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Commands.WithLabelValues("login", "failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.CommandDuration))
}

func TestNilIsNoop(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.ConnectionRejected()
	m.ObserveCommand("x", true, 0)
	m.AuditRecordDropped()
	assert.Equal(t, http.DefaultTransport, m.InstrumentRoundTripper(http.DefaultTransport))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveCommand("help", true, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `passvault_commands_total{command="help",status="success"} 1`)
}

func TestInstrumentRoundTripper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	m := New()
	client := &http.Client{Transport: m.InstrumentRoundTripper(nil)}
	resp, err := client.Post(srv.URL, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SafetyRequests.WithLabelValues("418", "post")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SafetyInFlight))
}
