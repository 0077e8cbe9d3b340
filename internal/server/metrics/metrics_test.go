package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Transition("approved")
	m.Transition("approved")
	m.Decrypt(true)
	m.Decrypt(false)
	m.Decrypt(false)
	m.Notification(nil)
	m.Notification(errors.New("smtp down"))
	m.Swept(3)
	m.Swept(0)
	m.ObserveRPC("/gophvault.v1.Vault/Ping", "OK", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decrypts.WithLabelValues("granted")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.decrypts.WithLabelValues("denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.swept))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rpcTotal.WithLabelValues("/gophvault.v1.Vault/Ping", "OK")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("x")
		m.Decrypt(true)
		m.Notification(nil)
		m.Swept(1)
		m.ObserveRPC("m", "OK", 0)
		m.SetBuildInfo("dev")
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.SetBuildInfo("1.2.3")
	m.Decrypt(true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), `gophvault_build_info{version="1.2.3"} 1`))
	assert.Contains(t, string(body), `gophvault_decrypt_decisions_total{result="granted"} 1`)
}
