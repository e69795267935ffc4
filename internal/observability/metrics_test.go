package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chain-reactor/internal/transport"
)

func TestObserveCall_ClassifiesErrors(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.ObserveCall("eth_call", 10*time.Millisecond, nil)
	m.ObserveCall("eth_call", time.Second, &transport.TimeoutError{Method: "eth_call", After: time.Second})
	m.ObserveCall("eth_call", time.Millisecond, &transport.RPCError{Code: -32000, Message: "nope"})
	m.ObserveCall("eth_call", time.Millisecond, transport.ErrConnectionLost)
	m.ObserveCall("eth_call", time.Millisecond, context.Canceled)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCCallErrors.WithLabelValues("eth_call", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCCallErrors.WithLabelValues("eth_call", "rpc")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCCallErrors.WithLabelValues("eth_call", "connection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCCallErrors.WithLabelValues("eth_call", "error")))
	assert.Equal(t, 5, testutil.CollectAndCount(m.RPCCallLatency))
}

func TestHandlerFor_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)
	m.BundlesSimulated.Inc()

	srv := httptest.NewServer(HandlerFor(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "test_bundle_simulated_total 1")
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics("dup", reg)
	assert.Panics(t, func() { NewMetrics("dup", reg) })
}
