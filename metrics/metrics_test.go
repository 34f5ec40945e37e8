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
)

func TestOperations_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	ops := NewOperations(reg)

	ops.Observe("encrypt", "ok", 2*time.Millisecond)
	ops.Observe("encrypt", "ok", 3*time.Millisecond)
	ops.Observe("decrypt", "decryption_failed", time.Millisecond)
	ops.ObserveBatch("encrypt", 12)

	assert.Equal(t, 2.0, testutil.ToFloat64(ops.total.WithLabelValues("encrypt", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ops.total.WithLabelValues("decrypt", "decryption_failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(ops.duration))
}

type fakeSeal struct {
	sealed   bool
	progress int
}

func (f *fakeSeal) Sealed() bool  { return f.sealed }
func (f *fakeSeal) Progress() int { return f.progress }

func TestRegisterSealGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := &fakeSeal{sealed: true, progress: 2}
	RegisterSealGauges(reg, src)

	expected := `
# HELP egide_sealed 1 while the master key is unavailable
# TYPE egide_sealed gauge
egide_sealed 1
# HELP egide_unseal_progress Number of unseal shares accumulated towards the threshold
# TYPE egide_unseal_progress gauge
egide_unseal_progress 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "egide_sealed", "egide_unseal_progress"))

	src.sealed = false
	src.progress = 0
	n, err := testutil.GatherAndCount(reg, "egide_sealed")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHTTPRequests_StatusClass(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHTTPRequests(reg)

	h.Observe(http.MethodPost, "/v1/transit/encrypt/{name}", http.StatusOK, time.Millisecond)
	h.Observe(http.MethodPost, "/v1/transit/encrypt/{name}", http.StatusServiceUnavailable, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.total.WithLabelValues("POST", "/v1/transit/encrypt/{name}", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.total.WithLabelValues("POST", "/v1/transit/encrypt/{name}", "5xx")))
}

func TestMetricsServer_Handler(t *testing.T) {
	srv, err := New("egide", "127.0.0.1:0")
	require.NoError(t, err)

	ops := NewOperations(srv.Registry())
	ops.Observe("sign", "ok", time.Millisecond)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `egide_operations_total{app="egide",operation="sign",outcome="ok"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
