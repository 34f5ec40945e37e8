package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nubster/egide/api"
	"github.com/nubster/egide/kms"
	"github.com/nubster/egide/seal"
	"github.com/nubster/egide/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-root-token"

func newTestServer(t *testing.T) (*Server, *seal.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backend := storage.NewMemoryBackend(logger)
	m, err := seal.NewManager(context.Background(), backend, logger)
	require.NoError(t, err)

	srv, err := New(&api.HTTPServerConfig{
		ListenAddr: "127.0.0.1:0",
		Log:        logger,
	}, m, kms.NewStore(m, backend, logger))
	require.NoError(t, err)
	return srv, m
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

// Test readiness through seal, unseal and drain transitions
func TestServer_Readiness(t *testing.T) {
	srv, m := newTestServer(t)
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/livez").Code)

	rr := get(t, h, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"status":"sealed"}`, rr.Body.String())

	_, err := m.InitializeDev(context.Background(), testToken)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)

	rr = get(t, h, "/drain")
	assert.JSONEq(t, `{"status":"draining"}`, rr.Body.String())
	rr = get(t, h, "/drain")
	assert.JSONEq(t, `{"status":"already draining"}`, rr.Body.String())
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)

	rr = get(t, h, "/undrain")
	assert.JSONEq(t, `{"status":"ready"}`, rr.Body.String())
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)
}

// Test that every route group is mounted and instrumented
func TestServer_Routes(t *testing.T) {
	srv, m := newTestServer(t)
	h := srv.Handler()

	_, err := m.InitializeDev(context.Background(), testToken)
	require.NoError(t, err)

	rr := get(t, h, "/v1/sys/seal-status")
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := json.Marshal(api.CreateKeyRequest{Name: "k1", Type: "aes256"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/kms/keys", bytes.NewReader(body))
	req.Header.Set(api.TokenHeader, testToken)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	body, err = json.Marshal(api.EncryptRequest{Plaintext: []byte("hello")})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/v1/transit/encrypt/k1", bytes.NewReader(body))
	req.Header.Set(api.TokenHeader, testToken)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, h, "/v1/unknown").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/debug/pprof/").Code, "pprof is disabled by default")

	n, err := testutil.GatherAndCount(srv.Gatherer(), "egide_http_requests_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 3)

	n, err = testutil.GatherAndCount(srv.Gatherer(), "egide_operations_total")
	require.NoError(t, err)
	assert.Positive(t, n)

	n, err = testutil.GatherAndCount(srv.Gatherer(), "egide_sealed")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
