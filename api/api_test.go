package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nubster/egide/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAuthenticator struct {
	mock.Mock
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, token string) (interfaces.AuthContext, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(interfaces.AuthContext), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{interfaces.ErrSealed, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: key %q", interfaces.ErrNotFound, "k"), http.StatusNotFound},
		{interfaces.ErrAlreadyExists, http.StatusConflict},
		{interfaces.ErrAlreadyInitialized, http.StatusConflict},
		{interfaces.ErrInvalidCiphertext, http.StatusBadRequest},
		{interfaces.ErrDecryptionFailed, http.StatusBadRequest},
		{interfaces.ErrVersionNotAllowed, http.StatusBadRequest},
		{interfaces.ErrInvalidUnsealKey, http.StatusBadRequest},
		{interfaces.ErrUnauthorized, http.StatusForbidden},
		{interfaces.ErrExportDisabled, http.StatusForbidden},
		{interfaces.ErrKeyDisabled, http.StatusForbidden},
		{interfaces.ErrCryptoBackend, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

// Test WriteError - internal errors carry no detail
func TestWriteError_HidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, testLogger(), errors.New("dial tcp 10.0.0.3:6379: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "internal error", body.Error)
	assert.Equal(t, "internal", body.Kind)
}

// Test WriteError - crypto backend failures keep only the generic message
func TestWriteError_HidesCryptoBackendDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, testLogger(), fmt.Errorf("%w: unwrap key %q: cipher: message authentication failed", interfaces.ErrCryptoBackend, "orders"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, interfaces.ErrCryptoBackend.Error(), body.Error)
	assert.Equal(t, "crypto_backend", body.Kind)
}

func TestWriteError_KnownKind(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteError(rr, testLogger(), fmt.Errorf("%w: key %q", interfaces.ErrNotFound, "orders"))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "not_found", body.Kind)
	assert.Contains(t, body.Error, "orders")
}

func TestDecodeJSON(t *testing.T) {
	var v InitRequest
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"secret_shares":5,"secret_threshold":3}`))
	require.NoError(t, DecodeJSON(httptest.NewRecorder(), r, &v))
	assert.Equal(t, InitRequest{SecretShares: 5, SecretThreshold: 3}, v)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"shares":5}`))
	assert.ErrorIs(t, DecodeJSON(httptest.NewRecorder(), r, &v), interfaces.ErrInvalidArgument)

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.ErrorIs(t, DecodeJSON(httptest.NewRecorder(), r, &v), interfaces.ErrInvalidArgument)
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", TokenFromRequest(r))

	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", TokenFromRequest(r))

	r.Header.Set(TokenHeader, "xyz")
	assert.Equal(t, "xyz", TokenFromRequest(r))
}

func TestRequireToken(t *testing.T) {
	auth := &mockAuthenticator{}
	auth.On("Authenticate", mock.Anything, "good").Return(interfaces.RootAuthContext(), nil)
	auth.On("Authenticate", mock.Anything, "bad").Return(interfaces.AuthContext{}, interfaces.ErrUnauthorized)

	var seen interfaces.AuthContext
	h := RequireToken(auth, testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = interfaces.AuthContextFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(TokenHeader, "bad")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(TokenHeader, "good")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, seen.IsRoot())

	auth.AssertExpectations(t)
}

func TestClientLimiter(t *testing.T) {
	l := NewClientLimiter(1, 2)
	now := time.Now()

	assert.True(t, l.Allow("10.0.0.1", now))
	assert.True(t, l.Allow("10.0.0.1", now))
	assert.False(t, l.Allow("10.0.0.1", now))
	assert.True(t, l.Allow("10.0.0.2", now), "buckets are per client")
	assert.True(t, l.Allow("10.0.0.1", now.Add(time.Second)))

	var disabled *ClientLimiter
	assert.Nil(t, NewClientLimiter(0, 5))
	assert.True(t, disabled.Allow("10.0.0.1", now))
}

func TestClientLimiter_Middleware(t *testing.T) {
	l := NewClientLimiter(0.5, 1)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodPost, "/v1/sys/unseal", nil)
	r.RemoteAddr = "192.0.2.1:4000"

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
}
