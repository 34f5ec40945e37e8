package seal

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nubster/egide/cryptoutils"
	"github.com/nubster/egide/interfaces"
	"github.com/nubster/egide/shamir"
)

// rootGeneration is an in-progress generate-root session. It collects shares
// independently of unseal progress.
type rootGeneration struct {
	nonce   string
	otp     []byte
	pending map[byte][]byte
	started time.Time
}

// GenerateRootStatus describes the generate-root session.
type GenerateRootStatus struct {
	Started      bool      `json:"started"`
	Nonce        string    `json:"nonce,omitempty"`
	Progress     int       `json:"progress"`
	Required     int       `json:"required"`
	Complete     bool      `json:"complete"`
	EncodedToken string    `json:"encoded_token,omitempty"`
	OTPLength    int       `json:"otp_length"`
	StartedAt    time.Time `json:"started_at,omitempty"`
}

// GenerateRootInit opens a generate-root session. The new root token will be
// returned XORed with otp, which must be RootTokenSize bytes.
func (m *Manager) GenerateRootInit(ctx context.Context, otp []byte) (GenerateRootStatus, error) {
	if len(otp) != RootTokenSize {
		return GenerateRootStatus{}, fmt.Errorf("%w: otp must be %d bytes", interfaces.ErrInvalidArgument, RootTokenSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config == nil {
		return GenerateRootStatus{}, interfaces.ErrNotInitialized
	}
	if m.rootGen != nil {
		return m.rootStatusLocked(), fmt.Errorf("%w: root generation already in progress", interfaces.ErrOperationNotAllowed)
	}

	m.rootGen = &rootGeneration{
		nonce:   uuid.NewString(),
		otp:     append([]byte(nil), otp...),
		pending: map[byte][]byte{},
		started: time.Now().UTC(),
	}
	m.log.Info("Root token generation started", "nonce", m.rootGen.nonce)
	return m.rootStatusLocked(), nil
}

// GenerateRootUpdate submits a share to the session identified by nonce. When
// the threshold is reached the master key is reconstructed and verified, a new
// root token replaces the old one, and the session ends. The returned status
// then carries the encoded token. A failed verification cancels the session.
func (m *Manager) GenerateRootUpdate(ctx context.Context, nonce string, share []byte) (GenerateRootStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	gen := m.rootGen
	if gen == nil {
		return GenerateRootStatus{}, fmt.Errorf("%w: no root generation in progress", interfaces.ErrInvalidArgument)
	}
	if nonce != gen.nonce {
		return m.rootStatusLocked(), fmt.Errorf("%w: nonce does not match the root generation in progress", interfaces.ErrInvalidArgument)
	}
	if !validShare(share) {
		return m.rootStatusLocked(), interfaces.ErrInvalidUnsealKey
	}

	idx := shamir.ShareIndex(share)
	if _, dup := gen.pending[idx]; !dup {
		gen.pending[idx] = append([]byte(nil), share...)
	}
	if len(gen.pending) < m.config.Threshold {
		return m.rootStatusLocked(), nil
	}

	key, err := m.reconstruct(gen.pending)
	if err != nil {
		m.cancelRootLocked()
		m.log.Warn("Root token generation failed verification")
		return GenerateRootStatus{}, err
	}
	cryptoutils.Wipe(key)

	token, raw, err := newRootToken()
	if err != nil {
		m.cancelRootLocked()
		return GenerateRootStatus{}, err
	}
	defer cryptoutils.Wipe(raw)

	tokenHash, err := hashToken(token)
	if err != nil {
		m.cancelRootLocked()
		return GenerateRootStatus{}, err
	}
	if err := m.storage.Put(ctx, RootTokenHashPath, []byte(tokenHash)); err != nil {
		m.cancelRootLocked()
		return GenerateRootStatus{}, fmt.Errorf("failed to store root token hash: %w", err)
	}
	m.forgetVerifiedRoot()

	status := GenerateRootStatus{
		Started:      true,
		Nonce:        gen.nonce,
		Progress:     len(gen.pending),
		Required:     m.config.Threshold,
		Complete:     true,
		EncodedToken: base64.StdEncoding.EncodeToString(xorBytes(raw, gen.otp)),
		OTPLength:    RootTokenSize,
		StartedAt:    gen.started,
	}
	m.cancelRootLocked()

	m.log.Info("Root token generation completed")
	return status, nil
}

// GenerateRootCancel discards the session, if any.
func (m *Manager) GenerateRootCancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelRootLocked()
}

// GenerateRootStatus reports the session progress.
func (m *Manager) GenerateRootStatus() GenerateRootStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rootStatusLocked()
}

func (m *Manager) rootStatusLocked() GenerateRootStatus {
	status := GenerateRootStatus{OTPLength: RootTokenSize}
	if m.config != nil {
		status.Required = m.config.Threshold
	}
	if gen := m.rootGen; gen != nil {
		status.Started = true
		status.Nonce = gen.nonce
		status.Progress = len(gen.pending)
		status.StartedAt = gen.started
	}
	return status
}

func (m *Manager) cancelRootLocked() {
	gen := m.rootGen
	if gen == nil {
		return
	}
	for _, s := range gen.pending {
		cryptoutils.Wipe(s)
	}
	cryptoutils.Wipe(gen.otp)
	m.rootGen = nil
}
