package seal

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nubster/egide/cryptoutils"
	"github.com/nubster/egide/interfaces"
	"github.com/nubster/egide/shamir"
)

// Storage keys owned by the seal manager.
const (
	ConfigPath        = "sys/seal/config"
	DevKeyPath        = "sys/seal/dev_key"
	RootTokenHashPath = "sys/auth/root_token_hash"
)

// MasterKeySize is the size of the master key in bytes.
const MasterKeySize = 32

const verifyTag = "egide-seal-verify-v1"

// ShareSize is the length of every share of a MasterKeySize secret.
const ShareSize = MasterKeySize + shamir.ShareOverhead

type sealConfig struct {
	Shares       int       `json:"shares"`
	Threshold    int       `json:"threshold"`
	Verification string    `json:"verification"`
	DevMode      bool      `json:"dev_mode,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// InitResult is returned once by Initialize. The shares and the root token
// are never stored and cannot be retrieved again.
type InitResult struct {
	Shares    [][]byte
	RootToken string
}

// Status describes the seal state.
type Status struct {
	Initialized bool `json:"initialized"`
	Sealed      bool `json:"sealed"`
	Threshold   int  `json:"t"`
	Shares      int  `json:"n"`
	Progress    int  `json:"progress"`
	DevMode     bool `json:"dev_mode"`
}

// Manager owns the master key lifecycle: threshold initialization, unseal
// share accumulation, seal with drain, root token generation and validation.
// It is safe for concurrent use.
type Manager struct {
	storage interfaces.StorageBackend
	log     *slog.Logger
	holder  keyHolder

	mu      sync.Mutex
	config  *sealConfig
	pending map[byte][]byte
	rootGen *rootGeneration

	tokenMu      sync.Mutex
	verifiedRoot []byte
}

// NewManager loads the seal configuration from storage. A manager whose
// storage holds a dev mode key comes up unsealed.
func NewManager(ctx context.Context, storage interfaces.StorageBackend, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		storage: storage,
		log:     log,
		pending: map[byte][]byte{},
	}
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load(ctx context.Context) error {
	raw, err := m.storage.Get(ctx, ConfigPath)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read seal config: %w", err)
	}

	var cfg sealConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("failed to decode seal config: %w", err)
	}
	m.config = &cfg

	if !cfg.DevMode {
		m.log.Info("Seal configuration loaded", slog.Int("shares", cfg.Shares), slog.Int("threshold", cfg.Threshold))
		return nil
	}

	key, err := m.storage.Get(ctx, DevKeyPath)
	if err != nil {
		return fmt.Errorf("failed to read dev mode key: %w", err)
	}
	if !m.verifies(key) {
		cryptoutils.Wipe(key)
		return fmt.Errorf("%w: dev mode key does not match seal config", interfaces.ErrInvalidUnsealKey)
	}
	m.holder.load(key)
	m.log.Warn("Dev mode detected, auto-unsealed. Do not use in production")
	return nil
}

func verification(key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(verifyTag))
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *Manager) verifies(key []byte) bool {
	if m.config == nil || len(key) != MasterKeySize {
		return false
	}
	return cryptoutils.ConstantTimeEqual([]byte(verification(key)), []byte(m.config.Verification))
}

// Initialize generates a master key, splits it into shares of which
// threshold reconstruct it, and creates the initial root token. The manager
// stays sealed afterwards.
func (m *Manager) Initialize(ctx context.Context, shares, threshold int) (*InitResult, error) {
	if threshold < 1 || shares < threshold || shares > 255 {
		return nil, fmt.Errorf("%w: need 1 <= threshold <= shares <= 255, got shares=%d threshold=%d",
			interfaces.ErrInvalidArgument, shares, threshold)
	}
	if threshold == 1 && shares > 1 {
		return nil, fmt.Errorf("%w: threshold must be at least 2 when shares > 1", interfaces.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config != nil {
		return nil, interfaces.ErrAlreadyInitialized
	}

	key, err := cryptoutils.RandomBytes(MasterKeySize)
	if err != nil {
		return nil, err
	}
	defer cryptoutils.Wipe(key)

	parts, err := shamir.Split(key, shares, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split master key: %w", err)
	}

	cfg := &sealConfig{
		Shares:       shares,
		Threshold:    threshold,
		Verification: verification(key),
		CreatedAt:    time.Now().UTC(),
	}
	token, err := m.persistInit(ctx, cfg, nil, "")
	if err != nil {
		return nil, err
	}
	m.config = cfg

	m.log.Info("Initialized seal", slog.Int("shares", shares), slog.Int("threshold", threshold))
	return &InitResult{Shares: parts, RootToken: token}, nil
}

// InitializeDev initializes an unshared master key stored in plaintext and
// unseals immediately. When rootToken is empty a random one is generated.
func (m *Manager) InitializeDev(ctx context.Context, rootToken string) (*InitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config != nil {
		return nil, interfaces.ErrAlreadyInitialized
	}

	key, err := cryptoutils.RandomBytes(MasterKeySize)
	if err != nil {
		return nil, err
	}

	cfg := &sealConfig{
		Shares:       1,
		Threshold:    1,
		Verification: verification(key),
		DevMode:      true,
		CreatedAt:    time.Now().UTC(),
	}
	token, err := m.persistInit(ctx, cfg, key, rootToken)
	if err != nil {
		cryptoutils.Wipe(key)
		return nil, err
	}
	m.config = cfg
	m.holder.load(key)

	m.log.Warn("Initialized in dev mode, master key is stored in plaintext. Do not use in production")
	return &InitResult{RootToken: token}, nil
}

// persistInit writes the seal config, the root token hash and the optional
// dev key in one transaction. It fails if another process initialized first.
// An empty token is replaced by a random one.
func (m *Manager) persistInit(ctx context.Context, cfg *sealConfig, devKey []byte, token string) (string, error) {
	if token == "" {
		var raw []byte
		var err error
		token, raw, err = newRootToken()
		if err != nil {
			return "", err
		}
		cryptoutils.Wipe(raw)
	}

	tokenHash, err := hashToken(token)
	if err != nil {
		return "", err
	}
	rawConfig, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}

	err = m.storage.Txn(ctx, func(tx interfaces.Txn) error {
		if _, err := tx.Get(ConfigPath); err == nil {
			return interfaces.ErrAlreadyInitialized
		} else if !errors.Is(err, interfaces.ErrNotFound) {
			return err
		}
		if devKey != nil {
			if err := tx.Put(DevKeyPath, devKey); err != nil {
				return err
			}
		}
		if err := tx.Put(RootTokenHashPath, []byte(tokenHash)); err != nil {
			return err
		}
		return tx.Put(ConfigPath, rawConfig)
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist seal config: %w", err)
	}
	return token, nil
}

// Unseal submits one share. Shares are accumulated by index and a repeated
// index is ignored. Once threshold distinct shares are present the master key
// is reconstructed and verified; on mismatch every pending share is discarded
// and ErrInvalidUnsealKey is returned. Unseal on an unsealed manager returns
// the status unchanged.
func (m *Manager) Unseal(ctx context.Context, share []byte) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config == nil {
		return Status{}, interfaces.ErrNotInitialized
	}
	if m.holder.loaded() {
		return m.statusLocked(), nil
	}
	if !validShare(share) {
		return m.statusLocked(), interfaces.ErrInvalidUnsealKey
	}

	idx := shamir.ShareIndex(share)
	if _, dup := m.pending[idx]; !dup {
		m.pending[idx] = append([]byte(nil), share...)
	}
	if len(m.pending) < m.config.Threshold {
		return m.statusLocked(), nil
	}

	key, err := m.reconstruct(m.pending)
	m.clearPending()
	if err != nil {
		m.log.Warn("Master key reconstruction failed verification")
		return m.statusLocked(), err
	}

	m.holder.load(key)
	m.log.Info("Unsealed")
	return m.statusLocked(), nil
}

// ResetUnseal discards the shares submitted so far.
func (m *Manager) ResetUnseal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearPending()
}

func validShare(share []byte) bool {
	return len(share) == ShareSize && shamir.ShareIndex(share) != 0
}

// reconstruct combines shares and verifies the result. The caller owns the
// returned key.
func (m *Manager) reconstruct(shares map[byte][]byte) ([]byte, error) {
	parts := make([][]byte, 0, len(shares))
	for _, s := range shares {
		parts = append(parts, s)
	}

	key, err := shamir.Combine(parts)
	if err != nil {
		return nil, interfaces.ErrInvalidUnsealKey
	}
	if !m.verifies(key) {
		cryptoutils.Wipe(key)
		return nil, interfaces.ErrInvalidUnsealKey
	}
	return key, nil
}

func (m *Manager) clearPending() {
	for idx, s := range m.pending {
		cryptoutils.Wipe(s)
		delete(m.pending, idx)
	}
}

// Seal stops admitting new master key borrowers, waits for in-flight ones to
// finish and zeroizes the key. It requires the root token.
func (m *Manager) Seal(ctx context.Context, token string) error {
	if _, err := m.VerifyRootToken(ctx, token); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config == nil {
		return interfaces.ErrNotInitialized
	}
	if m.config.DevMode {
		return fmt.Errorf("%w: cannot seal in dev mode", interfaces.ErrOperationNotAllowed)
	}

	m.holder.wipe()
	m.clearPending()
	m.log.Info("Sealed")
	return nil
}

// WithMasterKey runs fn with the master key. The key must not be retained
// after fn returns, and fn must not call WithMasterKey again.
func (m *Manager) WithMasterKey(ctx context.Context, fn func(key []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.holder.borrow(fn)
}

// Sealed reports whether the master key is unavailable.
func (m *Manager) Sealed() bool {
	return !m.holder.loaded()
}

// Status returns the current seal state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Progress returns the number of unseal shares accumulated so far.
func (m *Manager) Progress() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *Manager) statusLocked() Status {
	if m.config == nil {
		return Status{Sealed: true}
	}
	return Status{
		Initialized: true,
		Sealed:      !m.holder.loaded(),
		Threshold:   m.config.Threshold,
		Shares:      m.config.Shares,
		Progress:    len(m.pending),
		DevMode:     m.config.DevMode,
	}
}

// VerifyRootToken checks token against the stored root token hash.
func (m *Manager) VerifyRootToken(ctx context.Context, token string) (interfaces.AuthContext, error) {
	if token == "" {
		return interfaces.AuthContext{}, interfaces.ErrUnauthorized
	}

	digest := sha256.Sum256([]byte(token))

	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()

	if m.verifiedRoot != nil && cryptoutils.ConstantTimeEqual(m.verifiedRoot, digest[:]) {
		return interfaces.RootAuthContext(), nil
	}

	encoded, err := m.storage.Get(ctx, RootTokenHashPath)
	if errors.Is(err, interfaces.ErrNotFound) {
		return interfaces.AuthContext{}, interfaces.ErrUnauthorized
	}
	if err != nil {
		return interfaces.AuthContext{}, fmt.Errorf("failed to read root token hash: %w", err)
	}

	ok, err := verifyToken(token, string(encoded))
	if err != nil {
		m.log.Error("Stored root token hash is unusable", "err", err)
		return interfaces.AuthContext{}, interfaces.ErrUnauthorized
	}
	if !ok {
		return interfaces.AuthContext{}, interfaces.ErrUnauthorized
	}

	m.verifiedRoot = digest[:]
	return interfaces.RootAuthContext(), nil
}

// Authenticate implements interfaces.Authenticator with the root token.
func (m *Manager) Authenticate(ctx context.Context, token string) (interfaces.AuthContext, error) {
	return m.VerifyRootToken(ctx, token)
}

func (m *Manager) forgetVerifiedRoot() {
	m.tokenMu.Lock()
	defer m.tokenMu.Unlock()
	m.verifiedRoot = nil
}
