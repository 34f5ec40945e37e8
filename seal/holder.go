package seal

import (
	"sync"

	"github.com/nubster/egide/cryptoutils"
	"github.com/nubster/egide/interfaces"
	"go.uber.org/atomic"
)

// keyHolder owns the in-memory master key. Borrowers hold the read lock for
// the duration of their callback; wipe raises the sealing flag so new
// borrowers are turned away, takes the write lock once in-flight borrowers
// have drained, and zeroizes the key.
type keyHolder struct {
	mu      sync.RWMutex
	key     []byte
	sealing atomic.Bool
}

func (h *keyHolder) borrow(fn func(key []byte) error) error {
	if h.sealing.Load() {
		return interfaces.ErrSealed
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.key == nil || h.sealing.Load() {
		return interfaces.ErrSealed
	}
	return fn(h.key)
}

// load takes ownership of key.
func (h *keyHolder) load(key []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.key != nil {
		cryptoutils.Wipe(h.key)
	}
	h.key = key
	h.sealing.Store(false)
}

func (h *keyHolder) wipe() {
	h.sealing.Store(true)

	h.mu.Lock()
	defer h.mu.Unlock()

	cryptoutils.Wipe(h.key)
	h.key = nil
}

func (h *keyHolder) loaded() bool {
	if h.sealing.Load() {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.key != nil
}
