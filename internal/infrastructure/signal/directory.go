package signal

import (
	"bytes"
	"context"
	"sync"

	"callcore/internal/core/domain"
)

// Directory is where the relay records registered devices. A Redis-backed
// implementation lives in the distributed package.
type Directory interface {
	Register(ctx context.Context, recipient domain.RecipientID, device domain.DeviceID, identityKey []byte) error
	// IdentityKey returns domain.ErrUnregisteredUser for unknown recipients.
	IdentityKey(ctx context.Context, recipient domain.RecipientID) ([]byte, error)
}

type MemoryDirectory struct {
	mu      sync.RWMutex
	devices map[domain.RecipientID]map[domain.DeviceID][]byte
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{devices: make(map[domain.RecipientID]map[domain.DeviceID][]byte)}
}

func (d *MemoryDirectory) Register(_ context.Context, recipient domain.RecipientID, device domain.DeviceID, identityKey []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.devices[recipient] == nil {
		d.devices[recipient] = make(map[domain.DeviceID][]byte)
	}
	d.devices[recipient][device] = append([]byte(nil), identityKey...)
	return nil
}

func (d *MemoryDirectory) IdentityKey(_ context.Context, recipient domain.RecipientID) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var (
		primary domain.DeviceID
		key     []byte
	)
	for device, k := range d.devices[recipient] {
		if key == nil || device < primary {
			primary, key = device, k
		}
	}
	if key == nil {
		return nil, domain.ErrUnregisteredUser
	}
	return append([]byte(nil), key...), nil
}

// TrustStore remembers the identity key first seen for each recipient.
type TrustStore struct {
	mu   sync.RWMutex
	keys map[domain.RecipientID][]byte
}

func NewTrustStore() *TrustStore {
	return &TrustStore{keys: make(map[domain.RecipientID][]byte)}
}

func (t *TrustStore) Trusted(recipient domain.RecipientID) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key, ok := t.keys[recipient]
	return key, ok
}

// Trust records key as the recipient's identity, replacing any earlier one.
func (t *TrustStore) Trust(recipient domain.RecipientID, key []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys[recipient] = append([]byte(nil), key...)
}

// Verify trusts key on first use and reports whether it matches afterwards.
func (t *TrustStore) Verify(recipient domain.RecipientID, key []byte) bool {
	if len(key) == 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	known, ok := t.keys[recipient]
	if !ok {
		t.keys[recipient] = append([]byte(nil), key...)
		return true
	}
	return bytes.Equal(known, key)
}
