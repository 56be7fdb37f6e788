package distributed

import (
	"context"
	"fmt"
	"strconv"

	"callcore/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

const devicesKeyPrefix = "callcore:devices:"

// DeviceRegistry records which devices a recipient has registered with the
// relay and their identity keys. Registrations outlive connections: a
// recipient stays registered while all of its devices are offline.
type DeviceRegistry struct {
	client redis.Cmdable
}

func NewDeviceRegistry(client redis.Cmdable) *DeviceRegistry {
	return &DeviceRegistry{client: client}
}

func devicesKey(recipient domain.RecipientID) string {
	return devicesKeyPrefix + string(recipient)
}

func (r *DeviceRegistry) Register(ctx context.Context, recipient domain.RecipientID, device domain.DeviceID, identityKey []byte) error {
	field := strconv.FormatUint(uint64(device), 10)
	if err := r.client.HSet(ctx, devicesKey(recipient), field, identityKey).Err(); err != nil {
		return fmt.Errorf("failed to register device %s: %w", field, err)
	}
	return nil
}

// IdentityKey returns the key of the recipient's lowest-numbered device, or
// domain.ErrUnregisteredUser when no device was ever registered.
func (r *DeviceRegistry) IdentityKey(ctx context.Context, recipient domain.RecipientID) ([]byte, error) {
	devices, err := r.client.HGetAll(ctx, devicesKey(recipient)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}

	var (
		primary uint64
		key     []byte
		found   bool
	)
	for field, value := range devices {
		id, err := strconv.ParseUint(field, 10, 32)
		if err != nil {
			continue
		}
		if !found || id < primary {
			primary, key, found = id, []byte(value), true
		}
	}
	if !found {
		return nil, domain.ErrUnregisteredUser
	}
	return key, nil
}
