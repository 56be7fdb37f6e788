package distributed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceRegistry_ErrorsWhenRedisIsDown(t *testing.T) {
	r := NewDeviceRegistry(unreachableClient(t))
	ctx := context.Background()

	assert.Error(t, r.Register(ctx, "alice", 1, []byte("key")))
	_, err := r.IdentityKey(ctx, "alice")
	assert.Error(t, err)
}

func TestDevicesKey(t *testing.T) {
	assert.Equal(t, "callcore:devices:alice", devicesKey("alice"))
}
