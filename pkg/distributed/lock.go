package distributed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned when the lease is owned by someone else.
var ErrNotHeld = errors.New("lease not held")

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Lease is an exclusive, self-renewing Redis lock. callerd takes one per
// (recipient, device) so two processes never drive the same device's calls.
type Lease struct {
	client redis.Cmdable
	key    string
	token  string
	ttl    time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	lost   chan struct{}
}

func NewLease(client redis.Cmdable, key string, ttl time.Duration) *Lease {
	return &Lease{
		client: client,
		key:    key,
		token:  newToken(),
		ttl:    ttl,
		lost:   make(chan struct{}),
	}
}

// DeviceLeaseKey names the lease for one device of a recipient.
func DeviceLeaseKey(recipient string, device uint32) string {
	return fmt.Sprintf("callcore:device:%s:%d", recipient, device)
}

func newToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

func (l *Lease) Key() string { return l.key }

// TryAcquire takes the lease if it is free and starts renewing it at half its
// TTL until Release or ctx ends.
func (l *Lease) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return false, nil
	}

	renewCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	go l.renew(renewCtx)
	return true, nil
}

// Acquire polls TryAcquire until it succeeds or ctx ends.
func (l *Lease) Acquire(ctx context.Context, poll time.Duration) error {
	for {
		ok, err := l.TryAcquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(poll):
		}
	}
}

// Lost is closed when a renewal finds the lease owned by someone else.
func (l *Lease) Lost() <-chan struct{} { return l.lost }

func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	l.mu.Unlock()

	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

func (l *Lease) renew(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
			if err != nil {
				// transient; the next tick retries before the TTL runs out
				continue
			}
			if n == 0 {
				close(l.lost)
				return
			}
		}
	}
}
