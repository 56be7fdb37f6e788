package turn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"callcore/internal/core/domain"
	"callcore/pkg/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func newTestProvider(t *testing.T, cfg Config) *Provider {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = fastRetry()
	}
	p := NewProvider(cfg, zaptest.NewLogger(t).Sugar())
	t.Cleanup(p.Close)
	return p
}

func TestProvider_StaticOnly(t *testing.T) {
	static := domain.TurnServerInfo{Username: "u", Password: "p", URLs: []string{"turn:turn.example.org:3478"}}
	p := newTestProvider(t, Config{Static: static})

	info, err := p.TurnServerInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, static, info)

	_, err = newTestProvider(t, Config{}).TurnServerInfo(context.Background())
	assert.ErrorIs(t, err, ErrNoTurnServers)
}

func TestProvider_FetchesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "Bearer device-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"username":"1700000000:alice","password":"secret","urls":["turn:turn.example.org:3478?transport=udp"],"ttl":86400}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, Config{URL: srv.URL, Token: "device-token"})

	for i := 0; i < 3; i++ {
		info, err := p.TurnServerInfo(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "1700000000:alice", info.Username)
		assert.Equal(t, []string{"turn:turn.example.org:3478?transport=udp"}, info.URLs)
	}
	assert.Equal(t, int32(1), calls.Load())

	p.Invalidate()
	_, err := p.TurnServerInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProvider_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"username":"u","password":"p","urls":["turns:turn.example.org:443"]}`))
	}))
	defer srv.Close()

	info, err := newTestProvider(t, Config{URL: srv.URL}).TurnServerInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u", info.Username)
	assert.Equal(t, int32(3), calls.Load())
}

func TestProvider_UnauthorizedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestProvider(t, Config{URL: srv.URL}).TurnServerInfo(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProvider_FallsBackToStatic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"username":"u","password":"p","urls":["http://not-ice"]}`))
	}))
	defer srv.Close()

	static := domain.TurnServerInfo{URLs: []string{"turn:fallback.example.org"}}
	info, err := newTestProvider(t, Config{URL: srv.URL, Static: static}).TurnServerInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, static, info)
}

func TestProvider_CredentialTTLBoundsCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"username":"u","password":"p","urls":["turn:a.example.org"],"ttl":60}`))
	}))
	defer srv.Close()

	p := newTestProvider(t, Config{URL: srv.URL, CacheTTL: time.Hour})
	_, ttl, err := p.load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, ttl)
}
