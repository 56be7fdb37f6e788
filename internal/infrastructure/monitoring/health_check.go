package monitoring

import (
	"context"
	"sync"
	"time"

	"callcore/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex
}

type HealthCheck struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check, Timeout: timeout})
}

// AddRedisCheck pings Redis.
func (h *HealthChecker) AddRedisCheck(client redis.Cmdable, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, timeout)
}

// AddCallLogCheck reads one entry from the call log.
func (h *HealthChecker) AddCallLogCheck(repo ports.CallLogRepository, timeout time.Duration) {
	h.AddCheck("call_log", func(ctx context.Context) error {
		_, err := repo.List(ctx, 1)
		return err
	}, timeout)
}

// AddCallCoreCheck waits for the call state goroutine to drain its queue, which
// fails if it is wedged or stopped.
func (h *HealthChecker) AddCallCoreCheck(sync func(ctx context.Context) error, timeout time.Duration) {
	h.AddCheck("call_core", sync, timeout)
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
		err := check.Check(checkCtx)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks[check.Name] = err.Error()
		} else {
			status.Checks[check.Name] = "healthy"
		}
	}

	return status
}

// IsReady checks if the service is ready to accept traffic
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}
