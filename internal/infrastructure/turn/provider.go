package turn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"callcore/internal/core/domain"
	"callcore/pkg/cache"
	"callcore/pkg/circuitbreaker"
	"callcore/pkg/retry"
	"callcore/pkg/tracing"
	"callcore/pkg/validation"

	"go.uber.org/zap"
)

var ErrNoTurnServers = errors.New("no turn servers configured")

const cacheKey = "turn"

type Config struct {
	// URL of the credential endpoint. Empty means only Static is used.
	URL      string
	Token    string
	Timeout  time.Duration
	CacheTTL time.Duration
	Retry    retry.Config
	Breaker  circuitbreaker.Config
	// Static is returned when the endpoint is unset or unreachable.
	Static domain.TurnServerInfo
}

type credentialsResponse struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	URLs     []string `json:"urls"`
	// TTL is the credential lifetime in seconds.
	TTL int64 `json:"ttl,omitempty"`
}

// Provider fetches short-lived TURN credentials. Successful fetches are
// cached, failures are retried behind a circuit breaker, and a static server
// is the last resort.
type Provider struct {
	config  Config
	client  *http.Client
	cache   *cache.TTL[string, domain.TurnServerInfo]
	breaker *circuitbreaker.Breaker
	logger  *zap.SugaredLogger
}

func NewProvider(cfg Config, logger *zap.SugaredLogger) *Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 12 * time.Hour
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	cfg.Retry.Retryable = func(err error) bool {
		return !errors.Is(err, circuitbreaker.ErrOpen)
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "turn"
	}

	logger = logger.With("component", "turn")
	breaker := circuitbreaker.New(cfg.Breaker)
	breaker.OnStateChange(func(name string, from, to circuitbreaker.State) {
		logger.Warnw("circuit breaker changed state", "breaker", name, "from", from, "to", to)
	})

	return &Provider{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		cache:   cache.NewTTL[string, domain.TurnServerInfo](cfg.CacheTTL),
		breaker: breaker,
		logger:  logger,
	}
}

func (p *Provider) TurnServerInfo(ctx context.Context) (domain.TurnServerInfo, error) {
	if p.config.URL == "" {
		return p.static()
	}

	info, err := p.cache.GetOrLoad(ctx, cacheKey, p.load)
	if err == nil {
		return info, nil
	}

	if static, serr := p.static(); serr == nil {
		p.logger.Warnw("using static turn server", "error", err)
		return static, nil
	}
	return domain.TurnServerInfo{}, err
}

func (p *Provider) static() (domain.TurnServerInfo, error) {
	if len(p.config.Static.URLs) == 0 {
		return domain.TurnServerInfo{}, ErrNoTurnServers
	}
	return p.config.Static, nil
}

func (p *Provider) load(ctx context.Context) (domain.TurnServerInfo, time.Duration, error) {
	resp, err := retry.DoWithResult(ctx, p.config.Retry, func(ctx context.Context) (credentialsResponse, error) {
		return circuitbreaker.Execute(ctx, p.breaker, p.fetch)
	})
	if err != nil {
		return domain.TurnServerInfo{}, 0, err
	}

	ttl := p.config.CacheTTL
	if resp.TTL > 0 {
		// Refresh well before the credentials expire.
		if credTTL := time.Duration(resp.TTL) * time.Second / 2; credTTL < ttl {
			ttl = credTTL
		}
	}
	return domain.TurnServerInfo{Username: resp.Username, Password: resp.Password, URLs: resp.URLs}, ttl, nil
}

func (p *Provider) fetch(ctx context.Context) (credentialsResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "turn.fetch_credentials")
	defer span.End()
	defer tracing.ObserveDuration(ctx, time.Now())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.URL, nil)
	if err != nil {
		return credentialsResponse{}, retry.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	if p.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.Token)
	}
	req.Header.Set("Accept", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		tracing.RecordError(ctx, err)
		return credentialsResponse{}, fmt.Errorf("failed to fetch turn credentials: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return credentialsResponse{}, fmt.Errorf("failed to read turn credentials: %w", err)
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return credentialsResponse{}, retry.Permanent(fmt.Errorf("turn credential endpoint refused: %s", res.Status))
	case res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests:
		return credentialsResponse{}, fmt.Errorf("turn credential endpoint failed: %s", res.Status)
	case res.StatusCode != http.StatusOK:
		return credentialsResponse{}, retry.Permanent(fmt.Errorf("unexpected turn credential status: %s", res.Status))
	}

	var creds credentialsResponse
	if err := json.Unmarshal(body, &creds); err != nil {
		return credentialsResponse{}, retry.Permanent(fmt.Errorf("failed to decode turn credentials: %w", err))
	}
	if len(creds.URLs) == 0 {
		return credentialsResponse{}, retry.Permanent(fmt.Errorf("turn credentials without urls"))
	}
	for _, u := range creds.URLs {
		if err := validation.ValidateIceURL(u); err != nil {
			return credentialsResponse{}, retry.Permanent(err)
		}
	}
	return creds, nil
}

// Invalidate drops cached credentials, for example after the engine reported
// an authentication failure.
func (p *Provider) Invalidate() {
	p.cache.Delete(cacheKey)
}

func (p *Provider) Close() {
	p.cache.Close()
}
