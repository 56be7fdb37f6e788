package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without calling the protected function while the
// breaker is open or its half-open probes are all in flight.
var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type Config struct {
	Name string
	// MinRequests is how many calls a closed breaker needs to see before the
	// failure ratio is trusted.
	MinRequests  int
	FailureRatio float64
	// Timeout is how long the breaker stays open before letting probes through.
	Timeout        time.Duration
	HalfOpenProbes int
}

func DefaultConfig() Config {
	return Config{
		Name:           "default",
		MinRequests:    5,
		FailureRatio:   0.6,
		Timeout:        30 * time.Second,
		HalfOpenProbes: 1,
	}
}

// Counts are the calls seen since the breaker last changed state.
type Counts struct {
	Requests  int
	Successes int
	Failures  int
	InFlight  int
}

type Breaker struct {
	config Config
	now    func() time.Time

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time

	onStateChange func(name string, from, to State)
}

func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = def.MinRequests
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = def.FailureRatio
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = def.HalfOpenProbes
	}
	return &Breaker{config: cfg, now: time.Now}
}

// OnStateChange registers fn to be called after every transition. It runs on
// the goroutine that caused the transition, outside the breaker lock.
func (b *Breaker) OnStateChange(fn func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Execute runs fn through b. Errors caused by ctx ending are not counted
// against the protected dependency.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.before(); err != nil {
		return zero, err
	}

	result, err := fn(ctx)
	b.after(err == nil, ctx.Err() != nil)
	if err != nil {
		return zero, err
	}
	return result, nil
}

func (b *Breaker) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	var changed func()
	defer func() {
		b.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.config.Timeout {
			return ErrOpen
		}
		changed = b.transition(StateHalfOpen)
	}
	if b.state == StateHalfOpen && b.counts.InFlight >= b.config.HalfOpenProbes {
		return ErrOpen
	}

	b.counts.Requests++
	b.counts.InFlight++
	return nil
}

func (b *Breaker) after(success, cancelled bool) {
	b.mu.Lock()
	var changed func()
	defer func() {
		b.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	b.counts.InFlight--
	if cancelled && !success {
		b.counts.Requests--
		return
	}

	switch b.state {
	case StateClosed:
		if success {
			b.counts.Successes++
			return
		}
		b.counts.Failures++
		if b.counts.Requests >= b.config.MinRequests &&
			float64(b.counts.Failures)/float64(b.counts.Requests) >= b.config.FailureRatio {
			changed = b.transition(StateOpen)
		}
	case StateHalfOpen:
		if !success {
			changed = b.transition(StateOpen)
			return
		}
		b.counts.Successes++
		if b.counts.Successes >= b.config.HalfOpenProbes {
			changed = b.transition(StateClosed)
		}
	}
}

// transition must be called with mu held. It returns the notification to run
// once the lock is released.
func (b *Breaker) transition(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	b.counts = Counts{InFlight: b.counts.InFlight}
	if to == StateOpen {
		b.openedAt = b.now()
	}

	fn := b.onStateChange
	if fn == nil {
		return nil
	}
	name := b.config.Name
	return func() { fn(name, from, to) }
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.Timeout {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and forgets every count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	changed := b.transition(StateClosed)
	b.counts = Counts{}
	b.mu.Unlock()
	if changed != nil {
		changed()
	}
}
