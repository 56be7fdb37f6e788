package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"callcore/internal/core/domain"
	"callcore/pkg/optimize"
	"callcore/pkg/retry"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ClientConfig struct {
	URL          string
	Token        string
	IdentityKey  []byte
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	// ReconnectDelay is the first backoff step after a dropped connection.
	ReconnectDelay time.Duration
}

// Client is the device side of the relay. It implements
// ports.SignalingSender and hands received envelopes to a handler.
type Client struct {
	config  ClientConfig
	trust   *TrustStore
	dialer  *websocket.Dialer
	buffers *optimize.Pool[*bytes.Buffer]
	logger  *zap.SugaredLogger

	handler func(domain.CallEnvelope)

	mu      sync.Mutex
	session *clientSession
	pending map[string]chan Frame
}

type clientSession struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (s *clientSession) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func NewClient(cfg ClientConfig, trust *TrustStore, logger *zap.SugaredLogger) *Client {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if trust == nil {
		trust = NewTrustStore()
	}
	return &Client{
		config: cfg,
		trust:  trust,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		buffers: optimize.NewPool(
			func() *bytes.Buffer { return new(bytes.Buffer) },
			func(b *bytes.Buffer) { b.Reset() },
		),
		logger:  logger.With("component", "signal_client"),
		pending: make(map[string]chan Frame),
	}
}

// SetHandler installs the receiver of delivered envelopes. Call it before Run.
func (c *Client) SetHandler(fn func(domain.CallEnvelope)) {
	c.handler = fn
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Run keeps a registered connection to the relay until ctx ends, reconnecting
// with backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := retry.Config{
		InitialDelay: c.config.ReconnectDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       0.2,
	}
	attempt := 0
	for {
		connectedAt := time.Now()
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Since(connectedAt) > time.Minute {
			attempt = 0
		}
		delay := retry.Backoff(backoff, attempt)
		attempt++
		c.logger.Warnw("relay connection lost, reconnecting", "error", err, "attempt", attempt, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) runSession(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.config.Token)
	conn, _, err := c.dialer.DialContext(ctx, c.config.URL, header)
	if err != nil {
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	s := &clientSession{conn: conn, done: make(chan struct{})}
	defer s.close()

	_ = conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))
	})

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(s) }()

	if err := c.register(ctx, s); err != nil {
		return err
	}
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	c.logger.Infow("connected to relay", "url", c.config.URL)

	defer func() {
		c.mu.Lock()
		if c.session == s {
			c.session = nil
		}
		c.mu.Unlock()
	}()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = c.writeControl(s, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-ticker.C:
			if err := c.writeControl(s, websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("failed to ping relay: %w", err)
			}
		}
	}
}

func (c *Client) register(ctx context.Context, s *clientSession) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.WriteTimeout)
	defer cancel()

	ack, err := c.roundTrip(ctx, s, Frame{Type: FrameRegister, IdentityKey: c.config.IdentityKey})
	if err != nil {
		return fmt.Errorf("failed to register with relay: %w", err)
	}
	if ack.Error != "" {
		return fmt.Errorf("%w: register: %s", ErrRelayRejected, ack.Error)
	}
	return nil
}

func (c *Client) readLoop(s *clientSession) error {
	defer s.close()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warnw("dropping undecodable frame", "error", err)
			continue
		}

		switch frame.Type {
		case FrameAck:
			c.resolve(frame)
		case FrameDeliver:
			c.deliver(frame)
		default:
			c.logger.Debugw("ignoring frame", "type", frame.Type)
		}
	}
}

func (c *Client) resolve(ack Frame) {
	c.mu.Lock()
	ch, ok := c.pending[ack.ID]
	delete(c.pending, ack.ID)
	c.mu.Unlock()

	if ok {
		ch <- ack
	}
}

func (c *Client) deliver(frame Frame) {
	if err := frame.Validate(); err != nil {
		c.logger.Warnw("dropping invalid call message", "error", err)
		return
	}
	env := *frame.Envelope
	if !c.trust.Verify(env.Sender, env.IdentityKey) {
		c.logger.Warnw("dropping call message from sender with changed identity", "sender", env.Sender, "type", env.Message.Type)
		return
	}
	if c.handler != nil {
		c.handler(env)
	}
}

// SendCallMessage delivers msg through the relay and waits for its ack.
func (c *Client) SendCallMessage(ctx context.Context, recipient domain.RecipientID, msg domain.CallMessage) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return ErrNotConnected
	}

	frame := Frame{Type: FrameSend, Recipient: recipient, Message: &msg}
	if key, ok := c.trust.Trusted(recipient); ok {
		frame.IdentityKey = key
	}

	ack, err := c.roundTrip(ctx, s, frame)
	if err != nil {
		return err
	}

	switch ack.Error {
	case "":
		c.trust.Verify(recipient, ack.IdentityKey)
		return nil
	case AckUntrustedIdentity:
		return &domain.UntrustedIdentityError{Recipient: recipient, IdentityKey: ack.IdentityKey}
	case AckUnregisteredUser:
		return domain.ErrUnregisteredUser
	default:
		return fmt.Errorf("%w: %s", ErrRelayRejected, ack.Error)
	}
}

func (c *Client) roundTrip(ctx context.Context, s *clientSession, frame Frame) (Frame, error) {
	frame.ID = uuid.NewString()
	ch := make(chan Frame, 1)

	c.mu.Lock()
	c.pending[frame.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, frame.ID)
		c.mu.Unlock()
	}()

	if err := c.writeFrame(s, frame); err != nil {
		return Frame{}, err
	}

	select {
	case ack := <-ch:
		return ack, nil
	case <-s.done:
		return Frame{}, ErrConnectionLost
	case <-ctx.Done():
		return Frame{}, fmt.Errorf("waiting for relay ack: %w", ctx.Err())
	}
}

func (c *Client) writeFrame(s *clientSession, frame Frame) error {
	buf := c.buffers.Get()
	defer c.buffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(frame); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, buf.Bytes()); err != nil {
		s.close()
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (c *Client) writeControl(s *clientSession, messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteControl(messageType, data, time.Now().Add(c.config.WriteTimeout))
}

// Close drops the current connection. Run reconnects unless its context is
// done as well.
func (c *Client) Close() error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s != nil {
		s.close()
	}
	return nil
}

// Trust accepts key as the recipient's identity after the user confirmed it.
func (c *Client) Trust(recipient domain.RecipientID, key []byte) error {
	if len(key) == 0 {
		return errors.New("identity key is required")
	}
	c.trust.Trust(recipient, key)
	return nil
}
