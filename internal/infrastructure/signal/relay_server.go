package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"callcore/internal/core/domain"
	"callcore/pkg/auth"
	"callcore/pkg/tracing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type RelayConfig struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
	AllowedOrigins    []string
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		PingInterval:      20 * time.Second,
		PongTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MessagesPerSecond: 50,
		Burst:             100,
		MaxMessageSize:    256 << 10,
		AllowedOrigins:    []string{"*"},
	}
}

// RelayServer routes call messages between the connected devices of
// recipients. Devices authenticate with a bearer token and register their
// identity key before sending.
type RelayServer struct {
	issuer    *auth.TokenIssuer
	directory Directory
	config    RelayConfig
	upgrader  websocket.Upgrader
	now       func() time.Time

	mu    sync.RWMutex
	conns map[domain.RecipientID]map[domain.DeviceID]*relayConn

	logger *zap.SugaredLogger
}

type relayConn struct {
	recipient   domain.RecipientID
	device      domain.DeviceID
	identityKey []byte
	conn        *websocket.Conn
	send        chan []byte
	limiter     *rate.Limiter
	done        chan struct{}
	closeOnce   sync.Once
}

func (c *relayConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func NewRelayServer(issuer *auth.TokenIssuer, directory Directory, cfg RelayConfig, logger *zap.SugaredLogger) *RelayServer {
	defaults := DefaultRelayConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = defaults.MessagesPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}

	s := &RelayServer{
		issuer:    issuer,
		directory: directory,
		config:    cfg,
		now:       time.Now,
		conns:     make(map[domain.RecipientID]map[domain.DeviceID]*relayConn),
		logger:    logger.With("component", "relay"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket authenticates and upgrades a device connection. The token
// comes from the Authorization header or, for browsers, the token query
// parameter.
func (s *RelayServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		var err error
		if token, err = auth.BearerToken(r.Header.Get("Authorization")); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
	}
	claims, err := s.issuer.Validate(token)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err)
		return
	}

	c := &relayConn{
		recipient: domain.RecipientID(claims.Recipient),
		device:    domain.DeviceID(claims.DeviceID),
		conn:      conn,
		send:      make(chan []byte, 64),
		limiter:   rate.NewLimiter(rate.Limit(s.config.MessagesPerSecond), s.config.Burst),
		done:      make(chan struct{}),
	}

	if old := s.attach(c); old != nil {
		s.logger.Infow("replacing connection of reconnecting device", "recipient", c.recipient, "device", c.device)
		old.close()
	}
	s.logger.Infow("device connected", "recipient", c.recipient, "device", c.device)

	go s.writePump(c)
	s.readPump(c)

	s.detach(c)
	c.close()
	s.logger.Infow("device disconnected", "recipient", c.recipient, "device", c.device)
}

func (s *RelayServer) attach(c *relayConn) *relayConn {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices := s.conns[c.recipient]
	if devices == nil {
		devices = make(map[domain.DeviceID]*relayConn)
		s.conns[c.recipient] = devices
	}
	old := devices[c.device]
	devices[c.device] = c
	return old
}

func (s *RelayServer) detach(c *relayConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices := s.conns[c.recipient]
	if devices[c.device] == c {
		delete(devices, c.device)
	}
	if len(devices) == 0 {
		delete(s.conns, c.recipient)
	}
}

func (s *RelayServer) readPump(c *relayConn) {
	c.conn.SetReadLimit(s.config.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading from device", "recipient", c.recipient, "device", c.device, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(s.config.PongTimeout))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Debugw("dropping undecodable frame", "recipient", c.recipient, "error", err)
			continue
		}
		s.enqueue(c, s.handleFrame(c, frame))
	}
}

func (s *RelayServer) writePump(c *relayConn) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Infow("error writing to device", "recipient", c.recipient, "device", c.device, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (s *RelayServer) enqueue(c *relayConn, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Errorw("failed to marshal frame", "type", frame.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		s.logger.Warnw("device send queue full, dropping frame", "recipient", c.recipient, "device", c.device, "type", frame.Type)
	}
}

func (s *RelayServer) handleFrame(c *relayConn, frame Frame) Frame {
	if !c.limiter.Allow() {
		return ackFor(frame.ID, AckRateLimited)
	}
	if err := frame.Validate(); err != nil {
		s.logger.Debugw("invalid frame", "recipient", c.recipient, "type", frame.Type, "error", err)
		return ackFor(frame.ID, AckInvalidFrame)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
	defer cancel()

	switch frame.Type {
	case FrameRegister:
		if err := s.directory.Register(ctx, c.recipient, c.device, frame.IdentityKey); err != nil {
			s.logger.Errorw("failed to register device", "recipient", c.recipient, "device", c.device, "error", err)
			return ackFor(frame.ID, AckInternal)
		}
		c.identityKey = append([]byte(nil), frame.IdentityKey...)
		return ackFor(frame.ID, "")
	case FrameSend:
		if c.identityKey == nil {
			return ackFor(frame.ID, AckNotRegistered)
		}
		return s.route(ctx, c, frame)
	default:
		return ackFor(frame.ID, AckInvalidFrame)
	}
}

func (s *RelayServer) route(ctx context.Context, from *relayConn, frame Frame) Frame {
	ctx, span := tracing.TraceRelayFrame(ctx, string(frame.Message.Type), string(frame.Recipient))
	defer span.End()

	key, err := s.directory.IdentityKey(ctx, frame.Recipient)
	if errors.Is(err, domain.ErrUnregisteredUser) {
		return ackFor(frame.ID, AckUnregisteredUser)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		s.logger.Errorw("failed to look up recipient", "recipient", frame.Recipient, "error", err)
		return ackFor(frame.ID, AckInternal)
	}
	if len(frame.IdentityKey) > 0 && !bytes.Equal(frame.IdentityKey, key) {
		ack := ackFor(frame.ID, AckUntrustedIdentity)
		ack.IdentityKey = key
		return ack
	}

	received := s.now()
	delivered := 0
	for _, target := range s.targets(from, frame.Recipient, frame.Message.DestinationDevice) {
		env := domain.CallEnvelope{
			Sender:          from.recipient,
			SenderDevice:    from.device,
			IdentityKey:     from.identityKey,
			ServerReceived:  received,
			ServerDelivered: s.now(),
			Message:         *frame.Message,
		}
		s.enqueue(target, Frame{Type: FrameDeliver, Envelope: &env})
		delivered++
	}

	s.logger.Debugw("routed call message",
		"from", from.recipient,
		"to", frame.Recipient,
		"type", frame.Message.Type,
		"call_id", frame.Message.CallID,
		"devices", delivered,
	)

	ack := ackFor(frame.ID, "")
	ack.IdentityKey = key
	return ack
}

// targets lists the connected devices a message goes to. The sending device
// never receives its own message.
func (s *RelayServer) targets(from *relayConn, recipient domain.RecipientID, destination domain.DeviceID) []*relayConn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*relayConn
	for device, c := range s.conns[recipient] {
		if recipient == from.recipient && device == from.device {
			continue
		}
		if destination != 0 && device != destination {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ConnectedDevices counts open device connections.
func (s *RelayServer) ConnectedDevices() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, devices := range s.conns {
		n += len(devices)
	}
	return n
}

// Close drops every connection.
func (s *RelayServer) Close() {
	s.mu.Lock()
	var all []*relayConn
	for _, devices := range s.conns {
		for _, c := range devices {
			all = append(all, c)
		}
	}
	s.mu.Unlock()

	for _, c := range all {
		c.close()
	}
}
