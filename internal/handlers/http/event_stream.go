package http

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"callcore/internal/core/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const (
	eventWriteWait  = 10 * time.Second
	eventPingPeriod = 30 * time.Second
	eventBuffer     = 32
)

// Snapshotter returns the last posted view model.
type Snapshotter interface {
	LastPosted() (domain.WebRtcViewModel, bool)
}

// EventStream pushes every posted view model to websocket subscribers. It is
// registered with the call manager as a state observer.
type EventStream struct {
	snapshots Snapshotter
	upgrader  websocket.Upgrader
	logger    *zap.SugaredLogger

	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

type subscriber struct {
	send chan []byte
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.send) })
}

func NewEventStream(snapshots Snapshotter, allowedOrigins []string, logger *zap.SugaredLogger) *EventStream {
	origins := cors.New(cors.Options{AllowedOrigins: allowedOrigins})
	return &EventStream{
		snapshots: snapshots,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowedOrigins) == 0 || origins.OriginAllowed(r)
			},
		},
		logger:      logger.With("component", "event_stream"),
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (e *EventStream) SetupRoutes(router gin.IRouter) {
	router.GET("/api/v1/events", e.Handle)
}

// OnCallStateChanged fans vm out to subscribers. A subscriber that cannot keep
// up is disconnected.
func (e *EventStream) OnCallStateChanged(vm domain.WebRtcViewModel) {
	data, err := json.Marshal(vm)
	if err != nil {
		e.logger.Errorw("failed to encode view model", "error", err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for sub := range e.subscribers {
		select {
		case sub.send <- data:
		default:
			delete(e.subscribers, sub)
			sub.close()
			e.logger.Warn("dropping slow event subscriber")
		}
	}
}

func (e *EventStream) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscribers)
}

func (e *EventStream) Handle(c *gin.Context) {
	conn, err := e.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		e.logger.Debugw("event stream upgrade failed", "error", err)
		return
	}

	sub := &subscriber{send: make(chan []byte, eventBuffer)}
	if vm, ok := e.snapshots.LastPosted(); ok {
		if data, err := json.Marshal(vm); err == nil {
			sub.send <- data
		}
	}

	e.mu.Lock()
	e.subscribers[sub] = struct{}{}
	e.mu.Unlock()

	go e.readPump(conn, sub)
	e.writePump(conn, sub)
}

// readPump discards client frames and detects the close.
func (e *EventStream) readPump(conn *websocket.Conn, sub *subscriber) {
	defer e.remove(sub)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(2 * eventPingPeriod))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(2 * eventPingPeriod))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (e *EventStream) writePump(conn *websocket.Conn, sub *subscriber) {
	ticker := time.NewTicker(eventPingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case data, ok := <-sub.send:
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				e.remove(sub)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventWriteWait)); err != nil {
				e.remove(sub)
				return
			}
		}
	}
}

func (e *EventStream) remove(sub *subscriber) {
	e.mu.Lock()
	delete(e.subscribers, sub)
	e.mu.Unlock()
	sub.close()
}

// Close disconnects every subscriber.
func (e *EventStream) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for sub := range e.subscribers {
		delete(e.subscribers, sub)
		sub.close()
	}
}

// WithCORS wraps the control API for browser front ends on allowedOrigins.
func WithCORS(handler http.Handler, allowedOrigins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(handler)
}
