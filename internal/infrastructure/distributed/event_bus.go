package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"callcore/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type EventType string

const EventCallState EventType = "call.state"

// Event carries one posted view model of one device.
type Event struct {
	Type       EventType               `json:"type"`
	InstanceID string                  `json:"instance_id"`
	Recipient  domain.RecipientID      `json:"recipient"`
	DeviceID   domain.DeviceID         `json:"device_id"`
	Timestamp  time.Time               `json:"timestamp"`
	ViewModel  *domain.WebRtcViewModel `json:"view_model,omitempty"`
}

func DecodeEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("event without type")
	}
	return &event, nil
}

// EventBus publishes every posted view model to a Redis channel. It is a
// ports.StateObserver: OnCallStateChanged only queues, Run does the I/O.
type EventBus struct {
	client     redis.Cmdable
	channel    string
	instanceID string
	recipient  domain.RecipientID
	device     domain.DeviceID
	timeout    time.Duration
	logger     *zap.SugaredLogger

	queue     chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewEventBus(client redis.Cmdable, channel, instanceID string, recipient domain.RecipientID, device domain.DeviceID, logger *zap.SugaredLogger) *EventBus {
	return &EventBus{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		recipient:  recipient,
		device:     device,
		timeout:    2 * time.Second,
		logger:     logger.With("component", "event_bus"),
		queue:      make(chan Event, 64),
		done:       make(chan struct{}),
	}
}

func (eb *EventBus) OnCallStateChanged(vm domain.WebRtcViewModel) {
	event := Event{
		Type:      EventCallState,
		Recipient: eb.recipient,
		DeviceID:  eb.device,
		ViewModel: &vm,
	}
	select {
	case eb.queue <- event:
	default:
		eb.logger.Warnw("event queue full, dropping call state", "state", vm.State, "call_id", vm.CallID)
	}
}

// Run publishes queued events until ctx ends or Close is called.
func (eb *EventBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-eb.done:
			return
		case event := <-eb.queue:
			pubCtx, cancel := context.WithTimeout(ctx, eb.timeout)
			if err := eb.Publish(pubCtx, &event); err != nil {
				eb.logger.Warnw("failed to publish call state", "error", err)
			}
			cancel()
		}
	}
}

func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event", "type", event.Type, "channel", eb.channel)
	return nil
}

func (eb *EventBus) Close() error {
	eb.closeOnce.Do(func() { close(eb.done) })
	return nil
}
