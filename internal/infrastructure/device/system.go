package device

import (
	"sync"

	"callcore/internal/core/domain"

	"go.uber.org/zap"
)

// PhoneLock records the wake/proximity lock the current call needs.
type PhoneLock struct {
	mu     sync.Mutex
	state  domain.PhoneState
	logger *zap.SugaredLogger
}

func NewPhoneLock(logger *zap.SugaredLogger) *PhoneLock {
	return &PhoneLock{logger: logger.With("component", "phone_lock")}
}

func (l *PhoneLock) UpdatePhoneState(state domain.PhoneState) {
	l.mu.Lock()
	changed := l.state != state
	l.state = state
	l.mu.Unlock()
	if changed {
		l.logger.Debugw("phone state changed", "state", state)
	}
}

func (l *PhoneLock) State() domain.PhoneState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Notification is the ongoing-call notification currently shown.
type Notification struct {
	Type      domain.NotificationType `json:"type"`
	Recipient domain.RecipientID      `json:"recipient"`
}

// Notifications stands in for the foreground service that keeps the call
// process alive.
type Notifications struct {
	mu      sync.Mutex
	current *Notification
	logger  *zap.SugaredLogger
}

func NewNotifications(logger *zap.SugaredLogger) *Notifications {
	return &Notifications{logger: logger.With("component", "notifications")}
}

func (n *Notifications) StartForegroundService(kind domain.NotificationType, recipient domain.RecipientID) {
	n.show(kind, recipient)
	n.logger.Infow("foreground service started", "type", kind, "recipient", recipient)
}

func (n *Notifications) SetCallInProgressNotification(kind domain.NotificationType, recipient domain.RecipientID) {
	n.show(kind, recipient)
}

func (n *Notifications) StopForegroundService() {
	n.mu.Lock()
	n.current = nil
	n.mu.Unlock()
	n.logger.Info("foreground service stopped")
}

func (n *Notifications) show(kind domain.NotificationType, recipient domain.RecipientID) {
	n.mu.Lock()
	n.current = &Notification{Type: kind, Recipient: recipient}
	n.mu.Unlock()
}

// Current returns the shown notification, if any.
func (n *Notifications) Current() (Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.current == nil {
		return Notification{}, false
	}
	return *n.current, true
}

// AppVisibility tracks whether the controlling UI is in the foreground. The
// control API reports changes through SetForeground.
type AppVisibility struct {
	mu         sync.Mutex
	foreground bool
	listener   func(bool)
}

func NewAppVisibility(foreground bool) *AppVisibility {
	return &AppVisibility{foreground: foreground}
}

func (v *AppVisibility) AddListener(listener func(foreground bool)) {
	v.mu.Lock()
	v.listener = listener
	v.mu.Unlock()
}

func (v *AppVisibility) RemoveListener() {
	v.mu.Lock()
	v.listener = nil
	v.mu.Unlock()
}

// SetForeground records the new visibility and notifies the listener on change.
func (v *AppVisibility) SetForeground(foreground bool) {
	v.mu.Lock()
	changed := v.foreground != foreground
	v.foreground = foreground
	listener := v.listener
	v.mu.Unlock()

	if changed && listener != nil {
		listener(foreground)
	}
}

func (v *AppVisibility) Foreground() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.foreground
}

// PstnLine reports whether a carrier call occupies the device.
type PstnLine struct {
	mu      sync.Mutex
	offHook bool
}

func NewPstnLine() *PstnLine {
	return &PstnLine{}
}

func (p *PstnLine) SetOffHook(offHook bool) {
	p.mu.Lock()
	p.offHook = offHook
	p.mu.Unlock()
}

func (p *PstnLine) IsAnyPstnLineBusy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offHook
}
