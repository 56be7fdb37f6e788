package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"
	"callcore/internal/core/state"
	"callcore/pkg/tracing"

	"go.uber.org/zap"
)

type ManagerConfig struct {
	LocalDevice      domain.DeviceID
	LocalIdentityKey []byte
	// AlwaysTurn relays every call through TURN so peers never see our address.
	AlwaysTurn        bool
	DefaultIceServers []domain.IceServer
	SendTimeout       time.Duration
	TurnTimeout       time.Duration
	CallLogTimeout    time.Duration
}

func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		LocalDevice:       1,
		DefaultIceServers: []domain.IceServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
		SendTimeout:       10 * time.Second,
		TurnTimeout:       10 * time.Second,
		CallLogTimeout:    5 * time.Second,
	}
}

// Dependencies are the collaborators of the call manager. NewEngine is called
// once with the manager as engine observer.
type Dependencies struct {
	NewEngine     func(observer ports.EngineObserver) (ports.CallEngine, error)
	Signaling     ports.SignalingSender
	Turn          ports.TurnServerProvider
	CallLog       ports.CallLogRepository
	Recipients    ports.RecipientDirectory
	Audio         ports.AudioController
	PhoneLock     ports.PhoneLock
	Foreground    ports.ForegroundService
	AppForeground ports.AppForegroundObserver
	Video         ports.VideoFactory
	Telephony     ports.Telephony
	MainThread    ports.MainThread
	Metrics       ports.CallMetrics
	Observers     []ports.StateObserver
}

// CallManager serialises every call action onto one goroutine. UI commands,
// engine callbacks and network results all become actions; each action runs
// against the current state and the processor of its phase, and its result
// becomes the current state.
type CallManager struct {
	config     ManagerConfig
	engine     ports.CallEngine
	signaling  ports.SignalingSender
	turn       ports.TurnServerProvider
	callLog    ports.CallLogRepository
	recipients ports.RecipientDirectory
	metrics    ports.CallMetrics
	logger     *zap.SugaredLogger

	processors processorTable
	interactor *WebRtcInteractor

	serviceExecutor *serialExecutor
	networkExecutor *serialExecutor

	// Owned by serviceExecutor.
	serviceState *state.ServiceState
	observers    []ports.StateObserver

	lastPosted atomic.Pointer[domain.WebRtcViewModel]
	closeOnce  sync.Once
}

type processAction func(s *state.ServiceState, p ActionProcessor) *state.ServiceState

func NewCallManager(cfg ManagerConfig, deps Dependencies, logger *zap.SugaredLogger) (*CallManager, error) {
	if deps.NewEngine == nil {
		return nil, fmt.Errorf("call engine factory is required")
	}
	if deps.Signaling == nil {
		return nil, fmt.Errorf("signaling sender is required")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultManagerConfig().SendTimeout
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultManagerConfig().TurnTimeout
	}
	if cfg.CallLogTimeout <= 0 {
		cfg.CallLogTimeout = DefaultManagerConfig().CallLogTimeout
	}

	m := &CallManager{
		config:       cfg,
		signaling:    deps.Signaling,
		turn:         deps.Turn,
		callLog:      deps.CallLog,
		recipients:   deps.Recipients,
		metrics:      deps.Metrics,
		logger:       logger.With("component", "call_manager"),
		serviceState: state.New(),
		observers:    append([]ports.StateObserver(nil), deps.Observers...),
	}
	if m.recipients == nil {
		m.recipients = allowAllRecipients{}
	}

	engine, err := deps.NewEngine(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create call engine: %w", err)
	}
	m.engine = engine

	m.interactor = &WebRtcInteractor{
		manager:       m,
		engine:        engine,
		audio:         deps.Audio,
		phoneLock:     deps.PhoneLock,
		foreground:    deps.Foreground,
		appForeground: deps.AppForeground,
		video:         deps.Video,
		telephony:     deps.Telephony,
		mainThread:    deps.MainThread,
		recipients:    m.recipients,
		config: InteractorConfig{
			LocalDevice:      cfg.LocalDevice,
			LocalIdentityKey: cfg.LocalIdentityKey,
		},
		logger: m.logger,
	}
	m.processors = newProcessorTable(m.interactor, m.logger)

	var onDepth func(int)
	if m.metrics != nil {
		onDepth = m.metrics.ActionQueueDepth
	}
	m.serviceExecutor = newSerialExecutor("service", m.logger, onDepth)
	m.networkExecutor = newSerialExecutor("network", m.logger, nil)

	return m, nil
}

// Close stops both executors and shuts the engine down.
func (m *CallManager) Close() error {
	var err error
	m.closeOnce.Do(func() {
		m.networkExecutor.Stop()
		m.serviceExecutor.Stop()
		err = m.engine.Close()
	})
	return err
}

// Sync waits until both the action queue and the network queue have drained,
// including work that one queue hands to the other.
func (m *CallManager) Sync(ctx context.Context) error {
	for {
		if err := m.serviceExecutor.Sync(ctx); err != nil {
			return err
		}
		if err := m.networkExecutor.Sync(ctx); err != nil {
			return err
		}
		if m.serviceExecutor.Idle() && m.networkExecutor.Idle() {
			return nil
		}
	}
}

func (m *CallManager) AddObserver(o ports.StateObserver) {
	m.submit("add_observer", func() {
		m.observers = append(m.observers, o)
	})
}

// LastPosted returns the most recently posted view model.
func (m *CallManager) LastPosted() (domain.WebRtcViewModel, bool) {
	vm := m.lastPosted.Load()
	if vm == nil {
		return domain.WebRtcViewModel{}, false
	}
	return *vm, true
}

// CurrentViewModel projects the current state, including IDLE, which is never
// posted.
func (m *CallManager) CurrentViewModel(ctx context.Context) (domain.WebRtcViewModel, error) {
	result := make(chan domain.WebRtcViewModel, 1)
	if err := m.serviceExecutor.Submit(func() { result <- newViewModel(m.serviceState) }); err != nil {
		return domain.WebRtcViewModel{}, err
	}
	select {
	case vm := <-result:
		return vm, nil
	case <-ctx.Done():
		return domain.WebRtcViewModel{}, ctx.Err()
	}
}

func (m *CallManager) submit(name string, task func()) {
	if err := m.serviceExecutor.Submit(task); err != nil {
		m.logger.Warnw("dropping action", "action", name, "error", err)
	}
}

func (m *CallManager) process(name string, action processAction) {
	m.submit(name, func() {
		previous := m.serviceState
		processor := m.processors.forPhase(previous.Phase())

		_, span := tracing.TraceCallAction(context.Background(), name, processor.Name())
		start := time.Now()
		next := m.runAction(name, previous, processor, action)
		span.End()

		if m.metrics != nil {
			m.metrics.ActionProcessed(name, processor.Name(), time.Since(start))
		}
		if next.Phase() != previous.Phase() {
			m.logger.Infow("phase changed", "action", name, "from", previous.Phase().String(), "to", next.Phase().String())
		}

		m.serviceState = next
		if next != previous && next.CallInfo().CallState() != domain.CallStateIdle {
			m.postStateUpdate(next)
		}
	})
}

// runAction turns a panicking handler into a call failure so the state machine
// always ends up in a consistent state.
func (m *CallManager) runAction(name string, s *state.ServiceState, p ActionProcessor, action processAction) (next *state.ServiceState) {
	defer func() {
		if r := recover(); r != nil {
			next = p.CallFailure(s, "action panicked: "+name, fmt.Errorf("%v", r))
		}
	}()
	next = action(s, p)
	if next == nil {
		next = s
	}
	return next
}

// UI commands.

func (m *CallManager) OutgoingCall(recipient domain.RecipientID, offerType domain.OfferType) {
	m.process("outgoing_call", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleOutgoingCall(s, domain.NewRemotePeer(recipient), offerType)
	})
}

func (m *CallManager) AcceptCall(answerWithVideo bool) {
	m.process("accept_call", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleAcceptCall(s, answerWithVideo)
	})
}

func (m *CallManager) DenyCall() {
	m.process("deny_call", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleDenyCall(s)
	})
}

func (m *CallManager) LocalHangup() {
	m.process("local_hangup", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleLocalHangup(s)
	})
}

func (m *CallManager) SetMuteAudio(muted bool) {
	m.process("set_mute_audio", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleSetMuteAudio(s, muted)
	})
}

func (m *CallManager) SetEnableVideo(enable bool) {
	m.process("set_enable_video", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleSetEnableVideo(s, enable)
	})
}

func (m *CallManager) SetSpeakerAudio(speaker bool) {
	m.process("set_speaker_audio", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleSetSpeakerAudio(s, speaker)
	})
}

func (m *CallManager) SetBluetoothAudio(bluetooth bool) {
	m.process("set_bluetooth_audio", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleSetBluetoothAudio(s, bluetooth)
	})
}

func (m *CallManager) FlipCamera() {
	m.process("flip_camera", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleSetCameraFlip(s)
	})
}

// IsInCall answers through reply because the question may come from outside
// the process.
func (m *CallManager) IsInCall(reply func(inCall bool)) {
	m.process("is_in_call_query", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleIsInCallQuery(s, reply)
	})
}

// OS events.

func (m *CallManager) ScreenOff() {
	m.process("screen_off", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleScreenOffChange(s)
	})
}

func (m *CallManager) WiredHeadsetChange(present bool) {
	m.process("wired_headset_change", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleWiredHeadsetChange(s, present)
	})
}

func (m *CallManager) BluetoothChange(available bool) {
	m.process("bluetooth_change", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleBluetoothChange(s, available)
	})
}

func (m *CallManager) NetworkChange(available bool) {
	m.process("network_change", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleNetworkChanged(s, available)
	})
}

// PstnCallStateChanged hangs up our call when the cellular line goes off-hook.
func (m *CallManager) PstnCallStateChanged(offHook bool) {
	if !offHook {
		return
	}
	m.process("pstn_off_hook", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		if !s.CallInfo().HasActivePeer() {
			return s
		}
		m.logger.Infow("cellular call went off-hook, hanging up")
		return p.HandleLocalHangup(s)
	})
}

// Camera callback.

func (m *CallManager) OnCameraSwitchCompleted(cs domain.CameraState) {
	m.process("camera_switch_completed", func(s *state.ServiceState, p ActionProcessor) *state.ServiceState {
		return p.HandleCameraSwitchCompleted(s, cs)
	})
}
