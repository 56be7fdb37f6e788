package ports

import (
	"time"

	"callcore/internal/core/domain"
)

// StateObserver is notified with every posted view model. It is called on the
// state goroutine and must return quickly.
type StateObserver interface {
	OnCallStateChanged(vm domain.WebRtcViewModel)
}

type StateObserverFunc func(vm domain.WebRtcViewModel)

func (f StateObserverFunc) OnCallStateChanged(vm domain.WebRtcViewModel) { f(vm) }

// CallMetrics receives call-core instrumentation.
type CallMetrics interface {
	ActionProcessed(action, processor string, duration time.Duration)
	ActionQueueDepth(depth int)
	SignalingFailure(kind string)
	TurnServerFetch(ok bool)
}
