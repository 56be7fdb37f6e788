package device

import (
	"sync"
)

// MainThread runs UI-affine work on a single goroutine, the way camera and
// window handles must be touched from one thread.
type MainThread struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func NewMainThread() *MainThread {
	m := &MainThread{
		tasks: make(chan func()),
		done:  make(chan struct{}),
	}
	m.wg.Add(1)
	go m.loop()
	return m
}

func (m *MainThread) loop() {
	defer m.wg.Done()
	for {
		select {
		case fn := <-m.tasks:
			fn()
		case <-m.done:
			return
		}
	}
}

// RunSync runs fn on the main goroutine and waits for it. After Close, fn
// runs on the caller.
func (m *MainThread) RunSync(fn func()) {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}

	select {
	case m.tasks <- task:
		<-finished
	case <-m.done:
		fn()
	}
}

func (m *MainThread) Close() {
	m.once.Do(func() { close(m.done) })
	m.wg.Wait()
}
