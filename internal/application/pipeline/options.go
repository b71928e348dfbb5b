package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/haxorport/haxorport-relay-agent/internal/domain/model"
)

// OptionsMonitor is a single-writer, many-reader cell holding the current RelayOptions.
// Readers always see a complete snapshot; observers are notified after each update.
type OptionsMonitor struct {
	current atomic.Pointer[model.RelayOptions]

	mu        sync.Mutex
	nextID    int
	observers map[int]func(model.RelayOptions)
}

// NewOptionsMonitor creates a monitor holding opts
func NewOptionsMonitor(opts model.RelayOptions) *OptionsMonitor {
	m := &OptionsMonitor{observers: map[int]func(model.RelayOptions){}}
	m.current.Store(&opts)
	return m
}

// Current returns the latest options snapshot
func (m *OptionsMonitor) Current() model.RelayOptions {
	return *m.current.Load()
}

// Update validates and atomically replaces the options, then notifies observers
func (m *OptionsMonitor) Update(opts model.RelayOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	m.current.Store(&opts)
	observers := make([]func(model.RelayOptions), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(opts)
	}
	return nil
}

// OnChange registers fn to be called after every update and returns a function removing it
func (m *OptionsMonitor) OnChange(fn func(model.RelayOptions)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}
