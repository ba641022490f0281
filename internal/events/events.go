// Package events provides the in-process bus carrying status transitions
// from the monitor loop to the notifier and the dashboard.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vigildev/vigil/internal/instance"
)

// Type labels a bus event.
type Type string

const (
	TypeStatusChanged       Type = "status.changed"
	TypeInterventionSent    Type = "intervention.sent"
	TypeInstanceAppeared    Type = "instance.appeared"
	TypeInstanceDisappeared Type = "instance.disappeared"
)

// Event is one supervision event on the bus.
type Event struct {
	Type    Type            `json:"type"`
	PID     int             `json:"pid"`
	Status  instance.Status `json:"status"`
	Message string          `json:"message,omitempty"`
	Time    time.Time       `json:"time"`
}

// Bus fans events out to subscribers. Publishing never blocks: slow
// subscribers drop events rather than stalling the monitor loop.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given buffer size and returns
// its channel plus an unsubscribe function.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber that has buffer space.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Emitter enqueues events for asynchronous publication so the tick path
// never waits on subscribers.
type Emitter struct {
	bus *Bus
	ch  chan Event

	dropped   atomic.Int64
	startOnce sync.Once
}

// NewEmitter creates an emitter publishing into bus.
func NewEmitter(bus *Bus, buffer int) *Emitter {
	if buffer < 1 {
		buffer = 256
	}
	return &Emitter{bus: bus, ch: make(chan Event, buffer)}
}

// Start launches the background publisher loop (idempotent).
func (e *Emitter) Start() {
	e.startOnce.Do(func() {
		go func() {
			for ev := range e.ch {
				e.bus.Publish(ev)
			}
		}()
	})
}

// Emit enqueues an event. Drops when the buffer is full, with rate-limited
// accounting to avoid log spam.
func (e *Emitter) Emit(ev Event) {
	e.Start()
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	select {
	case e.ch <- ev:
	default:
		n := e.dropped.Add(1)
		if n == 1 || n%1000 == 0 {
			slog.Default().Debug("event emitter dropped events", "dropped", n, "type", ev.Type)
		}
	}
}

// Dropped returns the number of dropped events.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}
