package events

import (
	"testing"
	"time"

	"github.com/vigildev/vigil/internal/instance"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	bus.Publish(Event{Type: TypeStatusChanged, PID: 1, Status: instance.Idle()})

	select {
	case ev := <-ch:
		if ev.Type != TypeStatusChanged || ev.PID != 1 {
			t.Errorf("event = %+v, want status.changed for pid 1", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(Event{Type: TypeStatusChanged, PID: 1})
	bus.Publish(Event{Type: TypeStatusChanged, PID: 2}) // dropped, buffer full

	ev := <-ch
	if ev.PID != 1 {
		t.Errorf("first event pid = %d, want 1", ev.PID)
	}
	select {
	case ev := <-ch:
		t.Errorf("unexpected second event: %+v", ev)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)

	cancel()
	// Publishing after cancel must not panic on the closed channel.
	bus.Publish(Event{Type: TypeInstanceAppeared, PID: 1})

	if _, open := <-ch; open {
		t.Error("channel still open after unsubscribe")
	}

	// Double cancel is safe.
	cancel()
}

func TestBusMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	ch1, cancel1 := bus.Subscribe(2)
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(2)
	defer cancel2()

	bus.Publish(Event{Type: TypeInterventionSent, PID: 9})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.PID != 9 {
				t.Errorf("subscriber %d got pid %d, want 9", i, ev.PID)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got no event", i)
		}
	}
}

func TestEmitterPublishesAsynchronously(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(4)
	defer cancel()

	em := NewEmitter(bus, 8)
	em.Emit(Event{Type: TypeStatusChanged, PID: 3})

	select {
	case ev := <-ch:
		if ev.PID != 3 {
			t.Errorf("event pid = %d, want 3", ev.PID)
		}
		if ev.Time.IsZero() {
			t.Error("emitter did not stamp event time")
		}
	case <-time.After(time.Second):
		t.Fatal("emitted event never published")
	}
}

func TestEmitterDropsWhenSaturated(t *testing.T) {
	// Pre-fill the buffer and pin the worker off so Emit must drop.
	bus := NewBus()
	em := &Emitter{bus: bus, ch: make(chan Event, 1)}

	em.ch <- Event{} // fill the buffer directly so Emit must drop
	em.startOnce.Do(func() {})

	em.Emit(Event{Type: TypeStatusChanged})
	if got := em.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}
