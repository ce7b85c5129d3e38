package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by dosebox components.
const (
	// ScheduleChanged fires after a persisted change to the dose record set.
	ScheduleChanged = "schedule.changed"
	// DoseEvent fires for every reminder/dose/follow-up the engine emits.
	DoseEvent = "engine.dose_event"
	// DeviceTaken fires when a confirmed-taken message was applied.
	DeviceTaken = "device.taken"
	// DeviceDropped fires when an inbound device message was discarded.
	DeviceDropped = "device.dropped"
	// TransportState fires on broker connect/disconnect.
	TransportState = "transport.state"
)

// Event is a lightweight in-memory signal.
//
// Publish never blocks; slow subscribers drop events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			// Holding the write lock excludes in-flight Publish calls, so closing is safe.
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}
