// Package notify delivers interface events to subscribers off the send path.
//
// Publish never blocks: when the queue is full the oldest pending event is
// discarded. The dispatcher drains the queue in batches and collapses
// back-to-back UniverseSent events for the same universe, keeping the latest
// values.
package notify

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"dmx2mqtt/internal/dmx"
	"dmx2mqtt/internal/logger"
)

var (
	ErrBusClosed          = errors.New("notify: bus closed")
	ErrSubscriberExists   = errors.New("notify: subscriber already exists")
	ErrSubscriberNotFound = errors.New("notify: subscriber not found")
	ErrNilHandler         = errors.New("notify: nil handler")
)

// Kind is the type of an event.
type Kind int

const (
	DeviceChanged Kind = iota
	UniverseSent
	DataIn
)

func (k Kind) String() string {
	switch k {
	case DeviceChanged:
		return "device-changed"
	case UniverseSent:
		return "universe-sent"
	case DataIn:
		return "data-in"
	}
	return "unknown"
}

// Event is one notification. Values is always a private copy.
type Event struct {
	Kind       Kind
	Interface  string // Interface - имя интерфейса-источника.
	Device     string // Device - активный диалект, для DeviceChanged.
	Net        int
	Subnet     int
	Universe   int
	Values     []uint8
	SourceName string
	At         time.Time
}

func (e Event) Key() dmx.UniverseKey {
	return dmx.Key(e.Net, e.Subnet, e.Universe)
}

// Handler receives events on the dispatcher goroutine.
type Handler func(e Event)

// Stats counts events over the bus lifetime.
type Stats struct {
	Published uint64
	Dropped   uint64
	Coalesced uint64
	Delivered uint64
}

type subscriber struct {
	id      string
	handler Handler
}

// Bus is a bounded, coalescing event queue with a single dispatcher.
type Bus struct {
	log   *logger.Log
	queue chan Event

	mu          sync.RWMutex
	subscribers []subscriber

	published atomic.Uint64
	dropped   atomic.Uint64
	coalesced atomic.Uint64
	delivered atomic.Uint64

	closed    atomic.Bool
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a bus holding at most size pending events and starts its
// dispatcher.
func New(size int, log *logger.Log) *Bus {
	if size < 1 {
		size = 1
	}
	if log == nil {
		log = logger.NewDiscard()
	}
	b := &Bus{
		log:   log.With(logger.Fields{"module": "notify"}),
		queue: make(chan Event, size),
		done:  make(chan struct{}),
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Subscribe registers a handler under a unique id.
func (b *Bus) Subscribe(id string, h Handler) error {
	if h == nil {
		return ErrNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Load() {
		return ErrBusClosed
	}
	for _, s := range b.subscribers {
		if s.id == id {
			return ErrSubscriberExists
		}
	}
	b.subscribers = append(b.subscribers, subscriber{id: id, handler: h})
	return nil
}

func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subscribers {
		if s.id == id {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return nil
		}
	}
	return ErrSubscriberNotFound
}

// Publish queues an event without blocking. It returns false once the bus
// is closed.
func (b *Bus) Publish(e Event) bool {
	if b.closed.Load() {
		return false
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.published.Add(1)

	for {
		select {
		case b.queue <- e:
			return true
		default:
		}
		// Full: discard the oldest pending event and retry.
		select {
		case <-b.queue:
			b.dropped.Add(1)
		default:
		}
	}
}

func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Dropped:   b.dropped.Load(),
		Coalesced: b.coalesced.Load(),
		Delivered: b.delivered.Load(),
	}
}

// Close stops the dispatcher after delivering what is already queued.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)
		b.wg.Wait()
	})
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case e := <-b.queue:
			b.deliver(b.drain(e))
		case <-b.done:
			for {
				select {
				case e := <-b.queue:
					b.deliver(b.drain(e))
				default:
					return
				}
			}
		}
	}
}

// drain collects first plus everything currently queued into one batch.
func (b *Bus) drain(first Event) []Event {
	batch := []Event{first}
	for len(batch) < cap(b.queue) {
		select {
		case e := <-b.queue:
			batch = append(batch, e)
		default:
			return b.coalesce(batch)
		}
	}
	return b.coalesce(batch)
}

type sentKey struct {
	iface string
	key   dmx.UniverseKey
}

// coalesce collapses UniverseSent events for the same interface and universe
// inside a run of UniverseSent events. The survivor keeps the position of the
// first occurrence and the latest values. Any other kind ends the run, so
// nothing moves across a DeviceChanged or DataIn.
func (b *Bus) coalesce(batch []Event) []Event {
	out := batch[:0]
	run := map[sentKey]int{}
	for _, e := range batch {
		if e.Kind != UniverseSent {
			if len(run) > 0 {
				run = map[sentKey]int{}
			}
			out = append(out, e)
			continue
		}
		k := sentKey{iface: e.Interface, key: e.Key()}
		if i, ok := run[k]; ok {
			out[i] = e
			b.coalesced.Add(1)
			continue
		}
		run[k] = len(out)
		out = append(out, e)
	}
	return out
}

func (b *Bus) deliver(batch []Event) {
	b.mu.RLock()
	subs := append([]subscriber(nil), b.subscribers...)
	b.mu.RUnlock()

	for _, e := range batch {
		for _, s := range subs {
			b.call(s, e)
		}
		b.delivered.Add(1)
	}
}

func (b *Bus) call(s subscriber, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("subscriber %s panicked on %s: %v", s.id, e.Kind, r)
		}
	}()
	s.handler(e)
}
