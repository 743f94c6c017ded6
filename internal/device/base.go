package device

import (
	"sync"
	"sync/atomic"

	"dmx2mqtt/internal/dmx"
	"dmx2mqtt/internal/logger"
)

// frame is a universe snapshot waiting for transmission.
type frame struct {
	net      int
	subnet   int
	universe int
	values   [dmx.NumChannels]byte
}

// base carries the state every dialect shares: enabled/connected flags,
// listeners and the send queue drained by the device's own goroutine.
type base struct {
	self       Device
	typ        Type
	addressing Addressing
	log        *logger.Log

	enabled   atomic.Bool
	connected atomic.Bool
	dropped   atomic.Uint64

	listenersMu sync.RWMutex
	listeners   []Listener

	frames  chan frame
	dropOld bool
	write   func(f frame) error
	onClear func()

	done      chan struct{}
	wg        sync.WaitGroup
	clearOnce sync.Once
}

func newBase(typ Type, addressing Addressing, log *logger.Log, queue int, dropOld bool) *base {
	return &base{
		typ:        typ,
		addressing: addressing,
		log:        log.With(logger.Fields{"module": "dmx-device", "dialect": typ.String()}),
		frames:     make(chan frame, queue),
		dropOld:    dropOld,
		done:       make(chan struct{}),
	}
}

// start launches the writer goroutine. write is only ever called from it.
func (b *base) start(self Device, write func(f frame) error) {
	b.self = self
	b.write = write
	b.wg.Add(1)
	go b.sendBackground()
}

func (b *base) Type() Type {
	return b.typ
}

func (b *base) Addressing() Addressing {
	return b.addressing
}

func (b *base) SetEnabled(enabled bool) {
	b.enabled.Store(enabled)
}

func (b *base) IsEnabled() bool {
	return b.enabled.Load()
}

func (b *base) IsConnected() bool {
	return b.connected.Load()
}

// Dropped returns the number of frames dropped because the queue was full.
func (b *base) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *base) SendDMXValues(u *dmx.Universe) {
	if !b.enabled.Load() {
		return
	}
	select {
	case <-b.done:
		return
	default:
	}

	f := frame{net: u.Net, subnet: u.Subnet, universe: u.Universe, values: u.Values}
	select {
	case b.frames <- f:
		return
	default:
	}

	if !b.dropOld {
		b.dropped.Add(1)
		return
	}
	// Replace the oldest pending frame with the latest one.
	select {
	case <-b.frames:
		b.dropped.Add(1)
	default:
	}
	select {
	case b.frames <- f:
	default:
		b.dropped.Add(1)
	}
}

func (b *base) AddListener(l Listener) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	for _, existing := range b.listeners {
		if existing == l {
			return
		}
	}
	b.listeners = append(b.listeners, l)
}

func (b *base) RemoveListener(l Listener) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	for i, existing := range b.listeners {
		if existing == l {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			return
		}
	}
}

func (b *base) Clear() {
	b.clearOnce.Do(func() {
		close(b.done)
		if b.onClear != nil {
			b.onClear()
		}
		b.wg.Wait()
		b.connected.Store(false)
		b.log.Debug("device cleared")
	})
}

func (b *base) setupChanged() {
	for _, l := range b.snapshotListeners() {
		l.DMXDeviceSetupChanged(b.self)
	}
}

func (b *base) dataReceived(net, subnet, universe int, values []uint8, sourceName string) {
	for _, l := range b.snapshotListeners() {
		l.DMXDataInChanged(b.self, net, subnet, universe, values, sourceName)
	}
}

func (b *base) snapshotListeners() []Listener {
	b.listenersMu.RLock()
	defer b.listenersMu.RUnlock()
	return append([]Listener(nil), b.listeners...)
}

func (b *base) sendBackground() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case f := <-b.frames:
			if err := b.write(f); err != nil {
				b.log.Debugf("DMX. Ошибка отправки вселенной %d.%d.%d: %v", f.net, f.subnet, f.universe, err)
			}
		}
	}
}
