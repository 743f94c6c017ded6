package dmxinterface

import (
	"sync"
	"sync/atomic"
	"time"

	"dmx2mqtt/internal/device"
	"dmx2mqtt/internal/dmx"
)

var addressingByType = map[device.Type]device.Addressing{
	device.OpenDMX:      {},
	device.EnttecDMXPro: {},
	device.EnttecMkII:   {},
	device.ArtNet:       {NetSubnet: true, Universe: true, UniverseMin: 0, UniverseMax: 15},
	device.SACN:         {Universe: true, UniverseMin: 1, UniverseMax: 63999},
}

// fakeDevice records transmissions and detects use after Clear.
type fakeDevice struct {
	typ device.Type

	mu        sync.Mutex
	sent      []dmx.Universe
	listeners []device.Listener
	enabled   bool
	connected bool
	cleared   bool

	// Shared between all fakes of a test to detect overlapping calls.
	inFlight   *atomic.Int32
	violations *atomic.Int32
	sendDelay  time.Duration
}

func (d *fakeDevice) Type() device.Type { return d.typ }

func (d *fakeDevice) Addressing() device.Addressing { return addressingByType[d.typ] }

func (d *fakeDevice) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

func (d *fakeDevice) IsEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *fakeDevice) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *fakeDevice) SendDMXValues(u *dmx.Universe) {
	if d.inFlight != nil {
		d.inFlight.Add(1)
		defer d.inFlight.Add(-1)
	}
	if d.sendDelay > 0 {
		time.Sleep(d.sendDelay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cleared && d.violations != nil {
		d.violations.Add(1)
	}
	d.sent = append(d.sent, *u)
}

func (d *fakeDevice) AddListener(l device.Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, l)
}

func (d *fakeDevice) RemoveListener(l device.Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for n, existing := range d.listeners {
		if existing == l {
			d.listeners = append(d.listeners[:n], d.listeners[n+1:]...)
			return
		}
	}
}

func (d *fakeDevice) Clear() {
	if d.inFlight != nil && d.inFlight.Load() != 0 && d.violations != nil {
		d.violations.Add(1)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleared = true
}

func (d *fakeDevice) transmissions() []dmx.Universe {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dmx.Universe(nil), d.sent...)
}

func (d *fakeDevice) listenerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners)
}

func (d *fakeDevice) isCleared() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cleared
}

// fakeFactory hands out fakeDevices and remembers them.
type fakeFactory struct {
	mu         sync.Mutex
	devices    []*fakeDevice
	inFlight   atomic.Int32
	violations atomic.Int32
	sendDelay  time.Duration
	err        error
}

func (f *fakeFactory) create(t device.Type) (device.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	d := &fakeDevice{
		typ:        t,
		connected:  true,
		inFlight:   &f.inFlight,
		violations: &f.violations,
		sendDelay:  f.sendDelay,
	}
	f.devices = append(f.devices, d)
	return d, nil
}

func (f *fakeFactory) last() *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[len(f.devices)-1]
}

// valuesComponent writes fixed values at the resolved offset.
type valuesComponent struct {
	name     string
	disabled bool
	values   []uint8
	calls    int
}

func (c *valuesComponent) Name() string { return c.name }

func (c *valuesComponent) IsEnabled() bool { return !c.disabled }

func (c *valuesComponent) FillInterfaceData(_ *Interface, channels *dmx.Channels, params FillParams) {
	c.calls++
	for n, v := range c.values {
		ch := params.ChannelOffset + n
		if ch >= dmx.NumChannels {
			return
		}
		channels[ch] = v
	}
}
