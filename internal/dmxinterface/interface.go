// Package dmxinterface turns object contributions into DMX universes and
// hands them to the active device driver once per processing tick.
//
// A tick is PrepareSendValues, SendValuesForObject for every active object,
// then FinishSendValues. The device lock serializes driver replacement with
// the Finish phase, so a cycle sees either the old or the new driver.
package dmxinterface

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"dmx2mqtt/internal/device"
	"dmx2mqtt/internal/dmx"
	"dmx2mqtt/internal/logger"
	"dmx2mqtt/internal/notify"
)

// DeviceFactory creates a driver for a dialect.
type DeviceFactory func(t device.Type) (device.Device, error)

// DataInListener receives DMX data arriving on bidirectional dialects.
type DataInListener interface {
	DMXDataInChanged(net, subnet, universe int, values []uint8, sourceName string)
}

// Interface is a DMX output interface with one active driver.
type Interface struct {
	name    string
	log     *logger.Log
	bus     *notify.Bus
	factory DeviceFactory

	DefaultNet      *dmx.IntParam
	DefaultSubnet   *dmx.IntParam
	DefaultUniverse *dmx.IntParam

	enabled          atomic.Bool
	sendOnChangeOnly atomic.Bool
	channelTesting   atomic.Bool
	flashValue       atomic.Uint64 // math.Float64bits
	logIncoming      atomic.Bool
	logOutgoing      atomic.Bool
	isClearing       atomic.Bool

	inActivity  atomic.Uint64
	outActivity atomic.Uint64

	deviceMu   sync.Mutex
	dmxDevice  device.Device
	deviceType device.Type

	registry *dmx.Registry

	listenersMu sync.RWMutex
	listeners   []DataInListener
}

// New creates an enabled interface without a driver; call SetDeviceType to
// attach one.
func New(name string, log logger.Logger, bus *notify.Bus, factory DeviceFactory) *Interface {
	i := &Interface{
		name:            name,
		log:             log.With(logger.Fields{"module": "dmx", "interface": name}),
		bus:             bus,
		factory:         factory,
		DefaultNet:      dmx.NewIntParam("Net", 0, 0, 15, false),
		DefaultSubnet:   dmx.NewIntParam("Subnet", 0, 0, 15, false),
		DefaultUniverse: dmx.NewIntParam("Universe", 0, 0, 15, false),
		registry:        dmx.NewRegistry(),
	}
	i.enabled.Store(true)
	i.SetChannelTestingFlashValue(1)
	return i
}

func (i *Interface) Name() string {
	return i.name
}

func (i *Interface) Registry() *dmx.Registry {
	return i.registry
}

// SetEnabled propagates the flag to the active driver.
func (i *Interface) SetEnabled(enabled bool) {
	i.enabled.Store(enabled)

	i.deviceMu.Lock()
	defer i.deviceMu.Unlock()
	if i.dmxDevice != nil {
		i.dmxDevice.SetEnabled(enabled)
	}
}

func (i *Interface) IsEnabled() bool {
	return i.enabled.Load()
}

func (i *Interface) SetSendOnChangeOnly(v bool) {
	i.sendOnChangeOnly.Store(v)
}

func (i *Interface) SendOnChangeOnly() bool {
	return i.sendOnChangeOnly.Load()
}

func (i *Interface) SetChannelTestingMode(v bool) {
	i.channelTesting.Store(v)
}

func (i *Interface) ChannelTestingMode() bool {
	return i.channelTesting.Load()
}

// SetChannelTestingFlashValue sets the flash intensity, clamped to [0,1].
func (i *Interface) SetChannelTestingFlashValue(v float64) {
	v = math.Max(0, math.Min(1, v))
	i.flashValue.Store(math.Float64bits(v))
}

func (i *Interface) ChannelTestingFlashValue() float64 {
	return math.Float64frombits(i.flashValue.Load())
}

func (i *Interface) SetLogIncoming(v bool) {
	i.logIncoming.Store(v)
}

func (i *Interface) SetLogOutgoing(v bool) {
	i.logOutgoing.Store(v)
}

// Activity returns the number of inbound data events and Finish phases that
// reached a driver.
func (i *Interface) Activity() (in, out uint64) {
	return i.inActivity.Load(), i.outActivity.Load()
}

// ConnectedState reports the active driver's connected flag. ok is false
// when no driver is attached.
func (i *Interface) ConnectedState() (connected, ok bool) {
	i.deviceMu.Lock()
	defer i.deviceMu.Unlock()
	if i.dmxDevice == nil {
		return false, false
	}
	return i.dmxDevice.IsConnected(), true
}

// DeviceType returns the active dialect. ok is false when no driver is attached.
func (i *Interface) DeviceType() (t device.Type, ok bool) {
	i.deviceMu.Lock()
	defer i.deviceMu.Unlock()
	return i.deviceType, i.dmxDevice != nil
}

func (i *Interface) AddDataInListener(l DataInListener) {
	i.listenersMu.Lock()
	defer i.listenersMu.Unlock()
	i.listeners = append(i.listeners, l)
}

func (i *Interface) RemoveDataInListener(l DataInListener) {
	i.listenersMu.Lock()
	defer i.listenersMu.Unlock()
	for n, existing := range i.listeners {
		if existing == l {
			i.listeners = append(i.listeners[:n], i.listeners[n+1:]...)
			return
		}
	}
}

// SetDeviceType builds a driver for t and swaps it in. Selecting the active
// dialect again is a no-op. On failure the current driver stays attached.
func (i *Interface) SetDeviceType(t device.Type) error {
	if current, ok := i.DeviceType(); ok && current == t {
		return nil
	}

	d, err := i.factory(t)
	if err != nil {
		return fmt.Errorf("failed to create %s device: %w", t, err)
	}
	i.setCurrentDevice(d)
	return nil
}

// Clear detaches the driver. Inbound data is ignored from now on.
func (i *Interface) Clear() {
	i.isClearing.Store(true)
	i.setCurrentDevice(nil)
}

func (i *Interface) setCurrentDevice(d device.Device) {
	i.deviceMu.Lock()

	if i.dmxDevice == d {
		i.deviceMu.Unlock()
		return
	}

	if old := i.dmxDevice; old != nil {
		old.RemoveListener(i)
		old.Clear()
		i.dmxDevice = nil
		i.log.Debugf("%s device detached", old.Type())
	}

	i.dmxDevice = d

	name := ""
	if d != nil {
		i.deviceType = d.Type()
		name = d.Type().String()
		d.SetEnabled(i.enabled.Load())
		d.AddListener(i)
		i.applyAddressing(d.Addressing())
		i.log.Infof("%s device attached", name)
	}

	i.deviceMu.Unlock()

	i.publish(notify.Event{Kind: notify.DeviceChanged, Device: name})
}

// applyAddressing enables the default address levels the dialect supports.
// Unsupported net/subnet are pinned to 0.
func (i *Interface) applyAddressing(a device.Addressing) {
	if a.Universe {
		i.DefaultUniverse.SetRange(a.UniverseMin, a.UniverseMax)
	}
	if !a.NetSubnet {
		i.DefaultNet.Set(0)
		i.DefaultSubnet.Set(0)
	}
	i.DefaultNet.SetEnabled(a.NetSubnet)
	i.DefaultSubnet.SetEnabled(a.NetSubnet)
	i.DefaultUniverse.SetEnabled(a.Universe)
}

// DMXDeviceSetupChanged implements device.Listener.
func (i *Interface) DMXDeviceSetupChanged(d device.Device) {
	i.publish(notify.Event{Kind: notify.DeviceChanged, Device: d.Type().String()})
}

// DMXDataInChanged implements device.Listener.
func (i *Interface) DMXDataInChanged(_ device.Device, net, subnet, universe int, values []uint8, sourceName string) {
	if i.isClearing.Load() || !i.enabled.Load() {
		return
	}

	i.inActivity.Add(1)
	if i.logIncoming.Load() {
		i.log.Infof("DMX In : Net %d, Subnet %d, Universe %d", net, subnet, universe)
	}

	i.listenersMu.RLock()
	listeners := append([]DataInListener(nil), i.listeners...)
	i.listenersMu.RUnlock()
	for _, l := range listeners {
		l.DMXDataInChanged(net, subnet, universe, values, sourceName)
	}

	i.publish(notify.Event{
		Kind:       notify.DataIn,
		Net:        net,
		Subnet:     subnet,
		Universe:   universe,
		Values:     append([]uint8(nil), values...),
		SourceName: sourceName,
	})
}

func (i *Interface) publish(e notify.Event) {
	if i.bus == nil {
		return
	}
	e.Interface = i.name
	i.bus.Publish(e)
}

// PrepareSendValues starts a cycle. Unless change-only or channel-testing
// mode is on, all universes from the previous cycle are dropped.
func (i *Interface) PrepareSendValues() {
	if i.sendOnChangeOnly.Load() || i.channelTesting.Load() {
		return
	}
	i.registry.Clear()
}

// SendValuesForObject collects the contributions of the object's enabled
// components and merges them into the target universe.
func (i *Interface) SendValuesForObject(o *Object) error {
	if i.channelTesting.Load() {
		return nil
	}

	if o.Params == nil {
		if debugAssertions {
			panic(fmt.Sprintf("dmx: object %q has no dmx params", o.Name))
		}
		i.log.Errorf("object %q skipped: %v", o.Name, dmx.ErrMissingParams)
		return fmt.Errorf("object %q: %w", o.Name, dmx.ErrMissingParams)
	}

	addr := o.Params.Resolve(i.DefaultNet.Value(), i.DefaultSubnet.Value(), i.DefaultUniverse.Value())

	var channels dmx.Channels
	i.registry.Update(addr.Net, addr.Subnet, addr.Universe, func(u *dmx.Universe) {
		channels = u.Values
	})

	params := FillParams{
		Net:           addr.Net,
		Subnet:        addr.Subnet,
		Universe:      addr.Universe,
		ChannelOffset: addr.ChannelOffset,
	}
	for _, c := range o.Components {
		if !c.IsEnabled() {
			continue
		}
		c.FillInterfaceData(i, &channels, params)
	}

	onlyIfChanged := i.sendOnChangeOnly.Load()
	i.registry.Update(addr.Net, addr.Subnet, addr.Universe, func(u *dmx.Universe) {
		for ch, v := range channels {
			u.UpdateValue(ch, v, onlyIfChanged)
		}
	})
	return nil
}

// FinishSendValues transmits the cycle's universes: the dirty ones in
// change-only mode, all of them otherwise. It reports whether at least one
// universe was dirty.
func (i *Interface) FinishSendValues() bool {
	if i.channelTesting.Load() {
		return false
	}

	sendOnChange := i.sendOnChangeOnly.Load()
	logOut := i.logOutgoing.Load()

	i.deviceMu.Lock()
	defer i.deviceMu.Unlock()
	if i.dmxDevice == nil {
		return false
	}

	hasOneDirty := false
	var sent []string
	i.registry.Range(func(u *dmx.Universe) bool {
		if !u.IsDirty && sendOnChange {
			return true
		}
		hasOneDirty = hasOneDirty || u.IsDirty
		if logOut {
			sent = append(sent, u.String())
		}
		i.transmit(u)
		return true
	})

	i.outActivity.Add(1)

	if hasOneDirty && logOut {
		i.log.Infof("Sending Universes : \n%s", strings.Join(sent, "\n"))
	}
	return hasOneDirty
}

// transmit sends one universe and clears its dirty flag. The device lock
// and the registry lock must be held.
func (i *Interface) transmit(u *dmx.Universe) {
	u.IsDirty = false
	i.dmxDevice.SendDMXValues(u)
	i.publish(notify.Event{
		Kind:     notify.UniverseSent,
		Net:      u.Net,
		Subnet:   u.Subnet,
		Universe: u.Universe,
		Values:   u.Snapshot(),
	})
}

// SetDMXValue writes values directly into a universe starting at the 1-based
// startChannel. In channel-testing mode the universe is sent right away.
func (i *Interface) SetDMXValue(net, subnet, universe, startChannel int, values []uint8) {
	sendNow := i.channelTesting.Load()
	if sendNow {
		// device lock before registry lock, same order as FinishSendValues
		i.deviceMu.Lock()
		defer i.deviceMu.Unlock()
	}

	i.registry.Update(net, subnet, universe, func(u *dmx.Universe) {
		for n, v := range values {
			u.UpdateValue(startChannel-1+n, v, false)
		}
		if sendNow && i.dmxDevice != nil {
			i.transmit(u)
		}
	})
}

// TestChannel flashes a single channel at the flash intensity, or turns it
// off.
func (i *Interface) TestChannel(net, subnet, universe, channel int, on bool) {
	var v uint8
	if on {
		v = uint8(math.Round(i.ChannelTestingFlashValue() * 255))
	}
	i.SetDMXValue(net, subnet, universe, channel, []uint8{v})
}
