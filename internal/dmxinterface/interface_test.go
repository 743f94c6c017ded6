package dmxinterface

import (
	"errors"
	"sync"
	"testing"
	"time"

	"dmx2mqtt/internal/device"
	"dmx2mqtt/internal/dmx"
	"dmx2mqtt/internal/logger"
	"dmx2mqtt/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []notify.Event
}

func (l *eventLog) handle(e notify.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) ofKind(k notify.Kind) []notify.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []notify.Event
	for _, e := range l.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func newTestInterface(t *testing.T, typ device.Type) (*Interface, *fakeFactory, *eventLog) {
	t.Helper()
	bus := notify.New(64, nil)
	t.Cleanup(bus.Close)
	events := &eventLog{}
	require.NoError(t, bus.Subscribe("test", events.handle))

	f := &fakeFactory{}
	i := New("dmx", logger.NewDiscard(), bus, f.create)
	require.NoError(t, i.SetDeviceType(typ))
	return i, f, events
}

func runCycle(i *Interface, objects ...*Object) bool {
	i.PrepareSendValues()
	for _, o := range objects {
		_ = i.SendValuesForObject(o)
	}
	return i.FinishSendValues()
}

func objectAt(name string, startChannel int, values ...uint8) (*Object, *valuesComponent) {
	c := &valuesComponent{name: "values", values: values}
	o := NewObject(name, c)
	o.Params.StartChannel.Set(startChannel)
	return o, c
}

func TestSetDeviceType_AddressingPolicy(t *testing.T) {
	i, _, _ := newTestInterface(t, device.ArtNet)

	min, max := i.DefaultUniverse.Range()
	assert.Equal(t, [2]int{0, 15}, [2]int{min, max})
	assert.True(t, i.DefaultNet.Enabled())
	assert.True(t, i.DefaultSubnet.Enabled())
	assert.True(t, i.DefaultUniverse.Enabled())

	i.DefaultNet.Set(3)
	require.NoError(t, i.SetDeviceType(device.SACN))
	min, max = i.DefaultUniverse.Range()
	assert.Equal(t, [2]int{1, 63999}, [2]int{min, max})
	assert.False(t, i.DefaultNet.Enabled())
	assert.False(t, i.DefaultSubnet.Enabled())
	assert.True(t, i.DefaultUniverse.Enabled())
	assert.Equal(t, 0, i.DefaultNet.Value())
	assert.Equal(t, 1, i.DefaultUniverse.Value(), "clamped into the new range")

	for _, typ := range []device.Type{device.OpenDMX, device.EnttecDMXPro, device.EnttecMkII} {
		require.NoError(t, i.SetDeviceType(typ))
		assert.False(t, i.DefaultNet.Enabled(), typ.String())
		assert.False(t, i.DefaultSubnet.Enabled(), typ.String())
		assert.False(t, i.DefaultUniverse.Enabled(), typ.String())
	}
}

func TestSetDeviceType_TearsDownOldDevice(t *testing.T) {
	i, f, events := newTestInterface(t, device.OpenDMX)
	old := f.last()
	assert.Equal(t, 1, old.listenerCount())
	assert.True(t, old.IsEnabled())

	i.SetEnabled(false)
	require.NoError(t, i.SetDeviceType(device.ArtNet))

	assert.True(t, old.isCleared())
	assert.Zero(t, old.listenerCount())
	fresh := f.last()
	assert.NotSame(t, old, fresh)
	assert.Equal(t, 1, fresh.listenerCount())
	assert.False(t, fresh.IsEnabled(), "enabled flag propagated")

	typ, ok := i.DeviceType()
	assert.True(t, ok)
	assert.Equal(t, device.ArtNet, typ)

	require.Eventually(t, func() bool { return len(events.ofKind(notify.DeviceChanged)) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Art-Net", events.ofKind(notify.DeviceChanged)[1].Device)
	assert.Equal(t, "dmx", events.ofKind(notify.DeviceChanged)[1].Interface)
}

func TestSetDeviceType_FactoryErrorKeepsDevice(t *testing.T) {
	i, f, _ := newTestInterface(t, device.SACN)
	current := f.last()

	f.err = errors.New("no network")
	assert.Error(t, i.SetDeviceType(device.ArtNet))
	assert.False(t, current.isCleared())
	typ, ok := i.DeviceType()
	assert.True(t, ok)
	assert.Equal(t, device.SACN, typ)
}

func TestSetEnabled_Propagates(t *testing.T) {
	i, f, _ := newTestInterface(t, device.OpenDMX)
	i.SetEnabled(false)
	assert.False(t, f.last().IsEnabled())
	i.SetEnabled(true)
	assert.True(t, f.last().IsEnabled())
}

func TestFinish_NoDeviceIsNoop(t *testing.T) {
	i := New("dmx", logger.NewDiscard(), nil, (&fakeFactory{}).create)
	o, _ := objectAt("a", 1, 10)
	assert.False(t, runCycle(i, o))

	_, ok := i.ConnectedState()
	assert.False(t, ok)
}

func TestCycle_SharedUniverse(t *testing.T) {
	i, f, _ := newTestInterface(t, device.ArtNet)
	a, _ := objectAt("a", 1, 100)
	b, _ := objectAt("b", 10, 200)

	assert.True(t, runCycle(i, a, b))

	sent := f.last().transmissions()
	require.Len(t, sent, 1)
	assert.Equal(t, uint8(100), sent[0].Values[0])
	assert.Equal(t, uint8(200), sent[0].Values[9])
	assert.Equal(t, dmx.Key(0, 0, 0), sent[0].Key())
}

func TestCycle_AlwaysSendWithoutChangeOnly(t *testing.T) {
	i, f, events := newTestInterface(t, device.ArtNet)
	a, _ := objectAt("a", 1, 5)

	runCycle(i, a)
	runCycle(i, a)
	assert.Len(t, f.last().transmissions(), 2)

	i.PrepareSendValues()
	assert.Zero(t, i.Registry().Len(), "prepare clears the registry")

	require.Eventually(t, func() bool { return len(events.ofKind(notify.UniverseSent)) >= 1 }, time.Second, 5*time.Millisecond)
}

func TestCycle_SendOnChangeOnly(t *testing.T) {
	i, f, _ := newTestInterface(t, device.ArtNet)
	i.SetSendOnChangeOnly(true)
	a, comp := objectAt("a", 1, 5)

	assert.True(t, runCycle(i, a))
	assert.Len(t, f.last().transmissions(), 1)

	assert.False(t, runCycle(i, a), "unchanged universe is not resent")
	assert.Len(t, f.last().transmissions(), 1)
	assert.Equal(t, 1, i.Registry().Len(), "registry persists")

	comp.values = []uint8{6}
	assert.True(t, runCycle(i, a))
	sent := f.last().transmissions()
	require.Len(t, sent, 2)
	assert.Equal(t, uint8(6), sent[1].Values[0])

	u := i.Registry().Get(0, 0, 0, false)
	require.NotNil(t, u)
	assert.False(t, u.IsDirty, "dirty flag cleared after transmission")
}

func TestCycle_UniverseSentCarriesSnapshot(t *testing.T) {
	i, _, events := newTestInterface(t, device.ArtNet)
	i.SetSendOnChangeOnly(true)
	a, comp := objectAt("a", 1, 1)
	runCycle(i, a)
	comp.values = []uint8{2}
	runCycle(i, a)

	require.Eventually(t, func() bool {
		sent := events.ofKind(notify.UniverseSent)
		return len(sent) > 0 && sent[len(sent)-1].Values[0] == 2
	}, time.Second, 5*time.Millisecond)

	for _, e := range events.ofKind(notify.UniverseSent) {
		require.Len(t, e.Values, dmx.NumChannels)
	}
	first := events.ofKind(notify.UniverseSent)[0]
	if len(events.ofKind(notify.UniverseSent)) == 2 {
		assert.Equal(t, uint8(1), first.Values[0], "earlier snapshot untouched")
	}
}

func TestFill_ObjectOverridesAndDefaults(t *testing.T) {
	i, f, _ := newTestInterface(t, device.ArtNet)
	i.DefaultNet.Set(1)
	i.DefaultSubnet.Set(2)
	i.DefaultUniverse.Set(3)

	a, _ := objectAt("a", 1, 1)
	b, _ := objectAt("b", 1, 2)
	b.Params.Universe.SetEnabled(true)
	b.Params.Universe.Set(7)

	runCycle(i, a, b)

	keys := map[dmx.UniverseKey]uint8{}
	for _, u := range f.last().transmissions() {
		keys[u.Key()] = u.Values[0]
	}
	assert.Equal(t, map[dmx.UniverseKey]uint8{dmx.Key(1, 2, 3): 1, dmx.Key(1, 2, 7): 2}, keys)
}

func TestFill_ComponentOrderAndDisabled(t *testing.T) {
	i, f, _ := newTestInterface(t, device.ArtNet)
	first := &valuesComponent{name: "first", values: []uint8{10, 11}}
	second := &valuesComponent{name: "second", values: []uint8{20}}
	off := &valuesComponent{name: "off", disabled: true, values: []uint8{99, 99, 99}}
	o := NewObject("o", first, second, off)

	runCycle(i, o)

	sent := f.last().transmissions()
	require.Len(t, sent, 1)
	assert.Equal(t, uint8(20), sent[0].Values[0], "last writer wins")
	assert.Equal(t, uint8(11), sent[0].Values[1])
	assert.Equal(t, uint8(0), sent[0].Values[2])
	assert.Equal(t, 1, first.calls)
	assert.Zero(t, off.calls)
}

func TestFill_MissingParams(t *testing.T) {
	i, f, _ := newTestInterface(t, device.ArtNet)
	o := &Object{Name: "broken", Components: []Component{&valuesComponent{values: []uint8{1}}}}

	err := i.SendValuesForObject(o)
	assert.ErrorIs(t, err, dmx.ErrMissingParams)
	i.FinishSendValues()
	assert.Empty(t, f.last().transmissions())
}

func TestChannelTesting_SuppressesCycle(t *testing.T) {
	i, f, _ := newTestInterface(t, device.ArtNet)
	a, comp := objectAt("a", 1, 5)
	runCycle(i, a)
	require.Len(t, f.last().transmissions(), 1)

	i.SetChannelTestingMode(true)
	i.PrepareSendValues()
	assert.Equal(t, 1, i.Registry().Len(), "registry kept while testing")
	assert.NoError(t, i.SendValuesForObject(a))
	assert.False(t, i.FinishSendValues())
	assert.Equal(t, 1, comp.calls)
	assert.Len(t, f.last().transmissions(), 1)
}

func TestChannelTesting_FlashSendsImmediately(t *testing.T) {
	i, f, _ := newTestInterface(t, device.ArtNet)
	i.SetChannelTestingFlashValue(0.5)

	i.TestChannel(0, 0, 1, 3, true)
	assert.Empty(t, f.last().transmissions(), "outside testing mode values wait for the cycle")

	i.SetChannelTestingMode(true)
	i.TestChannel(0, 0, 1, 4, true)
	sent := f.last().transmissions()
	require.Len(t, sent, 1)
	assert.Equal(t, uint8(128), sent[0].Values[2])
	assert.Equal(t, uint8(128), sent[0].Values[3])

	i.TestChannel(0, 0, 1, 4, false)
	sent = f.last().transmissions()
	require.Len(t, sent, 2)
	assert.Equal(t, uint8(0), sent[1].Values[3])

	i.SetChannelTestingFlashValue(3)
	assert.Equal(t, 1.0, i.ChannelTestingFlashValue())
}

type dataInRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *dataInRecorder) DMXDataInChanged(net, subnet, universe int, values []uint8, sourceName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sourceName)
}

func (r *dataInRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestDataIn_OnlyWhenEnabledAndNotClearing(t *testing.T) {
	i, f, events := newTestInterface(t, device.SACN)
	r := &dataInRecorder{}
	i.AddDataInListener(r)
	d := f.last()

	i.DMXDataInChanged(d, 0, 0, 1, []uint8{1}, "desk")
	assert.Equal(t, 1, r.count())
	in, _ := i.Activity()
	assert.Equal(t, uint64(1), in)

	i.SetEnabled(false)
	i.DMXDataInChanged(d, 0, 0, 1, []uint8{1}, "desk")
	assert.Equal(t, 1, r.count())

	i.SetEnabled(true)
	i.Clear()
	i.DMXDataInChanged(d, 0, 0, 1, []uint8{1}, "desk")
	assert.Equal(t, 1, r.count())
	assert.True(t, d.isCleared())

	require.Eventually(t, func() bool { return len(events.ofKind(notify.DataIn)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "desk", events.ofKind(notify.DataIn)[0].SourceName)

	i.RemoveDataInListener(r)
}

func TestConnectedState(t *testing.T) {
	i, f, _ := newTestInterface(t, device.OpenDMX)
	connected, ok := i.ConnectedState()
	assert.True(t, ok)
	assert.True(t, connected)

	f.last().mu.Lock()
	f.last().connected = false
	f.last().mu.Unlock()
	connected, _ = i.ConnectedState()
	assert.False(t, connected)
}

func TestDeviceSwapDuringFinish(t *testing.T) {
	f := &fakeFactory{sendDelay: 200 * time.Microsecond}
	i := New("dmx", logger.NewDiscard(), nil, f.create)
	require.NoError(t, i.SetDeviceType(device.ArtNet))

	objects := make([]*Object, 0, 8)
	for n := 0; n < 8; n++ {
		o, _ := objectAt("o", 1, uint8(n))
		o.Params.Universe.SetEnabled(true)
		o.Params.Universe.Set(n)
		objects = append(objects, o)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		types := []device.Type{device.SACN, device.ArtNet, device.OpenDMX}
		for n := 0; ; n++ {
			select {
			case <-stop:
				return
			default:
			}
			assert.NoError(t, i.SetDeviceType(types[n%len(types)]))
		}
	}()

	for n := 0; n < 50; n++ {
		runCycle(i, objects...)
	}
	close(stop)
	wg.Wait()

	assert.Zero(t, f.violations.Load(), "no transmit on a cleared device and no clear during a transmit")
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Greater(t, len(f.devices), 1)
}

// Meaningful under -race: direct writes from the MQTT side share universes
// with the engine's cycle.
func TestSetDMXValue_ConcurrentWithCycle(t *testing.T) {
	i, f, _ := newTestInterface(t, device.ArtNet)
	i.SetSendOnChangeOnly(true)
	o, _ := objectAt("o", 1, 7)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 0; ; n++ {
			select {
			case <-stop:
				return
			default:
			}
			i.TestChannel(0, 0, 0, 3, n%2 == 0)
			if n%50 == 0 {
				i.SetChannelTestingMode(!i.ChannelTestingMode())
			}
		}
	}()

	for n := 0; n < 200; n++ {
		runCycle(i, o)
	}
	close(stop)
	wg.Wait()

	i.SetChannelTestingMode(false)
	i.TestChannel(0, 0, 0, 3, true)
	runCycle(i, o)

	sent := f.last().transmissions()
	require.NotEmpty(t, sent)
	last := sent[len(sent)-1]
	assert.Equal(t, uint8(7), last.Values[0])
	assert.Equal(t, uint8(255), last.Values[2])
}

func TestSetDeviceType_SameTypeKeepsDevice(t *testing.T) {
	i, f, events := newTestInterface(t, device.ArtNet)
	d := f.last()
	require.Eventually(t, func() bool {
		return len(events.ofKind(notify.DeviceChanged)) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, i.SetDeviceType(device.ArtNet))

	assert.Same(t, d, f.last(), "no second driver built")
	assert.False(t, d.isCleared())
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, events.ofKind(notify.DeviceChanged), 1)
}
