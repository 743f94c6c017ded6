package clientmqtt

import (
	"encoding/json"
	"testing"

	"dmx2mqtt/internal/config"
	"dmx2mqtt/internal/device"
	"dmx2mqtt/internal/dmx"
	"dmx2mqtt/internal/dmxinterface"
	"dmx2mqtt/internal/logger"
	"dmx2mqtt/internal/notify"
	"dmx2mqtt/internal/show"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDevice struct {
	typ     device.Type
	enabled bool
	sent    []dmx.Universe
}

func (d *stubDevice) Type() device.Type { return d.typ }

func (d *stubDevice) Addressing() device.Addressing {
	return device.Addressing{NetSubnet: true, Universe: true, UniverseMax: 15}
}

func (d *stubDevice) SetEnabled(enabled bool) { d.enabled = enabled }

func (d *stubDevice) IsEnabled() bool { return d.enabled }

func (d *stubDevice) IsConnected() bool { return true }

func (d *stubDevice) SendDMXValues(u *dmx.Universe) { d.sent = append(d.sent, *u) }

func (d *stubDevice) AddListener(device.Listener) {}

func (d *stubDevice) RemoveListener(device.Listener) {}

func (d *stubDevice) Clear() {}

func newTestClient(t *testing.T) (*ClientMQTT, *dmxinterface.Interface, *show.Engine, *[]*stubDevice) {
	t.Helper()
	bus := notify.New(16, nil)
	t.Cleanup(bus.Close)

	var devices []*stubDevice
	iface := dmxinterface.New("dmx", logger.NewDiscard(), bus, func(typ device.Type) (device.Device, error) {
		d := &stubDevice{typ: typ}
		devices = append(devices, d)
		return d, nil
	})
	require.NoError(t, iface.SetDeviceType(device.ArtNet))

	engine, err := show.NewEngine(logger.NewDiscard(), iface, 40)
	require.NoError(t, err)
	require.NoError(t, engine.LoadObjects([]config.ObjectConf{
		{Name: "par", StartChannel: 5, Components: []config.ComponentConf{{Name: "rgb", Kind: "mqtt"}}},
	}))

	c := NewClient(logger.NewDiscard(), MQTTConf{}, iface, engine)
	return c, iface, engine, &devices
}

func TestHandle_ObjectValues(t *testing.T) {
	c, _, engine, devices := newTestClient(t)

	err := c.handle("dmx/object/par/rgb/set", []byte(`[{"channel":0,"value":10},{"channel":2,"value":30}]`))
	require.NoError(t, err)

	engine.Tick()
	d := (*devices)[0]
	require.Len(t, d.sent, 1)
	assert.Equal(t, uint8(10), d.sent[0].Values[4])
	assert.Equal(t, uint8(30), d.sent[0].Values[6])
}

func TestHandle_Rejects(t *testing.T) {
	c, _, _, _ := newTestClient(t)

	assert.ErrorIs(t, c.handle("other/object/par/rgb/set", nil), errUnknownTopic)
	assert.ErrorIs(t, c.handle("dmx/object/par", nil), errUnknownTopic)
	assert.Error(t, c.handle("dmx/object/par/missing/set", []byte(`[]`)))
	assert.Error(t, c.handle("dmx/object/par/rgb/set", []byte(`{bad`)))
	assert.ErrorIs(t, c.handle("dmx/interface/colour/set", nil), errUnknownTopic)
}

func TestHandle_InterfaceCommands(t *testing.T) {
	c, iface, _, devices := newTestClient(t)

	require.NoError(t, c.handle("dmx/interface/type/set", []byte("sACN/E1.31")))
	typ, ok := iface.DeviceType()
	require.True(t, ok)
	assert.Equal(t, device.SACN, typ)
	assert.Len(t, *devices, 2)

	assert.Error(t, c.handle("dmx/interface/type/set", []byte("smoke-signals")))

	require.NoError(t, c.handle("dmx/interface/enabled/set", []byte("false")))
	assert.False(t, iface.IsEnabled())
	assert.Error(t, c.handle("dmx/interface/enabled/set", []byte("maybe")))

	iface.SetEnabled(true)
	iface.SetChannelTestingMode(true)
	require.NoError(t, c.handle("dmx/interface/test/set", []byte(`{"universe":1,"channel":3,"on":true}`)))
	d := (*devices)[1]
	require.Len(t, d.sent, 1)
	assert.Equal(t, uint8(255), d.sent[0].Values[2])
}

func TestEventMessage(t *testing.T) {
	c, _, _, _ := newTestClient(t)

	topic, payload, err := c.eventMessage(notify.Event{Kind: notify.UniverseSent, Net: 1, Subnet: 2, Universe: 3, Values: []uint8{0, 255}})
	require.NoError(t, err)
	assert.Equal(t, "dmx/universe/1.2.3", topic)
	var um universeMessage
	require.NoError(t, json.Unmarshal(payload, &um))
	assert.Equal(t, []int{0, 255}, um.Values)

	topic, payload, err = c.eventMessage(notify.Event{Kind: notify.DataIn, Universe: 7, Values: []uint8{1}, SourceName: "desk"})
	require.NoError(t, err)
	assert.Equal(t, "dmx/in/0.0.7", topic)
	require.NoError(t, json.Unmarshal(payload, &um))
	assert.Equal(t, "desk", um.Source)

	topic, payload, err = c.eventMessage(notify.Event{Kind: notify.DeviceChanged, Interface: "dmx", Device: "Art-Net"})
	require.NoError(t, err)
	assert.Equal(t, "dmx/interface/device", topic)
	var dm deviceMessage
	require.NoError(t, json.Unmarshal(payload, &dm))
	assert.Equal(t, deviceMessage{Interface: "dmx", Device: "Art-Net", Connected: true}, dm)

	_, _, err = c.eventMessage(notify.Event{Kind: notify.Kind(99)})
	assert.Error(t, err)
}

func TestHandleEvent_NotConnectedIsNoop(t *testing.T) {
	c, _, _, _ := newTestClient(t)
	assert.NotPanics(t, func() { c.HandleEvent(notify.Event{Kind: notify.UniverseSent}) })
}

func TestSubscriptions(t *testing.T) {
	c := NewClient(logger.NewDiscard(), MQTTConf{TopicPrefix: "stage"}, nil, nil)
	assert.Contains(t, c.subscriptions(), "stage/object/+/+/set")
	assert.Len(t, c.subscriptions(), 4)
}
