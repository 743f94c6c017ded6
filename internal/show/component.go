package show

import (
	"sync"
	"sync/atomic"

	"dmx2mqtt/internal/dmx"
	"dmx2mqtt/internal/dmxinterface"
)

// Command sets one channel relative to the object's start channel.
type Command struct {
	Channel uint16 `json:"channel"` // Channel - номер канала от начала объекта, с нуля.
	Value   uint8  `json:"value"`   // Value - значение канала (0-255).
}

type toggle struct {
	disabled atomic.Bool
}

func (t *toggle) IsEnabled() bool {
	return !t.disabled.Load()
}

func (t *toggle) SetEnabled(enabled bool) {
	t.disabled.Store(!enabled)
}

// StaticComponent writes a fixed list of values.
type StaticComponent struct {
	toggle
	name   string
	values []uint8
}

func NewStaticComponent(name string, values []uint8) *StaticComponent {
	return &StaticComponent{name: name, values: append([]uint8(nil), values...)}
}

func (c *StaticComponent) Name() string {
	return c.name
}

func (c *StaticComponent) FillInterfaceData(_ *dmxinterface.Interface, channels *dmx.Channels, params dmxinterface.FillParams) {
	for n, v := range c.values {
		if !writeAt(channels, params.ChannelOffset+n, v) {
			return
		}
	}
}

// ValueComponent holds values pushed from outside, e.g. over MQTT. Only
// channels that were set at least once are written.
type ValueComponent struct {
	toggle
	name string

	mu     sync.RWMutex
	values map[uint16]uint8
}

func NewValueComponent(name string) *ValueComponent {
	return &ValueComponent{name: name, values: map[uint16]uint8{}}
}

func (c *ValueComponent) Name() string {
	return c.name
}

// Apply stores the commands; channels past the universe end are ignored.
func (c *ValueComponent) Apply(cmds []Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cmd := range cmds {
		if int(cmd.Channel) >= dmx.NumChannels {
			continue
		}
		c.values[cmd.Channel] = cmd.Value
	}
}

// Reset forgets all values.
func (c *ValueComponent) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = map[uint16]uint8{}
}

func (c *ValueComponent) FillInterfaceData(_ *dmxinterface.Interface, channels *dmx.Channels, params dmxinterface.FillParams) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for ch, v := range c.values {
		writeAt(channels, params.ChannelOffset+int(ch), v)
	}
}

func writeAt(channels *dmx.Channels, index int, v uint8) bool {
	if index < 0 || index >= dmx.NumChannels {
		return false
	}
	channels[index] = v
	return true
}
