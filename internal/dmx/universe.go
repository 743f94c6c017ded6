package dmx

import (
	"fmt"
	"strings"
)

// Channels is one universe worth of slot values, channel 1 at index 0.
type Channels [NumChannels]uint8

// Universe is one addressable DMX512 universe.
type Universe struct {
	Net      int
	Subnet   int
	Universe int
	Values   Channels
	IsDirty  bool
}

// NewUniverse конструктор.
func NewUniverse(net, subnet, universe int) *Universe {
	return &Universe{Net: net, Subnet: subnet, Universe: universe}
}

func (u *Universe) Key() UniverseKey {
	return Key(u.Net, u.Subnet, u.Universe)
}

// UpdateValue sets a zero based channel. With onlyIfChanged the universe is
// only marked dirty when the value actually differs. Out of range channels
// are ignored.
func (u *Universe) UpdateValue(channel int, value uint8, onlyIfChanged bool) {
	if channel < 0 || channel >= NumChannels {
		return
	}
	if onlyIfChanged && u.Values[channel] == value {
		return
	}
	u.Values[channel] = value
	u.IsDirty = true
}

// Snapshot returns a copy of the channel values.
func (u *Universe) Snapshot() []uint8 {
	values := make([]uint8, NumChannels)
	copy(values, u.Values[:])
	return values
}

func (u *Universe) String() string {
	last := NumChannels
	for last > 0 && u.Values[last-1] == 0 {
		last--
	}
	parts := make([]string, 0, last)
	for i := 0; i < last; i++ {
		parts = append(parts, fmt.Sprintf("%d:%d", i+1, u.Values[i]))
	}
	return fmt.Sprintf("Net %d, Subnet %d, Universe %d : [%s]", u.Net, u.Subnet, u.Universe, strings.Join(parts, ", "))
}
