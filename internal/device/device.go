package device

import (
	"errors"
	"fmt"
	"strings"

	"dmx2mqtt/internal/dmx"
)

// ErrUnknownType is returned for a dialect name that is not recognized.
var ErrUnknownType = errors.New("unknown dmx device type")

// Type is a DMX transmission dialect.
type Type int

const (
	OpenDMX Type = iota
	EnttecDMXPro
	EnttecMkII
	ArtNet
	SACN
)

var typeNames = map[Type]string{
	OpenDMX:      "Open DMX",
	EnttecDMXPro: "Enttec DMX Pro",
	EnttecMkII:   "Enttec DMX MkII",
	ArtNet:       "Art-Net",
	SACN:         "sACN/E1.31",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType accepts both the short config keys and the display names.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "opendmx", "open dmx":
		return OpenDMX, nil
	case "enttec-pro", "enttec dmx pro", "enttecdmxpro":
		return EnttecDMXPro, nil
	case "enttec-mk2", "enttec dmx mkii", "enttecmkii":
		return EnttecMkII, nil
	case "artnet", "art-net":
		return ArtNet, nil
	case "sacn", "sacn/e1.31", "e1.31":
		return SACN, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// Addressing describes which address levels a dialect supports.
type Addressing struct {
	NetSubnet   bool // NetSubnet - поддержка net и subnet.
	Universe    bool // Universe - выбор вселенной.
	UniverseMin int
	UniverseMax int
}

// Listener receives device notifications. Callbacks may arrive on the
// device's own goroutines.
type Listener interface {
	DMXDeviceSetupChanged(d Device)
	DMXDataInChanged(d Device, net, subnet, universe int, values []uint8, sourceName string)
}

// Device is a DMX transmission driver.
type Device interface {
	Type() Type
	Addressing() Addressing
	SetEnabled(enabled bool)
	IsEnabled() bool
	IsConnected() bool
	// SendDMXValues queues a copy of the universe for transmission and never
	// blocks. Frames are dropped when the transport is congested.
	SendDMXValues(u *dmx.Universe)
	AddListener(l Listener)
	RemoveListener(l Listener)
	// Clear stops the transport and releases its resources.
	Clear()
}
