package dmxinterface

import "dmx2mqtt/internal/dmx"

// FillParams tells a component where its channels land.
type FillParams struct {
	Net           int
	Subnet        int
	Universe      int
	ChannelOffset int // ChannelOffset - индекс первого канала объекта, с нуля.
}

// Component is the part of an object that computes channel values.
// FillInterfaceData is called once per cycle for every enabled component
// and writes into the shared buffer starting at params.ChannelOffset.
// Later components overwrite earlier ones on the same channel.
type Component interface {
	Name() string
	IsEnabled() bool
	FillInterfaceData(iface *Interface, channels *dmx.Channels, params FillParams)
}

// Object is a fixture-like unit: a DMX params block plus its components.
type Object struct {
	Name       string
	Params     *dmx.Params
	Components []Component
}

// NewObject creates an object with default params.
func NewObject(name string, components ...Component) *Object {
	return &Object{
		Name:       name,
		Params:     dmx.NewParams(),
		Components: components,
	}
}
