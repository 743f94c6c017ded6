package dmx

import "errors"

// ErrMissingParams is reported for objects without a DMX params block.
var ErrMissingParams = errors.New("object has no dmx params")

// Params is the per-object DMX override block. Net, Subnet and Universe are
// disabled by default and fall back to the interface defaults.
type Params struct {
	Net          *IntParam
	Subnet       *IntParam
	Universe     *IntParam
	StartChannel *IntParam // 1..512
}

// NewParams конструктор.
func NewParams() *Params {
	return &Params{
		Net:          NewIntParam("Net", 0, 0, 15, false),
		Subnet:       NewIntParam("Subnet", 0, 0, 15, false),
		Universe:     NewIntParam("Universe", 0, 0, 63999, false),
		StartChannel: NewIntParam("Start Channel", 1, 1, NumChannels, true),
	}
}

// ChannelOffset is the zero based index of the start channel.
func (p *Params) ChannelOffset() int {
	return p.StartChannel.Value() - 1
}

// Address describes where an object's channels land.
type Address struct {
	Net           int
	Subnet        int
	Universe      int
	ChannelOffset int
}

// Resolve picks the override for every enabled field and the given default
// for every disabled one.
func (p *Params) Resolve(net, subnet, universe int) Address {
	a := Address{Net: net, Subnet: subnet, Universe: universe, ChannelOffset: p.ChannelOffset()}
	if p.Net.Enabled() {
		a.Net = p.Net.Value()
	}
	if p.Subnet.Enabled() {
		a.Subnet = p.Subnet.Value()
	}
	if p.Universe.Enabled() {
		a.Universe = p.Universe.Value()
	}
	return a
}
