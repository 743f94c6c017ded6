// Package show drives the DMX interface at a fixed tick rate.
package show

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"dmx2mqtt/internal/config"
	"dmx2mqtt/internal/dmxinterface"
	"dmx2mqtt/internal/logger"
)

var (
	ErrUnknownComponentKind = errors.New("unknown component kind")
	ErrInvalidTickRate      = errors.New("tick rate must be positive")
)

const (
	KindStatic = "static"
	KindMQTT   = "mqtt"
)

// Engine owns the object list and runs one send cycle per tick.
type Engine struct {
	log      *logger.Log
	iface    *dmxinterface.Interface
	tickRate int

	mu      sync.RWMutex
	objects []*dmxinterface.Object
	values  map[string]*ValueComponent

	ticks atomic.Uint64
}

// NewEngine конструктор.
func NewEngine(log logger.Logger, iface *dmxinterface.Interface, tickRate int) (*Engine, error) {
	if tickRate <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTickRate, tickRate)
	}
	return &Engine{
		log:      log.With(logger.Fields{"module": "show"}),
		iface:    iface,
		tickRate: tickRate,
		values:   map[string]*ValueComponent{},
	}, nil
}

// AddObject appends an object; objects are filled in insertion order.
func (e *Engine) AddObject(o *dmxinterface.Object) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.objects = append(e.objects, o)
	for _, c := range o.Components {
		if v, ok := c.(*ValueComponent); ok {
			e.values[valueKey(o.Name, v.Name())] = v
		}
	}
}

// LoadObjects builds objects from their configuration.
func (e *Engine) LoadObjects(objects []config.ObjectConf) error {
	for _, oc := range objects {
		o, err := NewObject(oc)
		if err != nil {
			return err
		}
		e.AddObject(o)
	}
	return nil
}

func (e *Engine) Objects() []*dmxinterface.Object {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*dmxinterface.Object(nil), e.objects...)
}

// ValueComponent finds an externally driven component by object and name.
func (e *Engine) ValueComponent(object, component string) (*ValueComponent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.values[valueKey(object, component)]
	return v, ok
}

func (e *Engine) Ticks() uint64 {
	return e.ticks.Load()
}

// Tick runs one Prepare, Fill, Finish cycle.
func (e *Engine) Tick() {
	e.iface.PrepareSendValues()
	for _, o := range e.Objects() {
		if err := e.iface.SendValuesForObject(o); err != nil {
			e.log.Debugf("object %s: %v", o.Name, err)
		}
	}
	e.iface.FinishSendValues()
	e.ticks.Add(1)
}

// Run ticks until ctx is done.
func (e *Engine) Run(ctx context.Context) {
	t := time.NewTicker(time.Second / time.Duration(e.tickRate))
	defer t.Stop()
	e.log.Infof("send loop started at %d Hz", e.tickRate)
	for {
		select {
		case <-ctx.Done():
			e.log.Info("send loop stopped")
			return
		case <-t.C:
			e.Tick()
		}
	}
}

// NewObject builds an object and its components from configuration.
func NewObject(oc config.ObjectConf) (*dmxinterface.Object, error) {
	o := dmxinterface.NewObject(oc.Name)
	if oc.Net != nil {
		o.Params.Net.SetEnabled(true)
		o.Params.Net.Set(*oc.Net)
	}
	if oc.Subnet != nil {
		o.Params.Subnet.SetEnabled(true)
		o.Params.Subnet.Set(*oc.Subnet)
	}
	if oc.Universe != nil {
		o.Params.Universe.SetEnabled(true)
		o.Params.Universe.Set(*oc.Universe)
	}
	if oc.StartChannel != 0 {
		o.Params.StartChannel.Set(oc.StartChannel)
	}

	for _, cc := range oc.Components {
		var c interface {
			dmxinterface.Component
			SetEnabled(bool)
		}
		switch cc.Kind {
		case KindStatic, "":
			c = NewStaticComponent(cc.Name, toBytes(cc.Values))
		case KindMQTT:
			c = NewValueComponent(cc.Name)
		default:
			return nil, fmt.Errorf("object %q component %q: %w: %q", oc.Name, cc.Name, ErrUnknownComponentKind, cc.Kind)
		}
		if cc.Enabled != nil {
			c.SetEnabled(*cc.Enabled)
		}
		o.Components = append(o.Components, c)
	}
	return o, nil
}

func valueKey(object, component string) string {
	return object + "/" + component
}

func toBytes(values []int) []uint8 {
	out := make([]uint8, len(values))
	for n, v := range values {
		switch {
		case v < 0:
			out[n] = 0
		case v > 255:
			out[n] = 255
		default:
			out[n] = uint8(v)
		}
	}
	return out
}
