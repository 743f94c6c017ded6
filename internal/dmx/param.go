package dmx

import "sync"

// IntParam is an integer setting with a legal range and an enabled flag.
// Set clamps to the range; SetRange re-clamps the current value.
type IntParam struct {
	mu      sync.RWMutex
	name    string
	value   int
	min     int
	max     int
	enabled bool
}

// NewIntParam конструктор.
func NewIntParam(name string, value, min, max int, enabled bool) *IntParam {
	p := &IntParam{name: name, min: min, max: max, enabled: enabled}
	p.value = p.clamp(value)
	return p
}

func (p *IntParam) Name() string {
	return p.name
}

func (p *IntParam) Value() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.value
}

// Set stores v clamped to the legal range and returns the stored value.
func (p *IntParam) Set(v int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = p.clamp(v)
	return p.value
}

func (p *IntParam) Range() (min, max int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.min, p.max
}

func (p *IntParam) SetRange(min, max int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.min, p.max = min, max
	p.value = p.clamp(p.value)
}

func (p *IntParam) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

func (p *IntParam) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

func (p *IntParam) clamp(v int) int {
	if v < p.min {
		return p.min
	}
	if v > p.max {
		return p.max
	}
	return v
}
