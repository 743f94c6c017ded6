package dmx

import "fmt"

// NumChannels число каналов в одной вселенной DMX512.
const NumChannels = 512

// UniverseKey is the canonical registry key of a (net, subnet, universe) triple.
type UniverseKey uint32

// Key maps a (net, subnet, universe) triple to its canonical key.
// Net and subnet take 4 bits each, universe takes the low 16 bits, so the
// mapping is collision-free for every dialect's legal range.
func Key(net, subnet, universe int) UniverseKey {
	return UniverseKey(uint32(net&0xF)<<20 | uint32(subnet&0xF)<<16 | uint32(universe&0xFFFF))
}

// Split returns the triple the key was built from.
func (k UniverseKey) Split() (net, subnet, universe int) {
	return int(k>>20) & 0xF, int(k>>16) & 0xF, int(k) & 0xFFFF
}

func (k UniverseKey) String() string {
	n, s, u := k.Split()
	return fmt.Sprintf("%d.%d.%d", n, s, u)
}
