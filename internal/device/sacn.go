package device

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"dmx2mqtt/internal/config"
	"dmx2mqtt/internal/dmx"
	"dmx2mqtt/internal/logger"
	"github.com/google/uuid"
	"golang.org/x/net/ipv4"
)

// E1.31 data packet layout.
const (
	sacnPort          = 5568
	sacnPacketSize    = 638
	sacnSourceNameLen = 64
	sacnQueueSize     = 64
	sacnReadDeadline  = 500 * time.Millisecond

	rootVector    = 0x00000004
	framingVector = 0x00000002
	dmpVector     = 0x02

	offRootFlags    = 16
	offCID          = 22
	offFramingFlags = 38
	offSourceName   = 44
	offPriority     = 108
	offSequence     = 111
	offUniverse     = 113
	offDMPFlags     = 115
	offValueCount   = 123
	offStartCode    = 125
	offData         = 126
)

var acnPacketID = []byte("ASC-E1.17\x00\x00\x00")

var sacnAddressing = Addressing{Universe: true, UniverseMin: 1, UniverseMax: 63999}

var errNotE131 = errors.New("not an E1.31 data packet")

// sacnDevice sends E1.31 data packets over UDP, either unicast to a fixed
// destination or to the universe multicast group.
type sacnDevice struct {
	*base
	cid         uuid.UUID
	sourceName  string
	priority    uint8
	destination *net.UDPAddr

	conn   *ipv4.PacketConn
	input  *ipv4.PacketConn
	inAddr net.Addr
	seq    map[int]uint8 // seq - номер последовательности по вселенной.

	stop chan struct{}
	bg   sync.WaitGroup
}

func newSACNDevice(cfg config.SACNConf, log *logger.Log) (*sacnDevice, error) {
	var dest *net.UDPAddr
	if cfg.Destination != "" {
		addr, err := net.ResolveUDPAddr("udp4", withDefaultPort(cfg.Destination, sacnPort))
		if err != nil {
			return nil, fmt.Errorf("invalid sACN destination %q: %w", cfg.Destination, err)
		}
		dest = addr
	}

	var ifi *net.Interface
	if cfg.Interface != "" {
		var err error
		if ifi, err = net.InterfaceByName(cfg.Interface); err != nil {
			return nil, fmt.Errorf("sACN interface %q: %w", cfg.Interface, err)
		}
	}

	conn, err := openSACNOutput(ifi, cfg.TTL)
	if err != nil {
		return nil, err
	}

	priority := cfg.Priority
	if priority <= 0 || priority > 200 {
		priority = 100
	}

	d := &sacnDevice{
		base:        newBase(SACN, sacnAddressing, log, sacnQueueSize, false),
		cid:         uuid.New(),
		sourceName:  cfg.SourceName,
		priority:    uint8(priority),
		destination: dest,
		conn:        conn,
		seq:         map[int]uint8{},
		stop:        make(chan struct{}),
	}
	d.connected.Store(true)

	if cfg.Input != "" {
		in, addr, err := openSACNInput(cfg.Input, ifi, cfg.Join)
		if err != nil {
			_ = conn.Close()
			return nil, err
		}
		d.input, d.inAddr = in, addr
		d.bg.Add(1)
		go d.receive()
	}

	d.onClear = d.shutdown
	d.start(d, d.writeFrame)
	return d, nil
}

func openSACNOutput(ifi *net.Interface, ttl int) (*ipv4.PacketConn, error) {
	c, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("failed to open sACN socket: %w", err)
	}
	p := ipv4.NewPacketConn(c)
	if ttl <= 0 {
		ttl = 1
	}
	if err = p.SetMulticastTTL(ttl); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("sACN multicast ttl: %w", err)
	}
	if err = p.SetMulticastLoopback(true); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("sACN multicast loopback: %w", err)
	}
	if ifi != nil {
		if err = p.SetMulticastInterface(ifi); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("sACN multicast interface %s: %w", ifi.Name, err)
		}
	}
	return p, nil
}

// openSACNInput listens on addr and joins the multicast group of every
// universe in join.
func openSACNInput(addr string, ifi *net.Interface, join []int) (*ipv4.PacketConn, net.Addr, error) {
	c, err := net.ListenPacket("udp4", withDefaultPort(addr, sacnPort))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen for sACN input on %s: %w", addr, err)
	}
	p := ipv4.NewPacketConn(c)
	for _, universe := range join {
		if universe < sacnAddressing.UniverseMin || universe > sacnAddressing.UniverseMax {
			_ = p.Close()
			return nil, nil, fmt.Errorf("sACN join: universe %d out of range", universe)
		}
		if err = p.JoinGroup(ifi, multicastAddr(universe)); err != nil {
			_ = p.Close()
			return nil, nil, fmt.Errorf("sACN join universe %d: %w", universe, err)
		}
	}
	return p, c.LocalAddr(), nil
}

func (d *sacnDevice) writeFrame(f frame) error {
	d.seq[f.universe]++
	pkt := encodeE131(d.cid, d.sourceName, d.priority, d.seq[f.universe], f.universe, f.values[:])

	dest := d.destination
	if dest == nil {
		dest = multicastAddr(f.universe)
	}
	if _, err := d.conn.WriteTo(pkt, nil, dest); err != nil {
		d.connected.Store(false)
		return fmt.Errorf("sACN write to %s: %w", dest, err)
	}
	d.connected.Store(true)
	return nil
}

func (d *sacnDevice) shutdown() {
	close(d.stop)
	if d.input != nil {
		_ = d.input.Close()
	}
	d.bg.Wait()
	_ = d.conn.Close()
}

func (d *sacnDevice) receive() {
	defer d.bg.Done()
	buf := make([]byte, 1144)
	for {
		select {
		case <-d.stop:
			return
		default:
		}
		_ = d.input.SetReadDeadline(time.Now().Add(sacnReadDeadline))
		n, _, _, err := d.input.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-d.stop:
			default:
				d.log.Errorf("sACN input read failed: %v", err)
			}
			return
		}
		universe, values, source, err := decodeE131(buf[:n])
		if err != nil {
			continue
		}
		d.dataReceived(0, 0, universe, values, source)
	}
}

// multicastAddr returns the E1.31 multicast group of a universe.
func multicastAddr(universe int) *net.UDPAddr {
	return &net.UDPAddr{
		IP:   net.IPv4(239, 255, byte(universe>>8), byte(universe)),
		Port: sacnPort,
	}
}

func withDefaultPort(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, fmt.Sprint(port))
}

func flagsAndLength(n int) uint16 {
	return 0x7000 | uint16(n&0x0FFF)
}

// encodeE131 builds an E1.31 data packet carrying up to 512 slots.
func encodeE131(cid uuid.UUID, sourceName string, priority, sequence uint8, universe int, values []byte) []byte {
	if len(values) > dmx.NumChannels {
		values = values[:dmx.NumChannels]
	}
	size := offData + len(values)
	b := make([]byte, size)
	be := binary.BigEndian

	// Root layer.
	be.PutUint16(b[0:], 0x0010)
	copy(b[4:16], acnPacketID)
	be.PutUint16(b[offRootFlags:], flagsAndLength(size-offRootFlags))
	be.PutUint32(b[18:], rootVector)
	copy(b[offCID:offCID+16], cid[:])

	// Framing layer.
	be.PutUint16(b[offFramingFlags:], flagsAndLength(size-offFramingFlags))
	be.PutUint32(b[40:], framingVector)
	copy(b[offSourceName:offSourceName+sacnSourceNameLen-1], sourceName)
	b[offPriority] = priority
	b[offSequence] = sequence
	be.PutUint16(b[offUniverse:], uint16(universe))

	// DMP layer.
	be.PutUint16(b[offDMPFlags:], flagsAndLength(size-offDMPFlags))
	b[117] = dmpVector
	b[118] = 0xA1
	be.PutUint16(b[121:], 0x0001)
	be.PutUint16(b[offValueCount:], uint16(len(values)+1))
	b[offStartCode] = dmxStartCode
	copy(b[offData:], values)
	return b
}

// decodeE131 returns the universe, slot values and source name of an E1.31
// data packet.
func decodeE131(b []byte) (universe int, values []uint8, sourceName string, err error) {
	if len(b) < offData || !bytes.Equal(b[4:16], acnPacketID) {
		return 0, nil, "", errNotE131
	}
	be := binary.BigEndian
	if be.Uint32(b[18:]) != rootVector || be.Uint32(b[40:]) != framingVector || b[117] != dmpVector {
		return 0, nil, "", errNotE131
	}
	if b[offStartCode] != dmxStartCode {
		return 0, nil, "", errNotE131
	}

	count := int(be.Uint16(b[offValueCount:])) - 1
	if count < 0 || offData+count > len(b) {
		return 0, nil, "", errNotE131
	}
	if count > dmx.NumChannels {
		count = dmx.NumChannels
	}
	values = make([]uint8, count)
	copy(values, b[offData:offData+count])

	name := b[offSourceName : offSourceName+sacnSourceNameLen]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return int(be.Uint16(b[offUniverse:])), values, string(name), nil
}
