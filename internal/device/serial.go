package device

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"dmx2mqtt/internal/dmx"
	"dmx2mqtt/internal/logger"
	"go.bug.st/serial"
)

// Enttec USB Pro message framing.
const (
	enttecStartByte  = 0x7E
	enttecEndByte    = 0xE7
	enttecLabelDMX   = 6 // Output Only Send DMX Packet Request.
	dmxStartCode     = 0x00
	singleUniverseID = 0

	// Open DMX is bit-banged by the host: BREAK of at least 88us, then the
	// frame at 250 kbaud 8N2.
	openDMXBreak = 100 * time.Microsecond
)

var (
	errNoPort          = errors.New("serial port is not configured")
	errForeignUniverse = errors.New("serial dialects only output universe 0")
)

// Line settings per dialect. The Enttec widgets buffer the frame themselves,
// so their line rate only has to match the USB bridge.
var (
	openDMXMode = &serial.Mode{BaudRate: 250000, DataBits: 8, Parity: serial.NoParity, StopBits: serial.TwoStopBits}
	enttecMode  = &serial.Mode{BaudRate: 57600, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
)

// Port is the part of a serial port the drivers use.
type Port interface {
	io.WriteCloser
	Break(d time.Duration) error
}

// PortOpener opens the serial device at path with the given line settings.
type PortOpener func(path string, mode *serial.Mode) (Port, error)

// OpenSerialPort opens a serial device through go.bug.st/serial.
func OpenSerialPort(path string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

var singleUniverse = Addressing{UniverseMin: singleUniverseID, UniverseMax: singleUniverseID}

// serialDevice drives the single-universe USB dialects.
type serialDevice struct {
	*base
	path   string
	open   PortOpener
	mode   *serial.Mode
	brk    bool // brk - слать BREAK перед каждым кадром.
	encode func(values []byte) []byte

	portMu sync.Mutex
	port   Port
}

func newSerialDevice(typ Type, path string, open PortOpener, log *logger.Log) *serialDevice {
	if open == nil {
		open = OpenSerialPort
	}
	d := &serialDevice{
		// Only the latest frame matters for a single universe.
		base: newBase(typ, singleUniverse, log, 1, true),
		path: path,
		open: open,
	}
	switch typ {
	case OpenDMX:
		d.encode = encodeOpenDMX
		d.mode = openDMXMode
		d.brk = true
	default:
		d.encode = encodeEnttec
		d.mode = enttecMode
	}
	d.onClear = d.closePort
	d.start(d, d.writeFrame)
	return d
}

func (d *serialDevice) SetEnabled(enabled bool) {
	d.base.SetEnabled(enabled)
	if !enabled {
		d.closePort()
	}
}

// SendDMXValues queues universe 0 only. Other universes are dropped before
// they reach the queue, so object overrides cannot interleave universes on
// the one line or push universe 0 out of the single-slot queue.
func (d *serialDevice) SendDMXValues(u *dmx.Universe) {
	if u.Net != 0 || u.Subnet != 0 || u.Universe != singleUniverseID {
		d.log.Debugf("%v: got %d.%d.%d", errForeignUniverse, u.Net, u.Subnet, u.Universe)
		return
	}
	d.base.SendDMXValues(u)
}

func (d *serialDevice) writeFrame(f frame) error {
	d.portMu.Lock()
	defer d.portMu.Unlock()

	if d.port == nil {
		if d.path == "" {
			return errNoPort
		}
		p, err := d.open(d.path, d.mode)
		if err != nil {
			d.connected.Store(false)
			return fmt.Errorf("failed to open %s: %w", d.path, err)
		}
		d.port = p
		d.log.Infof("serial port %s opened", d.path)
		d.connected.Store(true)
		d.setupChanged()
	}

	if d.brk {
		if err := d.port.Break(openDMXBreak); err != nil {
			d.dropPort()
			return fmt.Errorf("failed to send break on %s: %w", d.path, err)
		}
	}
	if _, err := d.port.Write(d.encode(f.values[:])); err != nil {
		d.dropPort()
		return fmt.Errorf("failed to write to %s: %w", d.path, err)
	}
	return nil
}

// dropPort closes a failed port; the next frame reopens it. portMu must be held.
func (d *serialDevice) dropPort() {
	_ = d.port.Close()
	d.port = nil
	d.connected.Store(false)
}

func (d *serialDevice) closePort() {
	d.portMu.Lock()
	defer d.portMu.Unlock()
	if d.port != nil {
		_ = d.port.Close()
		d.port = nil
	}
	d.connected.Store(false)
}

// encodeOpenDMX prefixes the slots with the DMX start code.
func encodeOpenDMX(values []byte) []byte {
	out := make([]byte, 0, len(values)+1)
	out = append(out, dmxStartCode)
	return append(out, values...)
}

// encodeEnttec wraps the slots in an Enttec "Send DMX" message.
func encodeEnttec(values []byte) []byte {
	n := len(values) + 1
	out := make([]byte, 0, n+5)
	out = append(out, enttecStartByte, enttecLabelDMX, byte(n&0xFF), byte(n>>8), dmxStartCode)
	out = append(out, values...)
	return append(out, enttecEndByte)
}
