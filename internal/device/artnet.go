package device

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"dmx2mqtt/internal/config"
	"dmx2mqtt/internal/logger"
	"github.com/Haba1234/go-artnet"
	"github.com/Haba1234/go-artnet/packet"
)

const (
	artNetQueueSize    = 64
	nodePollInterval   = 5 * time.Second
	artNetReadDeadline = 500 * time.Millisecond
)

var artNetAddressing = Addressing{NetSubnet: true, Universe: true, UniverseMin: 0, UniverseMax: 15}

// artNetDevice sends universes through a go-artnet controller and
// optionally listens for ArtDmx packets.
type artNetDevice struct {
	*base
	sender *artnet.Controller
	input  net.PacketConn

	nodes int
	stop  chan struct{}
	bg    sync.WaitGroup
}

func newArtNetDevice(cfg config.ArtNetConf, log *logger.Log) (*artNetDevice, error) {
	ip := net.ParseIP(cfg.IP)
	if ip == nil {
		found, err := FindArtNetIP(cfg.AddressRange)
		if err != nil {
			return nil, fmt.Errorf("failed to find the art-net IP: %w", err)
		}
		if len(found) == 0 {
			return nil, errors.New("failed to find the art-net IP: No interface found")
		}
		ip = found
	}

	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve hostname: %w", err)
	}
	host = strings.ToLower(strings.Split(host, ".")[0])

	fps := cfg.MaxFPS
	if fps <= 0 {
		fps = 40
	}

	d := &artNetDevice{
		base:   newBase(ArtNet, artNetAddressing, log, artNetQueueSize, false),
		sender: artnet.NewController(host, ip, artnet.NewDefaultLogger("info"), artnet.MaxFPS(fps)),
		stop:   make(chan struct{}),
	}
	d.base.log.Infof("Using ArtNet IP %s and hostname %s", ip.String(), host)

	if err := d.sender.Start(); err != nil {
		return nil, fmt.Errorf("failed to start Controller: %w", err)
	}
	d.connected.Store(true)

	if cfg.Input != "" {
		conn, err := net.ListenPacket("udp4", cfg.Input)
		if err != nil {
			d.sender.Stop()
			return nil, fmt.Errorf("failed to listen for art-net input on %s: %w", cfg.Input, err)
		}
		d.input = conn
		d.bg.Add(1)
		go d.receive()
	}

	d.bg.Add(1)
	go d.watchNodes()

	d.onClear = d.shutdown
	d.start(d, d.writeFrame)
	return d, nil
}

func (d *artNetDevice) writeFrame(f frame) error {
	d.sender.SendDMXToAddress(f.values, universeToAddress(f.net, f.subnet, f.universe))
	return nil
}

func (d *artNetDevice) shutdown() {
	close(d.stop)
	if d.input != nil {
		_ = d.input.Close()
	}
	d.bg.Wait()
	d.sender.Stop()
}

// watchNodes reports a setup change whenever the number of discovered
// nodes changes.
func (d *artNetDevice) watchNodes() {
	defer d.bg.Done()
	t := time.NewTicker(nodePollInterval)
	defer t.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-t.C:
			l := len(d.sender.Nodes) // Кол-во видимых узлов.
			if l == d.nodes {
				continue
			}
			d.nodes = l
			d.log.Debugf("Currently %d devices are registered: %v", l, describeNodes(d.sender.Nodes))
			d.setupChanged()
		}
	}
}

func (d *artNetDevice) receive() {
	defer d.bg.Done()
	buf := make([]byte, 1024)
	for {
		select {
		case <-d.stop:
			return
		default:
		}
		_ = d.input.SetReadDeadline(time.Now().Add(artNetReadDeadline))
		n, addr, err := d.input.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-d.stop:
			default:
				d.log.Errorf("art-net input read failed: %v", err)
			}
			return
		}
		artNet, subnet, universe, values, ok := decodeArtDMX(buf[:n])
		if !ok {
			continue
		}
		d.dataReceived(artNet, subnet, universe, values, addr.String())
	}
}

// NodeToString returns a string representation of the given Node.
func NodeToString(n *artnet.ControlledNode) string {
	var inputs, outputs []string
	for _, p := range n.Node.InputPorts {
		inputs = append(inputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
	}
	for _, p := range n.Node.OutputPorts {
		outputs = append(outputs, fmt.Sprintf("%s: %s", p.Address.String(), p.Type.String()))
	}

	return fmt.Sprintf(
		" | IP=%s name=%q type=%q manufacturer=%q desc=%q inputs=%q outputs=%q",
		n.UDPAddress.String(), n.Node.Name, n.Node.Type,
		n.Node.Manufacturer, n.Node.Description,
		strings.Join(inputs, "; "), strings.Join(outputs, "; "),
	)
}

func describeNodes(nodes []*artnet.ControlledNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeToString(n))
	}
	return out
}

// universeToAddress converts a (net, subnet, universe) triple to an art-net
// address: SubUni carries the subnet in the high nibble.
func universeToAddress(artNet, subnet, universe int) artnet.Address {
	return artnet.Address{
		Net:    uint8(artNet & 0x7F),
		SubUni: uint8((subnet&0xF)<<4 | universe&0xF),
	}
}

// decodeArtDMX extracts the address and slot values of an ArtDmx packet.
func decodeArtDMX(b []byte) (artNet, subnet, universe int, values []uint8, ok bool) {
	p, err := packet.Unmarshal(b)
	if err != nil {
		return 0, 0, 0, nil, false
	}
	dmxPacket, isDMX := p.(*packet.ArtDMXPacket)
	if !isDMX {
		return 0, 0, 0, nil, false
	}
	length := int(dmxPacket.Length)
	if length > len(dmxPacket.Data) {
		length = len(dmxPacket.Data)
	}
	values = make([]uint8, length)
	copy(values, dmxPacket.Data[:length])
	return int(dmxPacket.Net), int(dmxPacket.SubUni >> 4), int(dmxPacket.SubUni & 0xF), values, true
}
