package device

import (
	"fmt"

	"dmx2mqtt/internal/config"
	"dmx2mqtt/internal/logger"
)

// Options carries the transport settings of every dialect; New picks the
// block matching the requested type.
type Options struct {
	Log      *logger.Log
	Serial   config.SerialConf
	ArtNet   config.ArtNetConf
	SACN     config.SACNConf
	OpenPort PortOpener // OpenPort - nil means OpenSerialPort.
}

// NewOptions converts the dmx configuration block.
func NewOptions(log *logger.Log, cfg config.DMXConf) Options {
	return Options{
		Log:    log,
		Serial: cfg.Serial,
		ArtNet: cfg.ArtNet,
		SACN:   cfg.SACN,
	}
}

// New creates a disabled driver for the given dialect.
func New(t Type, opts Options) (Device, error) {
	log := opts.Log
	if log == nil {
		log = logger.NewDiscard()
	}

	switch t {
	case OpenDMX, EnttecDMXPro, EnttecMkII:
		return newSerialDevice(t, opts.Serial.Port, opts.OpenPort, log), nil
	case ArtNet:
		d, err := newArtNetDevice(opts.ArtNet, log)
		if err != nil {
			return nil, err
		}
		return d, nil
	case SACN:
		d, err := newSACNDevice(opts.SACN, log)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownType, t)
}
