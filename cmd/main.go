package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dmx2mqtt/internal/clientmqtt"
	"dmx2mqtt/internal/config"
	"dmx2mqtt/internal/device"
	"dmx2mqtt/internal/dmxinterface"
	"dmx2mqtt/internal/logger"
	"dmx2mqtt/internal/notify"
	"dmx2mqtt/internal/show"
)

// notifyQueueSize - глубина очереди событий интерфейса.
const notifyQueueSize = 20

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v", err)
		os.Exit(1)
	}

	log.With(logger.Fields{"module": "logger"}).Debug("newLogger created ok")

	bus := notify.New(notifyQueueSize, log)

	opts := device.NewOptions(log, cfg.DMX)
	iface := dmxinterface.New("dmx", log, bus, func(t device.Type) (device.Device, error) {
		return device.New(t, opts)
	})
	applyInterfaceConfig(iface, cfg.DMX)

	dmxType, err := device.ParseType(cfg.DMX.Type)
	if err != nil {
		log.With(logger.Fields{"module": "dmx"}).Errorf("invalid dmx type: %v", err)
		os.Exit(1)
	}
	if err = iface.SetDeviceType(dmxType); err != nil {
		// The interface keeps running without a driver; the type can be
		// switched later over MQTT.
		log.With(logger.Fields{"module": "dmx"}).Errorf("%v", err)
	}
	// Defaults are re-applied after the addressing policy of the dialect.
	applyDefaults(iface, cfg.DMX)

	engine, err := show.NewEngine(log, iface, cfg.DMX.TickRate)
	if err != nil {
		log.With(logger.Fields{"module": "show"}).Errorf("failed to create the show engine: %v", err)
		os.Exit(1)
	}
	if err = engine.LoadObjects(cfg.Objects); err != nil {
		log.With(logger.Fields{"module": "show"}).Errorf("failed to load objects: %v", err)
		os.Exit(1)
	}
	log.With(logger.Fields{"module": "show"}).Debugf("%d objects loaded", len(engine.Objects()))

	client := clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg.MQTT), iface, engine)
	log.With(logger.Fields{"module": "mqtt"}).Debug("NewClient created ok")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	if err = bus.Subscribe("mqtt", client.HandleEvent); err != nil {
		log.Error("failed to subscribe MQTT client to interface events:", err.Error())
	}

	if err = client.Start(ctx); err != nil {
		log.Error("failed to start MQTT service:", err.Error())
		cancel()
	}

	engine.Run(ctx)

	if err := client.Stop(); err != nil {
		log.Error("failed to stop MQTT service:", err.Error())
	}

	iface.Clear()
	bus.Close()

	log.Info("shutdown complete")
}

func applyInterfaceConfig(iface *dmxinterface.Interface, cfg config.DMXConf) {
	iface.SetEnabled(cfg.Enabled)
	iface.SetSendOnChangeOnly(cfg.SendOnChangeOnly)
	iface.SetChannelTestingMode(cfg.ChannelTesting)
	iface.SetChannelTestingFlashValue(cfg.FlashValue)
	iface.SetLogIncoming(cfg.LogIncoming)
	iface.SetLogOutgoing(cfg.LogOutgoing)
}

func applyDefaults(iface *dmxinterface.Interface, cfg config.DMXConf) {
	if iface.DefaultNet.Enabled() {
		iface.DefaultNet.Set(cfg.Net)
		iface.DefaultSubnet.Set(cfg.Subnet)
	}
	if iface.DefaultUniverse.Enabled() {
		iface.DefaultUniverse.Set(cfg.Universe)
	}
}

// ConvertConfigClientMQTT преобразует структуры.
func ConvertConfigClientMQTT(cfg config.MQTTConf) clientmqtt.MQTTConf {
	return clientmqtt.MQTTConf{
		ClientID:    cfg.ClientID,
		Schema:      "tcp",
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		Password:    cfg.Password,
		Qos:         cfg.Qos,
		TopicPrefix: cfg.TopicPrefix,
	}
}
