package clientmqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	stdlog "log"
	"strconv"
	"strings"
	"time"

	"dmx2mqtt/internal/device"
	"dmx2mqtt/internal/dmxinterface"
	"dmx2mqtt/internal/logger"
	"dmx2mqtt/internal/notify"
	"dmx2mqtt/internal/show"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

var errUnknownTopic = errors.New("unknown topic")

// ClientMQTT bridges the DMX interface and an MQTT broker: component values
// and interface commands come in, interface events go out.
type ClientMQTT struct {
	ctx       context.Context
	log       *logger.Log
	cfgClient MQTTConf
	client    mqtt.Client
	opts      *mqtt.ClientOptions
	iface     *dmxinterface.Interface
	engine    *show.Engine
}

// NewClient конструктор.
func NewClient(log logger.Logger, cfgClient MQTTConf, iface *dmxinterface.Interface, engine *show.Engine) *ClientMQTT {
	if cfgClient.TopicPrefix == "" {
		cfgClient.TopicPrefix = "dmx"
	}
	return &ClientMQTT{
		log:       log.With(logger.Fields{"module": "mqtt"}),
		cfgClient: cfgClient,
		iface:     iface,
		engine:    engine,
	}
}

func (c *ClientMQTT) Start(ctx context.Context) error {
	if c.log.GetLevel() == "debug" {
		mqtt.ERROR = stdlog.New(c.log.WriterLevel(logrus.ErrorLevel), "", 0)
		mqtt.CRITICAL = stdlog.New(c.log.WriterLevel(logrus.ErrorLevel), "", 0)
		mqtt.WARN = stdlog.New(c.log.WriterLevel(logrus.WarnLevel), "", 0)
	}

	c.ctx = ctx

	c.opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfgClient.Schema, c.cfgClient.Host, c.cfgClient.Port)).
		SetUsername(c.cfgClient.User).
		SetPassword(c.cfgClient.Password).
		SetDefaultPublishHandler(c.messageHandler).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfgClient.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	c.client = mqtt.NewClient(c.opts)

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-c.ctx.Done():
		return errors.New("context canceled")
	}

	c.log.Infof("Status: %v", c.client.IsConnected())
	return nil
}

func (c *ClientMQTT) Stop() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(500)
	}
	return nil
}

// HandleEvent publishes an interface event. It is meant to be subscribed to
// the notification bus.
func (c *ClientMQTT) HandleEvent(e notify.Event) {
	if c.client == nil || !c.client.IsConnected() {
		return
	}
	topic, payload, err := c.eventMessage(e)
	if err != nil {
		c.log.Errorf("event %s could not be encoded: %v", e.Kind, err)
		return
	}
	c.client.Publish(topic, c.cfgClient.Qos, e.Kind == notify.DeviceChanged, payload)
}

func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	c.log.Info("client connected to server")
	for _, topic := range c.subscriptions() {
		c.sub(topic)
	}
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.log.Errorf("server connect lost: %v\n", err)
}

func (c *ClientMQTT) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	c.log.Debugf("received message: %s from topic: %s", msg.Payload(), msg.Topic())
	if err := c.handle(msg.Topic(), msg.Payload()); err != nil {
		c.log.Errorf("message from %s rejected: %v", msg.Topic(), err)
	}
}

func (c *ClientMQTT) sub(topic string) {
	token := c.client.Subscribe(topic, c.cfgClient.Qos, nil)
	go func() {
		select {
		case <-c.ctx.Done():
			return
		case <-token.Done():
			if token.Error() != nil {
				c.log.Errorf("topic %s subscription error. %v\n", topic, token.Error())
				return
			}
		}
		c.log.Debugf("topic %s subscribed\n", topic)
	}()
}

func (c *ClientMQTT) subscriptions() []string {
	p := c.cfgClient.TopicPrefix
	return []string{
		p + "/object/+/+/set",
		p + "/interface/type/set",
		p + "/interface/enabled/set",
		p + "/interface/test/set",
	}
}

// handle routes an inbound message by topic.
func (c *ClientMQTT) handle(topic string, payload []byte) error {
	p := c.cfgClient.TopicPrefix + "/"
	if !strings.HasPrefix(topic, p) {
		return fmt.Errorf("%w: %s", errUnknownTopic, topic)
	}
	parts := strings.Split(strings.TrimPrefix(topic, p), "/")

	switch {
	case len(parts) == 4 && parts[0] == "object" && parts[3] == "set":
		v, ok := c.engine.ValueComponent(parts[1], parts[2])
		if !ok {
			return fmt.Errorf("no mqtt component %s of object %s", parts[2], parts[1])
		}
		var data Payload
		if err := json.Unmarshal(payload, &data); err != nil {
			return fmt.Errorf("message could not be parsed (%s): %w", payload, err)
		}
		v.Apply(data)
		return nil

	case len(parts) == 3 && parts[0] == "interface" && parts[2] == "set":
		return c.handleInterface(parts[1], strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("%w: %s", errUnknownTopic, topic)
}

func (c *ClientMQTT) handleInterface(setting, value string) error {
	switch setting {
	case "type":
		t, err := device.ParseType(value)
		if err != nil {
			return err
		}
		return c.iface.SetDeviceType(t)
	case "enabled":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		c.iface.SetEnabled(enabled)
		return nil
	case "test":
		var cmd TestCommand
		if err := json.Unmarshal([]byte(value), &cmd); err != nil {
			return err
		}
		c.iface.TestChannel(cmd.Net, cmd.Subnet, cmd.Universe, cmd.Channel, cmd.On)
		return nil
	}
	return fmt.Errorf("%w: interface/%s", errUnknownTopic, setting)
}

// eventMessage returns the topic and JSON payload for an event.
func (c *ClientMQTT) eventMessage(e notify.Event) (string, []byte, error) {
	p := c.cfgClient.TopicPrefix
	switch e.Kind {
	case notify.DeviceChanged:
		connected, _ := c.iface.ConnectedState()
		payload, err := json.Marshal(deviceMessage{Interface: e.Interface, Device: e.Device, Connected: connected})
		return p + "/interface/device", payload, err
	case notify.UniverseSent, notify.DataIn:
		kind := "universe"
		if e.Kind == notify.DataIn {
			kind = "in"
		}
		values := make([]int, len(e.Values))
		for n, v := range e.Values {
			values[n] = int(v)
		}
		payload, err := json.Marshal(universeMessage{
			Net:      e.Net,
			Subnet:   e.Subnet,
			Universe: e.Universe,
			Values:   values,
			Source:   e.SourceName,
		})
		return fmt.Sprintf("%s/%s/%s", p, kind, e.Key()), payload, err
	}
	return "", nil, fmt.Errorf("unsupported event kind %s", e.Kind)
}
