package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidTickRate     = errors.New("tick-rate must be positive")
	ErrInvalidStartChannel = errors.New("start-channel must be within 1..512")
	ErrUnknownFormat       = errors.New("unknown configuration file format")
)

// Config структура конфигурации.
type Config struct {
	Logger  LogConf      `toml:"logger" yaml:"logger"`  // Logger - конфигурация регистратора.
	DMX     DMXConf      `toml:"dmx" yaml:"dmx"`        // DMX - конфигурация интерфейса DMX.
	MQTT    MQTTConf     `toml:"mqtt" yaml:"mqtt"`      // MQTT - конфигурация MQTT клиента.
	Objects []ObjectConf `toml:"object" yaml:"objects"` // Objects - объекты, выводимые в DMX.
}

// LogConf структура конфигурации.
type LogConf struct {
	Level  string `toml:"log-level" yaml:"log-level"`   // Level - уровень логирования.
	Format string `toml:"log-format" yaml:"log-format"` // Format - text или json.
}

// DMXConf describes the interface and its active dialect.
type DMXConf struct {
	Type             string     `toml:"type" yaml:"type"`
	Enabled          bool       `toml:"enabled" yaml:"enabled"`
	Net              int        `toml:"net" yaml:"net"`
	Subnet           int        `toml:"subnet" yaml:"subnet"`
	Universe         int        `toml:"universe" yaml:"universe"`
	SendOnChangeOnly bool       `toml:"send-on-change-only" yaml:"send-on-change-only"`
	ChannelTesting   bool       `toml:"channel-testing" yaml:"channel-testing"`
	FlashValue       float64    `toml:"flash-value" yaml:"flash-value"`
	TickRate         int        `toml:"tick-rate" yaml:"tick-rate"` // TickRate - частота цикла отправки, Гц.
	LogIncoming      bool       `toml:"log-incoming" yaml:"log-incoming"`
	LogOutgoing      bool       `toml:"log-outgoing" yaml:"log-outgoing"`
	Serial           SerialConf `toml:"serial" yaml:"serial"`
	ArtNet           ArtNetConf `toml:"artnet" yaml:"artnet"`
	SACN             SACNConf   `toml:"sacn" yaml:"sacn"`
}

// SerialConf is used by the Open DMX and Enttec dialects.
type SerialConf struct {
	Port string `toml:"port" yaml:"port"` // Port - путь к устройству, например /dev/ttyUSB0.
}

type ArtNetConf struct {
	IP           string `toml:"ip" yaml:"ip"`                       // IP - адрес интерфейса; пусто - поиск по AddressRange.
	AddressRange string `toml:"address-range" yaml:"address-range"` // AddressRange - сеть Art-Net в формате CIDR.
	Input        string `toml:"input" yaml:"input"`                 // Input - адрес приёма ArtDmx; пусто - приём выключен.
	MaxFPS       int    `toml:"max-fps" yaml:"max-fps"`
}

type SACNConf struct {
	Destination string `toml:"destination" yaml:"destination"` // Destination - unicast адрес; пусто - multicast.
	SourceName  string `toml:"source-name" yaml:"source-name"`
	Priority    int    `toml:"priority" yaml:"priority"`
	Interface   string `toml:"interface" yaml:"interface"` // Interface - сетевой интерфейс для multicast; пусто - по умолчанию.
	TTL         int    `toml:"ttl" yaml:"ttl"`
	Input       string `toml:"input" yaml:"input"`
	Join        []int  `toml:"join" yaml:"join"` // Join - вселенные, на группы которых подписывается приём.
}

// MQTTConf структура конфигурации.
type MQTTConf struct {
	ClientID    string `toml:"clientID" yaml:"clientID"`         // ClientID - имя клиента.
	Host        string `toml:"server" yaml:"server"`             // Host - адрес MQTT сервера.
	Port        string `toml:"port" yaml:"port"`                 // Port - порт MQTT сервера.
	User        string `toml:"user" yaml:"user"`                 // User - логин для подключения к MQTT серверу.
	Password    string `toml:"password" yaml:"password"`         // Password - пароль для подключения к MQTT серверу.
	Qos         byte   `toml:"qos" yaml:"qos"`                   // Qos - качество обслуживания.
	TopicPrefix string `toml:"topic-prefix" yaml:"topic-prefix"` // TopicPrefix - корень всех топиков.
}

// ObjectConf declares an object whose components feed the interface.
type ObjectConf struct {
	Name         string          `toml:"name" yaml:"name"`
	Net          *int            `toml:"net" yaml:"net"` // nil - значение интерфейса.
	Subnet       *int            `toml:"subnet" yaml:"subnet"`
	Universe     *int            `toml:"universe" yaml:"universe"`
	StartChannel int             `toml:"start-channel" yaml:"start-channel"`
	Components   []ComponentConf `toml:"component" yaml:"components"`
}

type ComponentConf struct {
	Name    string `toml:"name" yaml:"name"`
	Kind    string `toml:"kind" yaml:"kind"` // Kind - static или mqtt.
	Enabled *bool  `toml:"enabled" yaml:"enabled"`
	Values  []int  `toml:"values" yaml:"values"`
}

// Default returns the configuration used for keys missing from the file.
func Default() Config {
	return Config{
		Logger: LogConf{Level: "info"},
		DMX: DMXConf{
			Type:       "opendmx",
			Enabled:    true,
			FlashValue: 1,
			TickRate:   40,
			ArtNet: ArtNetConf{
				AddressRange: "192.168.6.0/24",
				MaxFPS:       40,
			},
			SACN: SACNConf{
				SourceName: "dmx2mqtt",
				Priority:   100,
				TTL:        1,
			},
		},
		MQTT: MQTTConf{
			ClientID:    "dmx2mqtt",
			Host:        "localhost",
			Port:        "1883",
			TopicPrefix: "dmx",
		},
	}
}

// NewConfig конструктор. The decoder is picked by file extension.
func NewConfig(path string) (*Config, error) {
	// default values
	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return &cfg, err
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return &cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return &cfg, err
		}
	default:
		return &cfg, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}

	return &cfg, cfg.Validate()
}

// Validate checks the values the configuration layer cannot clamp.
func (c *Config) Validate() error {
	if c.DMX.TickRate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTickRate, c.DMX.TickRate)
	}
	for i := range c.Objects {
		o := &c.Objects[i]
		if o.StartChannel == 0 {
			o.StartChannel = 1
		}
		if o.StartChannel < 1 || o.StartChannel > 512 {
			return fmt.Errorf("object %q: %w", o.Name, ErrInvalidStartChannel)
		}
	}
	return nil
}
