package clientmqtt

import "dmx2mqtt/internal/show"

type MQTTConf struct {
	ClientID    string // ClientID - уникальное имя клиента для брокеров.
	Schema      string // Schema - тип подключения.
	Host        string // Host - адрес MQTT сервера.
	Port        string // Port - порт MQTT сервера.
	User        string // User - логин для подключения к MQTT серверу.
	Password    string // Password - пароль для подключения к MQTT серверу.
	Qos         byte   // Qos - качество обслуживания.
	TopicPrefix string // TopicPrefix - корень всех топиков.
}

// Payload is a list of channel commands for one component.
type Payload []show.Command

// TestCommand flashes or releases one channel in channel-testing mode.
type TestCommand struct {
	Net      int  `json:"net"`
	Subnet   int  `json:"subnet"`
	Universe int  `json:"universe"`
	Channel  int  `json:"channel"` // Channel - номер канала, с единицы.
	On       bool `json:"on"`
}

type universeMessage struct {
	Net      int    `json:"net"`
	Subnet   int    `json:"subnet"`
	Universe int    `json:"universe"`
	Values   []int  `json:"values"`
	Source   string `json:"source,omitempty"`
}

type deviceMessage struct {
	Interface string `json:"interface"`
	Device    string `json:"device"`
	Connected bool   `json:"connected"`
}
