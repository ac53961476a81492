package mqtt

import (
	"fmt"
	"strings"
)

// Per-device channels. Every device u owns u/lobby, u/admin and u/control.
const (
	// ChannelLobby carries presence and onboarding traffic.
	ChannelLobby = "lobby"

	// ChannelAdmin carries status reports, schedule reports and time sync.
	ChannelAdmin = "admin"

	// ChannelControl carries commands and schedule edits to the device.
	ChannelControl = "control"

	// TopicAll matches every topic on the broker.
	TopicAll = "#"
)

// Lobby payloads.
const (
	PayloadCredentialsPlease    = "credentials please"
	PayloadHello                = "hello"
	PayloadHere                 = "here"
	PayloadDisconnected         = "disconnected"
	PayloadAbruptlyDisconnected = "abruptly disconnected"
	PayloadPing                 = "ping"
)

// Admin payloads. Status and schedule reports carry data after the prefix.
const (
	PayloadStatusPrefix   = "status "
	PayloadSchedulePrefix = "schedule\n"
	PayloadAskStatus      = "askstatus"
	PayloadAskSchedule    = "asksschedule"
	PayloadTimePrefix     = "time "
)

// PayloadClear empties a device's onboard schedule.
const PayloadClear = "clear"

// Delivery guarantees. Exactly-once is never used: devices tolerate duplicates.
const (
	QoSAtMostOnce  byte = 0
	QoSAtLeastOnce byte = 1
)

// Topics provides builders for devcontrol MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.Control("a1b2")
//	// Returns: "a1b2/control"
type Topics struct{}

// Lobby returns the presence and onboarding topic of username.
//
// Example: a1b2/lobby
func (Topics) Lobby(username string) string {
	return fmt.Sprintf("%s/%s", username, ChannelLobby)
}

// Admin returns the administration topic of username.
//
// Example: a1b2/admin
func (Topics) Admin(username string) string {
	return fmt.Sprintf("%s/%s", username, ChannelAdmin)
}

// Control returns the command topic of username.
//
// Example: a1b2/control
func (Topics) Control(username string) string {
	return fmt.Sprintf("%s/%s", username, ChannelControl)
}

// All returns the wildcard the control plane subscribes to.
func (Topics) All() string {
	return TopicAll
}

// ParseTopic splits a device topic into username and channel.
// ok is false unless the topic has exactly two non-empty levels.
func ParseTopic(topic string) (username, channel string, ok bool) {
	username, channel, found := strings.Cut(topic, "/")
	if !found || username == "" || channel == "" || strings.Contains(channel, "/") {
		return "", "", false
	}
	return username, channel, true
}
