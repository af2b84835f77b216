// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqttbridge exposes channels over MQTT.
//
// Topics, under a configurable prefix:
//
//	<prefix>/<ch>/get    channel value, retained, published on change
//	<prefix>/<ch>/set    set a channel
//	<prefix>/cmnd        run a console command line
//	<prefix>/connected   "online", or "offline" via the last will
//
// Inbound messages are handed to the engine goroutine as console lines.
// The broker connection also serves as the connectivity reported to the
// MCU.
package mqttbridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/tuyalink/pkg/channels"
)

// Availability payloads
const (
	Online  = "online"
	Offline = "offline"
)

// MessageHandler receives one inbound message
type MessageHandler func(topic string, payload []byte, retained bool)

// Client is the broker connection used by a Bridge
type Client interface {
	// Publish sends without waiting for delivery
	Publish(topic string, retained bool, payload string)
	Subscribe(topic string, handler MessageHandler) error
	IsConnected() bool
}

// Commander runs console lines on the engine goroutine
type Commander interface {
	Submit(line string) error
}

// Bridge maps channels to topics
type Bridge struct {
	client    Client
	prefix    string
	store     *channels.Store
	commander Commander
	logger    logrus.FieldLogger
}

// New creates a bridge and subscribes it to channel changes. Call
// OnConnected whenever the client (re)connects.
func New(client Client, prefix string, store *channels.Store, commander Commander, logger logrus.FieldLogger) *Bridge {
	b := &Bridge{
		client:    client,
		prefix:    strings.TrimSuffix(prefix, "/"),
		store:     store,
		commander: commander,
		logger:    logger.WithField("feature", "MQTT"),
	}
	store.OnChange(b.publishChannel)
	return b
}

// AvailabilityTopicFor returns the online/offline topic under prefix. It is
// needed before a Bridge exists, to set the client's last will.
func AvailabilityTopicFor(prefix string) string {
	return strings.TrimSuffix(prefix, "/") + "/connected"
}

// AvailabilityTopic returns the topic carrying online/offline
func (b *Bridge) AvailabilityTopic() string {
	return AvailabilityTopicFor(b.prefix)
}

// Connected implements tuyamcu.Connectivity
func (b *Bridge) Connected() bool {
	return b.client.IsConnected()
}

// OnConnected announces availability, subscribes to the inbound topics and
// republishes every known channel.
func (b *Bridge) OnConnected() {
	b.logger.Info("connected to broker")
	b.client.Publish(b.AvailabilityTopic(), true, Online)

	if err := b.client.Subscribe(b.prefix+"/+/set", b.handleSet); err != nil {
		b.logger.Errorf("subscribe set: %v", err)
	}
	if err := b.client.Subscribe(b.prefix+"/cmnd", b.handleCommand); err != nil {
		b.logger.Errorf("subscribe cmnd: %v", err)
	}

	for _, s := range b.store.Snapshot() {
		b.publishChannel(s.Channel, s.Value)
	}
}

func (b *Bridge) channelTopic(ch int) string {
	return fmt.Sprintf("%s/%d/get", b.prefix, ch)
}

func (b *Bridge) publishChannel(ch int, value int) {
	if !b.client.IsConnected() {
		return
	}
	b.client.Publish(b.channelTopic(ch), true, strconv.Itoa(value))
}

func (b *Bridge) handleSet(topic string, payload []byte, retained bool) {
	// A retained set would replay a stale command on every reconnect
	if retained {
		return
	}

	parts := strings.Split(strings.TrimPrefix(topic, b.prefix+"/"), "/")
	if len(parts) != 2 || parts[1] != "set" {
		b.logger.Warnf("unexpected topic %s", topic)
		return
	}
	ch, err := strconv.Atoi(parts[0])
	if err != nil || !channels.Valid(ch) {
		b.logger.Warnf("bad channel in topic %s", topic)
		return
	}
	value, err := ParseValue(string(payload))
	if err != nil {
		b.logger.Warnf("%s: %v", topic, err)
		return
	}

	if err := b.commander.Submit(fmt.Sprintf("setChannel %d %d", ch, value)); err != nil {
		b.logger.Errorf("%s: %v", topic, err)
	}
}

func (b *Bridge) handleCommand(topic string, payload []byte, retained bool) {
	if retained {
		return
	}
	line := strings.TrimSpace(string(payload))
	b.logger.Infof("command: %s", line)
	if err := b.commander.Submit(line); err != nil {
		b.logger.Errorf("%s: %v", topic, err)
	}
}

// ParseValue accepts an integer or ON/OFF
func ParseValue(s string) (int, error) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "ON", "TRUE":
		return 1, nil
	case "OFF", "FALSE":
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return v, nil
}
