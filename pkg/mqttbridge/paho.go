// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqttbridge

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Options configures a broker connection
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// WillTopic receives Offline when the connection drops
	WillTopic string
}

// PahoClient is a Client backed by the Eclipse Paho library
type PahoClient struct {
	client    mqtt.Client
	logger    logrus.FieldLogger
	willTopic string
	onConnect func()
}

// NewPahoClient prepares a client. onConnect runs after every successful
// (re)connect, on a Paho goroutine.
func NewPahoClient(o Options, logger logrus.FieldLogger, onConnect func()) *PahoClient {
	p := &PahoClient{
		logger:    logger.WithField("feature", "MQTT"),
		willTopic: o.WillTopic,
		onConnect: onConnect,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	opts.SetUsername(o.Username)
	opts.SetPassword(o.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	if o.WillTopic != "" {
		opts.SetWill(o.WillTopic, Offline, 0, true)
	}
	opts.SetOnConnectHandler(func(mqtt.Client) {
		if p.onConnect != nil {
			p.onConnect()
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.logger.Warnf("connection lost: %v", err)
	})

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect starts connecting. With connect retry enabled the first attempt
// may still be in progress when ctx expires; Paho keeps retrying in the
// background.
func (p *PahoClient) Connect(ctx context.Context) error {
	token := p.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("MQTT connection failed: %w", err)
		}
	case <-ctx.Done():
		p.logger.Warn("broker not reachable yet, retrying in the background")
	}
	return nil
}

// Publish implements Client
func (p *PahoClient) Publish(topic string, retained bool, payload string) {
	token := p.client.Publish(topic, 0, retained, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			p.logger.Debugf("publish %s: %v", topic, token.Error())
		}
	}()
}

// Subscribe implements Client
func (p *PahoClient) Subscribe(topic string, handler MessageHandler) error {
	token := p.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload(), msg.Retained())
	})
	token.Wait()
	return token.Error()
}

// IsConnected implements Client
func (p *PahoClient) IsConnected() bool {
	return p.client.IsConnected()
}

// Close publishes Offline and disconnects
func (p *PahoClient) Close() {
	if p.client.IsConnected() && p.willTopic != "" {
		p.client.Publish(p.willTopic, 0, true, Offline).WaitTimeout(time.Second)
	}
	p.client.Disconnect(250)
}
