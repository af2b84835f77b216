// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mqttbridge

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/tuyalink/pkg/channels"
)

type published struct {
	topic    string
	retained bool
	payload  string
}

type fakeClient struct {
	connected bool
	published []published
	handlers  map[string]MessageHandler
}

func newFakeClient() *fakeClient {
	return &fakeClient{connected: true, handlers: make(map[string]MessageHandler)}
}

func (f *fakeClient) Publish(topic string, retained bool, payload string) {
	f.published = append(f.published, published{topic, retained, payload})
}

func (f *fakeClient) Subscribe(topic string, handler MessageHandler) error {
	f.handlers[topic] = handler
	return nil
}

func (f *fakeClient) IsConnected() bool { return f.connected }

type fakeCommander struct {
	lines []string
	err   error
}

func (f *fakeCommander) Submit(line string) error {
	if f.err != nil {
		return f.err
	}
	f.lines = append(f.lines, line)
	return nil
}

func newTestBridge(t *testing.T) (*Bridge, *fakeClient, *fakeCommander, *channels.Store) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store := channels.NewStore(logger)
	client := newFakeClient()
	cmd := &fakeCommander{}
	return New(client, "tuya/", store, cmd, logger), client, cmd, store
}

func TestOnConnected(t *testing.T) {
	b, client, _, store := newTestBridge(t)
	client.connected = false
	store.Set(2, 40)
	client.connected = true

	b.OnConnected()

	require.NotEmpty(t, client.published)
	assert.Equal(t, published{"tuya/connected", true, Online}, client.published[0])
	assert.Contains(t, client.published, published{"tuya/2/get", true, "40"})
	assert.Contains(t, client.handlers, "tuya/+/set")
	assert.Contains(t, client.handlers, "tuya/cmnd")
}

func TestChannelChangesPublished(t *testing.T) {
	_, client, _, store := newTestBridge(t)

	store.Set(5, 1)
	store.Set(5, 1)
	assert.Equal(t, []published{{"tuya/5/get", true, "1"}}, client.published)

	client.connected = false
	store.Set(5, 0)
	assert.Len(t, client.published, 1, "nothing is published while offline")
}

func TestSetTopic(t *testing.T) {
	b, client, cmd, _ := newTestBridge(t)
	b.OnConnected()
	set := client.handlers["tuya/+/set"]

	set("tuya/3/set", []byte("75"), false)
	set("tuya/1/set", []byte("ON"), false)
	set("tuya/1/set", []byte("off"), false)
	set("tuya/1/set", []byte("1"), true)
	set("tuya/99/set", []byte("1"), false)
	set("tuya/x/set", []byte("1"), false)
	set("tuya/2/set", []byte("dim"), false)

	assert.Equal(t, []string{"setChannel 3 75", "setChannel 1 1", "setChannel 1 0"}, cmd.lines)
}

func TestCommandTopic(t *testing.T) {
	b, client, cmd, _ := newTestBridge(t)
	b.OnConnected()
	cmnd := client.handlers["tuya/cmnd"]

	cmnd("tuya/cmnd", []byte(" tuyaMcu_sendQueryState \n"), false)
	cmnd("tuya/cmnd", []byte("tuyaMcu_sendHeartbeat"), true)
	assert.Equal(t, []string{"tuyaMcu_sendQueryState"}, cmd.lines)

	cmd.err = errors.New("queue full")
	cmnd("tuya/cmnd", []byte("tuyaMcu_sendHeartbeat"), false)
	assert.Len(t, cmd.lines, 1)
}

func TestConnectivity(t *testing.T) {
	b, client, _, _ := newTestBridge(t)

	assert.True(t, b.Connected())
	client.connected = false
	assert.False(t, b.Connected())
	assert.Equal(t, "tuya/connected", b.AvailabilityTopic())
	assert.Equal(t, "tuya/connected", AvailabilityTopicFor("tuya/"))
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"42", 42, false},
		{" -5 ", -5, false},
		{"on", 1, false},
		{"TRUE", 1, false},
		{"Off", 0, false},
		{"false", 0, false},
		{"", 0, true},
		{"half", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseValue(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
