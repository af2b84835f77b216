// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package history

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/tuyalink/pkg/channels"
	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, time.May, 4, 10, 0, 0, 0, time.UTC)

	events := []Event{
		{Time: base, DataPointID: 1, DataPointType: "bool", Channel: 1, ChannelType: "Toggle", WireValue: 1, Value: 1},
		{Time: base.Add(time.Second), DataPointID: 2, DataPointType: "val", Channel: 2, ChannelType: "Dimmer", WireValue: 500, Value: 50},
		{Time: base.Add(2 * time.Second), DataPointID: 1, DataPointType: "bool", Channel: 1, ChannelType: "Toggle", WireValue: 0, Value: 0},
	}
	for _, e := range events {
		require.NoError(t, s.Insert(ctx, e))
	}

	all, err := s.Query(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, events[2], all[0], "newest first")

	id := uint8(1)
	byID, err := s.Query(ctx, Filter{DataPointID: &id})
	require.NoError(t, err)
	assert.Len(t, byID, 2)

	ch := 2
	byChannel, err := s.Query(ctx, Filter{Channel: &ch})
	require.NoError(t, err)
	require.Len(t, byChannel, 1)
	assert.Equal(t, 500, byChannel[0].WireValue)

	recent, err := s.Query(ctx, Filter{Since: base.Add(time.Second), Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, events[2].Time, recent[0].Time)
}

func TestFromApplied(t *testing.T) {
	now := time.Now()
	e := FromApplied(tuyamcu.AppliedDataPoint{
		Time:          now,
		DataPointID:   6,
		DataPointType: tuyamcu.DPTypeRawTAC2121CVCP,
		Channel:       tuyamcu.Unbound,
		ChannelType:   channels.TypeVoltageDiv10,
		WireValue:     2304,
		Value:         2304,
	})

	assert.Equal(t, "RAW_TAC2121C_VCP", e.DataPointType)
	assert.Equal(t, channels.TypeVoltageDiv10.String(), e.ChannelType)
	assert.Equal(t, -1, e.Channel)
}

func TestWriterDrainsOnCancel(t *testing.T) {
	s := openTestStore(t)
	logger, _ := test.NewNullLogger()

	events := make(chan Event, 8)
	for i := 0; i < 5; i++ {
		events <- Event{Time: time.Now(), DataPointID: uint8(i), DataPointType: "val"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go Writer(ctx, &wg, events, s, logger)
	wg.Wait()

	all, err := s.Query(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestWriterStopsOnClose(t *testing.T) {
	s := openTestStore(t)
	logger, _ := test.NewNullLogger()

	events := make(chan Event)
	var wg sync.WaitGroup
	wg.Add(1)
	go Writer(context.Background(), &wg, events, s, logger)

	events <- Event{Time: time.Now(), DataPointID: 9, DataPointType: "enum"}
	close(events)
	wg.Wait()

	all, err := s.Query(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, uint8(9), all[0].DataPointID)
}
