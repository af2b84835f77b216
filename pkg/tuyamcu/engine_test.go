// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/tuyalink/pkg/channels"
)

// ============================================================
// Handshake
// ============================================================

func TestHandshakeSelfProcessing(t *testing.T) {
	e, tr, store := newTestEngine()
	e.Bind(1, DPTypeBool, 2)

	e.Tick()
	tr.reply(CmdHeartbeat, []byte{0x01})
	e.Tick()
	assert.True(t, e.State().HeartbeatValid)

	tr.reply(CmdQueryProduct, []byte(`{"p":"j53rkdu55ydc0fkq","v":"1.0.0"}`))
	e.Tick()
	assert.True(t, e.State().ProductInfoValid)
	assert.Contains(t, e.State().ProductInfo, "j53rkdu55ydc0fkq")

	tr.reply(CmdMCUConf, nil)
	e.Tick()
	assert.True(t, e.State().WorkingModeValid)
	assert.True(t, e.State().SelfProcessingMode)

	tr.reply(CmdState, EncodeDataPoint(1, DPTypeBool, []byte{0x01}))
	e.Tick()
	assert.True(t, e.State().StateUpdated)
	assert.Equal(t, 1, store.Get(2))

	e.Tick()
	assert.Equal(t, PhaseSteady, e.State().Phase())

	// Self processing MCUs skip the WiFi step until steady state
	assert.Equal(t, []uint8{
		CmdHeartbeat,
		CmdQueryProduct,
		CmdMCUConf,
		CmdQueryState,
		CmdHeartbeat,
		CmdWiFiState,
	}, tr.commands(t))
}

func TestHandshakeModuleProcessing(t *testing.T) {
	connected := true
	e, tr, _ := newTestEngine(WithConnectivity(ConnectivityFunc(func() bool { return connected })))

	e.Tick()
	tr.reply(CmdHeartbeat, []byte{0x01})
	e.Tick()
	tr.reply(CmdQueryProduct, []byte("plain-key"))
	e.Tick()
	tr.reply(CmdMCUConf, []byte{0x0E, 0x00})
	e.Tick()
	assert.False(t, e.State().SelfProcessingMode)
	assert.True(t, e.State().WiFiStateValid)

	assert.Equal(t, []uint8{CmdHeartbeat, CmdQueryProduct, CmdMCUConf, CmdWiFiState}, tr.commands(t))

	wifi := tr.packets(t, CmdWiFiState)
	require.Len(t, wifi, 1)
	assert.Equal(t, []byte{WiFiStateCloud}, wifi[0].Payload())
}

func TestHeartbeatRecovery(t *testing.T) {
	e, tr, _ := newTestEngine()
	e.state = steadyState()
	e.state.HeartbeatCountdown = 0
	e.state.StateQueryAttempts = 3

	for i := 0; i < 12; i++ {
		e.Tick()
	}
	assert.Len(t, tr.packets(t, CmdHeartbeat), 3)
	assert.True(t, e.State().HeartbeatValid, "still valid before the fourth miss")
	assert.Equal(t, 3, e.State().MissedHeartbeats)

	e.Tick()
	assert.Len(t, tr.packets(t, CmdHeartbeat), 4)

	s := e.State()
	assert.False(t, s.HeartbeatValid)
	assert.False(t, s.ProductInfoValid)
	assert.False(t, s.WorkingModeValid)
	assert.False(t, s.WiFiStateValid)
	assert.False(t, s.StateUpdated)
	assert.Equal(t, 0, s.StateQueryAttempts)
	assert.Equal(t, uint64(1), e.Stats().LivenessResets)
	assert.Equal(t, PhaseHeartbeat, s.Phase())

	// A late heartbeat restarts the chain from the product query
	tr.writes = nil
	tr.reply(CmdHeartbeat, []byte{0x01})
	e.Tick()
	assert.Equal(t, []uint8{CmdQueryProduct}, tr.commands(t))
}

func TestHeartbeatReplyResetsMissed(t *testing.T) {
	e, tr, _ := newTestEngine()

	for i := 0; i < 9; i++ {
		e.Tick()
	}
	assert.Equal(t, 3, e.State().MissedHeartbeats)

	tr.reply(CmdHeartbeat, []byte{0x00})
	e.Tick()
	assert.Equal(t, 0, e.State().MissedHeartbeats)
	assert.True(t, e.State().HeartbeatValid)
}

func TestQueryStateRetriesPushWiFiState(t *testing.T) {
	e, tr, _ := newTestEngine()
	e.state = steadyState()
	e.state.StateUpdated = false

	for i := 0; i < 5; i++ {
		e.Tick()
	}

	assert.Equal(t, []uint8{
		CmdQueryState,
		CmdQueryState,
		CmdWiFiState, CmdQueryState,
		CmdQueryState,
		CmdWiFiState, CmdQueryState,
	}, tr.commands(t))
	assert.Equal(t, 5, e.State().StateQueryAttempts)
}

func TestLateStateReplyCounts(t *testing.T) {
	e, tr, _ := newTestEngine()
	e.state.StateQueryAttempts = 7

	tr.reply(CmdState, nil)
	e.Tick()

	assert.True(t, e.State().StateUpdated)
	assert.Equal(t, 0, e.State().StateQueryAttempts)
}

func TestWiFiStateFollowsConnectivity(t *testing.T) {
	connected := false
	e, tr, _ := newTestEngine(
		WithConnectivity(ConnectivityFunc(func() bool { return connected })),
		WithDefaultWiFiState(WiFiStateNotConnected),
	)
	e.state = steadyState()

	e.Tick()
	e.Tick()
	connected = true
	e.Tick()

	var codes []byte
	for _, p := range tr.packets(t, CmdWiFiState) {
		codes = append(codes, p.Payload()[0])
	}
	assert.Equal(t, []byte{WiFiStateNotConnected, WiFiStateCloud}, codes)
}

func TestWiFiStateRefresh(t *testing.T) {
	e, tr, _ := newTestEngine()
	e.state = steadyState()
	e.state.HeartbeatCountdown = 1000

	for i := 0; i < WiFiStateRefreshTicks+1; i++ {
		e.Tick()
	}
	assert.Len(t, tr.packets(t, CmdWiFiState), 2)
}

// ============================================================
// Inbound data points
// ============================================================

func TestFeedbackSuppression(t *testing.T) {
	e, tr, store := newTestEngine()
	e.Bind(1, DPTypeValue, 5)

	e.ApplyInbound(1, 42)
	assert.Equal(t, 42, store.Get(5))
	assert.Empty(t, tr.writes)

	assert.False(t, e.OnChannelChanged(5, 42))
	assert.Empty(t, tr.writes)

	assert.True(t, e.OnChannelChanged(5, 43))
	require.Len(t, tr.writes, 1)

	p, err := Decode(tr.writes[0])
	require.NoError(t, err)
	assert.Equal(t, uint8(CmdSetDP), p.Command())
	assert.Equal(t, EncodeDataPoint(1, DPTypeValue, []byte{0x00, 0x00, 0x00, 0x2B}), p.Payload())
	assert.Equal(t, uint64(1), e.Stats().SuppressedEchoes)
}

func TestOnChannelChangedUnmapped(t *testing.T) {
	e, tr, _ := newTestEngine()
	e.Bind(1, DPTypeString, 3)

	assert.False(t, e.OnChannelChanged(9, 1), "no mapping")
	assert.False(t, e.OnChannelChanged(3, 1), "strings are not sent from channels")
	assert.Empty(t, tr.writes)
}

func TestDimmerThroughEngine(t *testing.T) {
	e, tr, store := newTestEngine(WithDimmerRange(DimmerRange{Min: 0, Max: 1000}))
	require.NoError(t, store.SetType(3, channels.TypeDimmer))
	e.Bind(2, DPTypeValue, 3)

	tr.reply(CmdState, EncodeDataPoint(2, DPTypeValue, []byte{0x00, 0x00, 0x01, 0xF4}))
	e.Tick()
	assert.Equal(t, 50, store.Get(3))

	tr.writes = nil
	require.True(t, e.OnChannelChanged(3, 75))
	p, err := Decode(tr.writes[0])
	require.NoError(t, err)
	assert.Equal(t, EncodeDataPoint(2, DPTypeValue, []byte{0x00, 0x00, 0x02, 0xEE}), p.Payload())
}

func TestVendorRawTAC2121CVCP(t *testing.T) {
	e, tr, store := newTestEngine()
	require.NoError(t, store.SetType(1, channels.TypeVoltageDiv10))
	require.NoError(t, store.SetType(2, channels.TypeCurrentDiv1000))
	require.NoError(t, store.SetType(3, channels.TypePower))
	require.NoError(t, store.SetType(4, channels.TypeVoltageDiv10))
	e.Bind(6, DPTypeRawTAC2121CVCP, Unbound)

	var applied []AppliedDataPoint
	e.onApply = func(a AppliedDataPoint) { applied = append(applied, a) }

	value := []byte{0x09, 0x00, 0x00, 0x01, 0xF4, 0x00, 0x00, 0x64}
	tr.reply(CmdState, EncodeDataPoint(6, DPTypeRaw, value))
	e.Tick()

	assert.Equal(t, 2304, store.Get(1))
	assert.Equal(t, 2304, store.Get(4))
	assert.Equal(t, 500, store.Get(2))
	assert.Equal(t, 100, store.Get(3))
	require.Len(t, applied, 3)
	assert.Equal(t, Unbound, applied[0].Channel)
	assert.Equal(t, channels.TypeVoltageDiv10, applied[0].ChannelType)
}

func TestVendorRawDDS238(t *testing.T) {
	e, tr, store := newTestEngine()
	require.NoError(t, store.SetType(1, channels.TypeVoltageDiv10))
	require.NoError(t, store.SetType(2, channels.TypeCurrentDiv1000))
	require.NoError(t, store.SetType(3, channels.TypeFrequencyDiv100))
	e.Bind(6, DPTypeRawDDS238, Unbound)

	value := make([]byte, 15)
	copy(value[8:], []byte{0x13, 0x88})
	copy(value[11:], []byte{0x06, 0x46, 0x08, 0xFC})
	tr.reply(CmdState, EncodeDataPoint(6, DPTypeRaw, value))
	e.Tick()

	assert.Equal(t, 5000, store.Get(3))
	assert.Equal(t, 1606, store.Get(2))
	assert.Equal(t, 2300, store.Get(1))
}

func TestVendorRawWrongLength(t *testing.T) {
	e, tr, store := newTestEngine()
	require.NoError(t, store.SetType(1, channels.TypeVoltageDiv10))
	e.Bind(6, DPTypeRawTAC2121CVCP, Unbound)

	tr.reply(CmdState, EncodeDataPoint(6, DPTypeRaw, []byte{0x09, 0x00, 0x00}))
	e.Tick()

	assert.Equal(t, 0, store.Get(1))
	assert.True(t, e.State().StateUpdated)
}

func TestLowPowerRecordStorage(t *testing.T) {
	e, tr, store := newTestEngine()
	e.Bind(1, DPTypeEnum, 4)
	store.Set(4, 7)

	tr.push(recordStorageFrame...)
	e.Tick()
	assert.Equal(t, 0, store.Get(4))

	// The same code with a standard version is a module bound query
	store.Set(4, 7)
	frame := append([]byte(nil), recordStorageFrame...)
	frame[2] = VersionStandard
	frame[len(frame)-1] += VersionStandard
	tr.push(frame...)
	e.Tick()
	assert.Equal(t, 7, store.Get(4))
}

func TestLowPowerRealTimeStatus(t *testing.T) {
	e, tr, store := newTestEngine()
	e.Bind(0x10, DPTypeBool, 1)

	tr.push(EncodeFrame(CmdWiFiSelect, EncodeDataPoint(0x10, DPTypeBool, []byte{0x01}))...)
	e.Tick()
	assert.Equal(t, 1, store.Get(1))
}

func TestTruncatedRecordKeepsEarlierRecords(t *testing.T) {
	e, tr, store := newTestEngine()
	e.Bind(1, DPTypeBool, 1)
	e.Bind(2, DPTypeValue, 2)

	payload := EncodeDataPoint(1, DPTypeBool, []byte{0x01})
	payload = append(payload, 0x02, 0x02, 0x00, 0x04, 0x00)
	tr.reply(CmdState, payload)
	e.Tick()

	assert.Equal(t, 1, store.Get(1))
	assert.Equal(t, 0, store.Get(2))
	assert.Equal(t, uint64(1), e.Stats().TruncatedRecords)
}

// ============================================================
// Other inbound commands
// ============================================================

func TestSetTimeRequest(t *testing.T) {
	ts := time.Date(2024, time.March, 17, 13, 5, 9, 0, time.UTC)
	e, tr, _ := newTestEngine(WithClock(ClockFunc(func() (time.Time, bool) { return ts, true })))
	e.state = steadyState()
	e.state.WiFiStateTimer = 5

	tr.reply(CmdSetTime, nil)
	tr.reply(CmdSetRSSI, nil)
	e.Tick()

	sent := tr.packets(t, CmdSetTime)
	require.Len(t, sent, 2)
	assert.Equal(t, []byte{0x01, 24, 3, 17, 13, 5, 9, 7}, sent[0].Payload())
}

func TestSetTimeRequestWithoutClock(t *testing.T) {
	e, tr, _ := newTestEngine(WithClock(ClockFunc(func() (time.Time, bool) { return time.Time{}, false })))

	require.NoError(t, e.InjectFrame(EncodeFrameVersion(VersionStandard, CmdSetTime, nil)))
	sent := tr.packets(t, CmdSetTime)
	require.Len(t, sent, 1)
	assert.Equal(t, make([]byte, 8), sent[0].Payload())
}

func TestMCUConfLengthMismatch(t *testing.T) {
	e, _, _ := newTestEngine()

	// 258 byte payload: the low length byte claims two data bytes
	require.NoError(t, e.InjectFrame(EncodeFrameVersion(VersionStandard, CmdMCUConf, make([]byte, 258))))
	assert.False(t, e.State().WorkingModeValid)
	assert.False(t, e.State().SelfProcessingMode)
}

func TestUnknownCommand(t *testing.T) {
	e, tr, _ := newTestEngine()
	before := e.State()

	require.NoError(t, e.InjectFrame(EncodeFrameVersion(VersionStandard, 0x99, []byte{0x01})))
	assert.Equal(t, uint64(1), e.Stats().UnknownCommands)
	assert.Equal(t, before, e.State())
	assert.Empty(t, tr.writes)
}

func TestSetDPFromMCUIgnored(t *testing.T) {
	e, _, store := newTestEngine()
	e.Bind(1, DPTypeBool, 1)

	require.NoError(t, e.InjectFrame(EncodeFrameVersion(VersionStandard, CmdSetDP, EncodeDataPoint(1, DPTypeBool, []byte{1}))))
	assert.Equal(t, 0, store.Get(1))
}

func TestWeatherDataHasNoEffect(t *testing.T) {
	e, tr, _ := newTestEngine()
	payload := EncodeWeatherField(WeatherField{Valid: true, Key: "temp", Int: 20})

	require.NoError(t, e.InjectFrame(EncodeFrameVersion(VersionStandard, CmdWeatherData, payload)))
	assert.Empty(t, tr.writes)
	assert.Equal(t, LivenessState{}, e.State())
}

func TestInjectFrameErrors(t *testing.T) {
	e, _, _ := newTestEngine()

	frame := EncodeFrame(CmdHeartbeat, nil)
	frame[6]++
	err := e.InjectFrame(frame)
	assert.True(t, errors.Is(err, ErrChecksum))
	assert.Equal(t, uint64(1), e.Stats().ChecksumErrors)
	assert.False(t, e.State().HeartbeatValid)
}

func TestProcessIncomingIsBounded(t *testing.T) {
	e, tr, _ := newTestEngine()
	e.state = steadyState()

	for i := 0; i < MaxFramesPerTick+4; i++ {
		tr.reply(CmdHeartbeat, []byte{0x01})
	}
	e.Tick()

	assert.Equal(t, uint64(MaxFramesPerTick), e.Stats().ValidFrames)
	assert.Equal(t, 4*(MinFrameSize+1), tr.Buffered())
}

// ============================================================
// Cross-goroutine handoff
// ============================================================

func TestSubmitQueue(t *testing.T) {
	e, tr, _ := newTestEngine(WithTaskQueueSize(2))
	e.state = steadyState()

	require.NoError(t, e.Submit(func(e *Engine) { _ = e.SendQueryProduct() }))
	require.NoError(t, e.Submit(func(e *Engine) { _ = e.SendMCUConf() }))
	assert.True(t, errors.Is(e.Submit(func(*Engine) {}), ErrQueueFull))

	e.Tick()
	cmds := tr.commands(t)
	require.GreaterOrEqual(t, len(cmds), 2)
	assert.Equal(t, []uint8{CmdQueryProduct, CmdMCUConf}, cmds[:2])

	require.NoError(t, e.Submit(func(*Engine) {}), "queue drained by Tick")
}

func TestNotifyChannelChangedWaitsForSteadyState(t *testing.T) {
	e, tr, _ := newTestEngine()
	e.Bind(1, DPTypeBool, 2)

	e.NotifyChannelChanged(2, 5)
	e.NotifyChannelChanged(2, 1)

	e.Tick()
	assert.Empty(t, tr.packets(t, CmdSetDP))

	e.state = steadyState()
	e.Tick()
	sent := tr.packets(t, CmdSetDP)
	require.Len(t, sent, 1, "changes to one channel are coalesced")
	assert.Equal(t, EncodeDataPoint(1, DPTypeBool, []byte{0x01}), sent[0].Payload())

	e.Tick()
	assert.Len(t, tr.packets(t, CmdSetDP), 1)
}

// Inbound writes echo back through the store subscription and are dropped.
func TestStoreEchoSuppressed(t *testing.T) {
	e, tr, store := newTestEngine()
	store.OnChange(e.NotifyChannelChanged)
	e.Bind(3, DPTypeValue, 4)
	e.state = steadyState()

	tr.reply(CmdState, EncodeDataPoint(3, DPTypeValue, []byte{0x00, 0x00, 0x00, 0x09}))
	e.Tick()
	e.Tick()

	assert.Equal(t, 9, store.Get(4))
	assert.Empty(t, tr.packets(t, CmdSetDP))

	store.Set(4, 10)
	e.Tick()
	assert.Len(t, tr.packets(t, CmdSetDP), 1)
}

// ============================================================
// Lifecycle
// ============================================================

func TestStartAppliesBaudRate(t *testing.T) {
	e, tr, _ := newTestEngine(WithBaudRate(115200))

	require.NoError(t, e.Start())
	assert.Equal(t, 115200, tr.baud)

	require.NoError(t, e.SetBaudRate(9600))
	assert.Equal(t, 9600, tr.baud)
	assert.Error(t, e.SetBaudRate(0))
	assert.Equal(t, 9600, e.BaudRate())
}

func TestSetDimmerRange(t *testing.T) {
	e, _, _ := newTestEngine()

	assert.True(t, errors.Is(e.SetDimmerRange(DimmerRange{Min: 10, Max: 10}), ErrInvalidDimmerRange))
	assert.Equal(t, DefaultDimmerRange, e.DimmerRange())

	require.NoError(t, e.SetDimmerRange(DimmerRange{Min: 1, Max: 255}))
	assert.Equal(t, DimmerRange{Min: 1, Max: 255}, e.DimmerRange())
}

func TestRunStopsOnCancel(t *testing.T) {
	var ticks int
	e, _, _ := newTestEngine(WithTickObserver(func(LivenessState, Statistics) { ticks++ }))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := e.Run(ctx, 5*time.Millisecond)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Greater(t, ticks, 0)
}

func TestWriteErrorsAreCounted(t *testing.T) {
	e, tr, _ := newTestEngine()
	tr.writeErr = errors.New("port closed")

	e.Tick()
	assert.Equal(t, uint64(1), e.Stats().WriteErrors)
	assert.Equal(t, uint64(0), e.Stats().FramesSent)
	assert.Error(t, e.SendRawWithChecksum([]byte{0x55, 0xAA}))
}

func TestSendRawWithChecksum(t *testing.T) {
	e, tr, _ := newTestEngine()

	require.NoError(t, e.SendRawWithChecksum([]byte{0x55, 0xAA, 0x00, 0x08, 0x00, 0x00}))
	require.Len(t, tr.writes, 1)
	assert.True(t, bytes.Equal([]byte{0x55, 0xAA, 0x00, 0x08, 0x00, 0x00, 0x07}, tr.writes[0]))
}

// Random bytes through a full engine never panic and never stall the
// stream.
func TestEngineRandomInput(t *testing.T) {
	rng := newFuzzRng(t)
	e, tr, _ := newTestEngine()
	e.Bind(1, DPTypeRawDDS238, Unbound)
	e.Bind(2, DPTypeValue, 1)

	for i := 0; i < getFuzzRounds(); i++ {
		if rng.Intn(3) == 0 {
			tr.reply(uint8(rng.Intn(0x30)), randomBytes(rng, rng.Intn(24)))
		} else {
			tr.push(randomBytes(rng, rng.Intn(16))...)
		}
		e.Tick()
	}
	assert.Less(t, tr.Buffered(), DefaultMaxFrameSize+MinFrameSize)
}
