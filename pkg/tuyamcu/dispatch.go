// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"encoding/binary"
	"encoding/json"
	"time"

	"github.com/Thermoquad/tuyalink/pkg/channels"
)

// ProductInfo is the JSON descriptor returned for QUERY_PRODUCT
type ProductInfo struct {
	ProductKey string `json:"p"`
	Version    string `json:"v"`
	Mode       int    `json:"m"`
}

// ParseProductInfo decodes a QUERY_PRODUCT reply. Older MCUs send a bare
// product key, which is returned with ok == false.
func ParseProductInfo(payload []byte) (info ProductInfo, ok bool) {
	if err := json.Unmarshal(payload, &info); err != nil {
		return ProductInfo{ProductKey: string(payload)}, false
	}
	return info, true
}

// processIncoming extracts and handles at most maxFramesPerTick frames.
func (e *Engine) processIncoming() {
	for i := 0; i < e.maxFramesPerTick; i++ {
		frame, err := e.framer.Next(e.transport)
		if err != nil {
			continue
		}
		if frame == nil {
			return
		}
		_ = e.processFrame(frame)
	}
}

// InjectFrame handles frame as if it had been received from the MCU.
func (e *Engine) InjectFrame(frame []byte) error {
	return e.processFrame(frame)
}

func (e *Engine) processFrame(frame []byte) error {
	p, err := Decode(frame)
	e.stats.Update(err)
	if err != nil {
		e.logger.Warnf("discarding packet: %v (% X)", err, frame)
		return err
	}

	e.logger.Debugf("received: % X", frame)
	if e.onPacket != nil {
		e.onPacket(p)
	}

	e.handlePacket(p)
	return nil
}

func (e *Engine) handlePacket(p *Packet) {
	e.logger.Debugf("processing command %d (%s) ver=%d with %d bytes",
		p.Command(), FormatCommand(p.Command()), p.Version(), p.Length())

	switch p.Command() {
	case CmdHeartbeat:
		e.handleHeartbeat(p)
	case CmdQueryProduct:
		e.handleProductInfo(p)
	case CmdMCUConf:
		e.handleMCUConf(p)
	case CmdWiFiState:
		e.state.WiFiStateValid = true
	case CmdState:
		e.handleState(p)
	case CmdQueryState:
		e.handleRecordStorage(p, true)
	case CmdWiFiSelect:
		e.handleRecordStorage(p, false)
	case CmdWeatherData:
		e.handleWeather(p)
	case CmdSetTime:
		e.logger.Info("received SET_TIME, so sending back time")
		e.SendCurrentTime()
	case CmdSetRSSI:
		e.logger.Info("received SET_RSSI request, so sending back time")
		e.SendCurrentTime()
	case CmdSetDP:
		e.logger.Debug("ignoring SET_DP from MCU")
	default:
		e.stats.UnknownCommands++
		e.logger.WithError(ErrUnknownCommand).Infof("unhandled type %d", p.Command())
	}
}

func (e *Engine) handleHeartbeat(p *Packet) {
	if p.Length() > 0 && p.Payload()[0] == 0 {
		e.logger.Info("MCU reports restart")
	}
	e.state.HeartbeatValid = true
	e.state.MissedHeartbeats = 0
}

func (e *Engine) handleProductInfo(p *Packet) {
	info, ok := ParseProductInfo(p.Payload())
	if ok {
		e.logger.Infof("product key %s, version %s, mode %d", info.ProductKey, info.Version, info.Mode)
	} else {
		e.logger.Infof("product information: %s", info.ProductKey)
	}
	e.state.ProductInfo = string(p.Payload())
	e.state.ProductInfoValid = true
}

// handleMCUConf reads the working mode. The data count is the declared
// payload length; only its low byte is meaningful.
func (e *Engine) handleMCUConf(p *Packet) {
	count := int(uint8(p.Length()))
	if count != p.Length() {
		e.logger.Warnf("MCU_CONF had wrong data length (count=%d, len=%d)", count, p.Length())
		return
	}

	switch count {
	case 0:
		e.state.SelfProcessingMode = true
	case 2:
		e.state.SelfProcessingMode = false
		e.logger.Debugf("MCU_CONF pins: % X", p.Payload())
	}
	e.state.WorkingModeValid = true
	e.logger.Infof("MCU_CONF count %d, self processing %t", count, e.state.SelfProcessingMode)
}

func (e *Engine) handleState(p *Packet) {
	points, err := ParseDataPoints(p.Payload())
	e.applyDataPoints(points, err)

	e.state.StateUpdated = true
	e.state.StateQueryAttempts = 0
}

// handleRecordStorage handles the low power dialect status packets. Other
// versions reuse these codes for module bound queries and are ignored.
func (e *Engine) handleRecordStorage(p *Packet, withDate bool) {
	if !p.IsLowPower() {
		e.logger.Debugf("ignoring %s with version %d", FormatCommand(p.Command()), p.Version())
		return
	}

	date, points, err := ParseRecordStorage(p.Payload(), withDate)
	if date != nil {
		e.logger.Infof("record date %s", date)
	}
	e.applyDataPoints(points, err)
}

func (e *Engine) handleWeather(p *Packet) {
	fields, err := ParseWeatherData(p.Payload())
	for _, f := range fields {
		e.logger.Infof("weather data: %s", f)
	}
	if err != nil {
		e.stats.TruncatedRecords++
		e.logger.Warnf("weather data: %v", err)
	}
}

func (e *Engine) applyDataPoints(points []DataPoint, err error) {
	for _, dp := range points {
		e.applyDataPoint(dp)
	}
	if err != nil {
		e.stats.TruncatedRecords++
		e.logger.Warnf("dropping malformed record: %v", err)
	}
}

func (e *Engine) applyDataPoint(dp DataPoint) {
	e.logger.Debugf("processing dpId %d, dataType %d-%s and %d data bytes",
		dp.ID, uint8(dp.Type), dp.Type, len(dp.Value))

	if v, ok := dp.Int(); ok {
		e.applyMapping(dp.ID, dp.Type, v)
		return
	}

	m := e.registry.FindByID(dp.ID)
	if m == nil || !m.Type.IsVendorRaw() {
		e.logger.Debugf("dpId %d: %d byte value not applied", dp.ID, len(dp.Value))
		return
	}
	e.applyVendorRaw(m.Type, dp)
}

// ApplyInbound applies a value received for dpID to its channel, as if it
// had arrived in a STATE packet.
func (e *Engine) ApplyInbound(dpID uint8, value int) {
	dpType := DPTypeValue
	if m := e.registry.FindByID(dpID); m != nil {
		dpType = m.Type
	}
	e.applyMapping(dpID, dpType, value)
}

func (e *Engine) applyMapping(dpID uint8, dpType DataPointType, wire int) {
	m := e.registry.FindByID(dpID)
	if m == nil {
		e.logger.Debugf("id %d with value %d is not mapped", dpID, wire)
		return
	}
	if !channels.Valid(m.Channel) {
		e.logger.Debugf("id %d with value %d has no channel", dpID, wire)
		return
	}

	chType := e.channels.Type(m.Channel)
	value := e.dimmer.MapInbound(chType, wire)
	if value != wire {
		e.logger.Debugf("mapped value %d (TuyaMCU range) to %d (channel range)", wire, value)
	}

	m.LastApplied = value
	e.channels.Set(m.Channel, value)
	e.stats.DataPointsApplied++

	if e.onApply != nil {
		e.onApply(AppliedDataPoint{
			Time:          time.Now(),
			DataPointID:   dpID,
			DataPointType: dpType,
			Channel:       m.Channel,
			ChannelType:   chType,
			WireValue:     wire,
			Value:         value,
		})
	}
}

// applyVendorRaw decodes the fixed layout energy meter records. Fields are
// big-endian 16-bit values at fixed offsets in the record value.
func (e *Engine) applyVendorRaw(dpType DataPointType, dp DataPoint) {
	v := dp.Value
	be16 := func(off int) int {
		return int(binary.BigEndian.Uint16(v[off : off+2]))
	}

	switch dpType {
	case DPTypeRawTAC2121CVCP:
		if len(v) != 8 {
			break
		}
		e.applyToType(dp, channels.TypeVoltageDiv10, be16(0))
		e.applyToType(dp, channels.TypeCurrentDiv1000, be16(3))
		e.applyToType(dp, channels.TypePower, be16(6))
		return

	case DPTypeRawDDS238:
		if len(v) != 15 {
			break
		}
		e.applyToType(dp, channels.TypeFrequencyDiv100, be16(8))
		e.applyToType(dp, channels.TypeCurrentDiv1000, be16(11))
		e.applyToType(dp, channels.TypeVoltageDiv10, be16(13))
		return

	case DPTypeRawTAC2121CYesterday:
		if len(v) != 8 {
			break
		}
		e.logger.Infof("TAC2121C yesterday: day %d, month %d, consumption %d", v[1], v[0], be16(6))
		return

	case DPTypeRawTAC2121CLastMonth:
		if len(v) != 8 {
			break
		}
		e.logger.Infof("TAC2121C last month: month %d, year %d, consumption %d", v[1], v[0], be16(6))
		return
	}

	e.logger.Warnf("dpId %d: %s record has unexpected length %d", dp.ID, dpType, len(v))
}

func (e *Engine) applyToType(dp DataPoint, t channels.Type, value int) {
	e.channels.SetAllOfType(t, value)
	e.stats.DataPointsApplied++

	if e.onApply != nil {
		e.onApply(AppliedDataPoint{
			Time:          time.Now(),
			DataPointID:   dp.ID,
			DataPointType: dp.Type,
			Channel:       Unbound,
			ChannelType:   t,
			WireValue:     value,
			Value:         value,
		})
	}
}
