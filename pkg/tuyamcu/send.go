// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"fmt"
	"time"
)

// send writes one packet to the transport
func (e *Engine) send(p *Packet) error {
	return e.write(p.Encode())
}

func (e *Engine) write(frame []byte) error {
	if _, err := e.transport.Write(frame); err != nil {
		e.stats.WriteErrors++
		e.logger.Errorf("write failed: %v", err)
		return fmt.Errorf("failed to write %d bytes: %w", len(frame), err)
	}

	e.stats.FramesSent++
	e.logger.Debugf("sent: % X", frame)
	if e.onSend != nil {
		e.onSend(frame)
	}
	return nil
}

// OnChannelChanged sends a channel change to the MCU. Changes that equal
// the value last applied from the MCU are echoes of that update and are
// dropped. Reports whether a frame was sent.
func (e *Engine) OnChannelChanged(ch int, value int) bool {
	m := e.registry.FindByChannel(ch)
	if m == nil {
		return false
	}

	if m.LastApplied == value {
		e.stats.SuppressedEchoes++
		e.logger.Debugf("channel %d: value %d came from the MCU, not sending", ch, value)
		return false
	}

	wire := e.dimmer.MapOutbound(e.channels.Type(ch), value)
	if wire != value {
		e.logger.Debugf("mapped value %d (channel range) to %d (TuyaMCU range)", value, wire)
	}

	p, err := NewSetDataPoint(m.DataPointID, m.Type, wire)
	if err != nil {
		e.logger.Infof("channel %d: %v", ch, err)
		return false
	}
	return e.send(p) == nil
}

// SendHeartbeat sends a HEARTBEAT outside the handshake
func (e *Engine) SendHeartbeat() error {
	return e.send(NewHeartbeat())
}

// SendQueryProduct sends a QUERY_PRODUCT
func (e *Engine) SendQueryProduct() error {
	return e.send(NewQueryProduct())
}

// SendMCUConf sends an MCU_CONF query
func (e *Engine) SendMCUConf() error {
	return e.send(NewMCUConfQuery())
}

// SendQueryState sends a QUERY_STATE
func (e *Engine) SendQueryState() error {
	return e.send(NewQueryState())
}

// SendWiFiState reports a WiFi state code to the MCU
func (e *Engine) SendWiFiState(state uint8) error {
	return e.send(NewWiFiState(state))
}

// SendRSSI reports the signal strength to the MCU
func (e *Engine) SendRSSI(rssi int) error {
	return e.send(NewRSSI(rssi))
}

// SendDataPoint sets an integer valued data point
func (e *Engine) SendDataPoint(id uint8, dpType DataPointType, value int) error {
	p, err := NewSetDataPoint(id, dpType, value)
	if err != nil {
		return err
	}
	return e.send(p)
}

// SendString sets a string data point
func (e *Engine) SendString(id uint8, s string) error {
	p, err := NewSetDPString(id, s)
	if err != nil {
		return err
	}
	return e.send(p)
}

// SendRaw sets a raw data point
func (e *Engine) SendRaw(id uint8, data []byte) error {
	p, err := NewSetDPRaw(id, data)
	if err != nil {
		return err
	}
	return e.send(p)
}

// SendTime sends SET_TIME. ok == false sends the "time unknown" payload.
func (e *Engine) SendTime(t time.Time, ok bool) error {
	if ok {
		e.logger.Infof("MCU time to set: %s", t.UTC().Format(time.RFC3339))
	} else {
		e.logger.Info("MCU time requested, but time is not known")
	}
	return e.send(NewSetTime(t, ok))
}

// SendCurrentTime sends SET_TIME from the engine's clock
func (e *Engine) SendCurrentTime() error {
	t, ok := e.clock.Now()
	return e.SendTime(t, ok)
}

// SendBytes writes raw to the MCU unchanged
func (e *Engine) SendBytes(raw []byte) error {
	return e.write(raw)
}

// SendRawWithChecksum writes raw followed by its additive checksum
func (e *Engine) SendRawWithChecksum(raw []byte) error {
	if err := e.write(EncodeWithChecksum(raw)); err != nil {
		return err
	}
	e.logger.Infof("sent %d bytes to MCU", len(raw)+1)
	return nil
}
