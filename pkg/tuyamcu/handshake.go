// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

// LivenessState is the handshake progress of one engine.
type LivenessState struct {
	HeartbeatValid     bool
	ProductInfoValid   bool
	WorkingModeValid   bool
	WiFiStateValid     bool
	StateUpdated       bool
	SelfProcessingMode bool

	HeartbeatCountdown int
	MissedHeartbeats   int
	StateQueryAttempts int

	// WiFiStateTimer counts steady state ticks since the last WiFi state
	// push; 0 forces a push.
	WiFiStateTimer int
	// WiFiConnected is the connectivity last reported to the MCU
	WiFiConnected bool

	ProductInfo string
}

// Phase is the handshake step an engine is waiting on.
type Phase int

// Handshake phases, in order
const (
	PhaseHeartbeat Phase = iota
	PhaseProductInfo
	PhaseWorkingMode
	PhaseWiFiState
	PhaseQueryState
	PhaseSteady
)

func (p Phase) String() string {
	switch p {
	case PhaseHeartbeat:
		return "HEARTBEAT"
	case PhaseProductInfo:
		return "PRODUCT_INFO"
	case PhaseWorkingMode:
		return "WORKING_MODE"
	case PhaseWiFiState:
		return "WIFI_STATE"
	case PhaseQueryState:
		return "QUERY_STATE"
	case PhaseSteady:
		return "STEADY"
	default:
		return "UNKNOWN"
	}
}

// Phase returns the first handshake step that has not completed
func (s LivenessState) Phase() Phase {
	switch {
	case !s.HeartbeatValid:
		return PhaseHeartbeat
	case !s.ProductInfoValid:
		return PhaseProductInfo
	case !s.WorkingModeValid:
		return PhaseWorkingMode
	case !s.WiFiStateValid && !s.SelfProcessingMode:
		return PhaseWiFiState
	case !s.StateUpdated:
		return PhaseQueryState
	default:
		return PhaseSteady
	}
}

// runHandshake performs one handshake step. A heartbeat goes out every
// HeartbeatInterval+1 ticks; the ticks in between advance the query chain
// while the last heartbeat was answered.
func (e *Engine) runHandshake() {
	s := &e.state

	if s.HeartbeatCountdown == 0 {
		e.logger.Debug("Heartbeat send")
		e.send(NewHeartbeat())
		e.stats.HeartbeatsSent++
		s.HeartbeatCountdown = HeartbeatInterval
		s.MissedHeartbeats++
		if s.MissedHeartbeats >= MaxMissedHeartbeats {
			e.resetLiveness()
		}
		return
	}

	s.HeartbeatCountdown--
	if !s.HeartbeatValid {
		return
	}

	switch s.Phase() {
	case PhaseProductInfo:
		e.logger.Info("Product Query Send")
		e.send(NewQueryProduct())

	case PhaseWorkingMode:
		e.logger.Info("MCU Conf Send")
		e.send(NewMCUConfQuery())

	case PhaseWiFiState:
		e.logger.Info("WiFi State Send")
		e.pushWiFiState()

	case PhaseQueryState:
		// Some MCUs stop answering queries unless they also see
		// periodic WiFi state traffic.
		if s.StateQueryAttempts > 1 && s.StateQueryAttempts%2 == 0 {
			e.pushWiFiState()
		}
		e.logger.Infof("Query State Send (try %d)", s.StateQueryAttempts)
		e.send(NewQueryState())
		s.StateQueryAttempts++

	default:
		e.updateWiFiState()
		e.flushPending()
	}
}

// resetLiveness restarts the handshake after unanswered heartbeats
func (e *Engine) resetLiveness() {
	e.logger.Warnf("%d unanswered heartbeats, lost communication with MCU", e.state.MissedHeartbeats)

	s := &e.state
	s.HeartbeatValid = false
	s.ProductInfoValid = false
	s.WorkingModeValid = false
	s.WiFiStateValid = false
	s.StateUpdated = false
	s.StateQueryAttempts = 0
	s.MissedHeartbeats = 0
	e.stats.LivenessResets++
}

func (e *Engine) connected() bool {
	return e.connectivity != nil && e.connectivity.Connected()
}

// pushWiFiState reports connectivity to the MCU and restarts the refresh
// timer.
func (e *Engine) pushWiFiState() {
	connected := e.connected()
	code := e.defaultWiFiState
	if connected {
		code = WiFiStateCloud
	}

	e.logger.Debugf("Will send SetWiFiState %d", code)
	e.send(NewWiFiState(code))

	e.state.WiFiStateValid = true
	e.state.WiFiConnected = connected
	e.state.WiFiStateTimer = 1
}

// updateWiFiState pushes the WiFi state when connectivity changed or the
// refresh timer expired.
func (e *Engine) updateWiFiState() {
	s := &e.state
	if e.connected() != s.WiFiConnected || s.WiFiStateTimer == 0 {
		e.pushWiFiState()
		return
	}

	s.WiFiStateTimer++
	if s.WiFiStateTimer >= WiFiStateRefreshTicks {
		s.WiFiStateTimer = 0
	}
}
