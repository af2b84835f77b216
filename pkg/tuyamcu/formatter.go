// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"fmt"
	"strings"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p *Packet) string {
	timestamp := p.timestamp.Format("15:04:05.000")
	cmd := FormatCommand(p.command)

	result := fmt.Sprintf("[%s] %s (0x%02X) ver=%d len=%d\n", timestamp, cmd, p.command, p.version, len(p.payload))
	result += FormatPayload(p)

	return result
}

// FormatCommand returns the human-readable name for a command code
func FormatCommand(cmd uint8) string {
	switch cmd {
	case CmdHeartbeat:
		return "HEARTBEAT"
	case CmdQueryProduct:
		return "QUERY_PRODUCT"
	case CmdMCUConf:
		return "MCU_CONF"
	case CmdWiFiState:
		return "WIFI_STATE"
	case CmdWiFiReset:
		return "WIFI_RESET"
	case CmdWiFiSelect:
		return "WIFI_SELECT"
	case CmdSetDP:
		return "SET_DP"
	case CmdState:
		return "STATE"
	case CmdQueryState:
		return "QUERY_STATE"
	case CmdSetTime:
		return "SET_TIME"
	case CmdWeatherData:
		return "WEATHER_DATA"
	case CmdSetRSSI:
		return "SET_RSSI"
	default:
		return "UNKNOWN"
	}
}

// FormatPayload describes a packet's payload, one line per item
func FormatPayload(p *Packet) string {
	payload := p.payload
	if len(payload) == 0 {
		return "  (no payload)\n"
	}

	switch p.command {
	case CmdHeartbeat:
		if payload[0] == 0 {
			return "  MCU restarted\n"
		}
		return "  MCU running\n"

	case CmdQueryProduct:
		return fmt.Sprintf("  Product: %s\n", string(payload))

	case CmdWiFiState:
		return fmt.Sprintf("  WiFi State: %s (%d)\n", FormatWiFiState(payload[0]), payload[0])

	case CmdSetRSSI:
		return fmt.Sprintf("  RSSI: %d dBm\n", int8(payload[0]))

	case CmdSetTime:
		if len(payload) == setTimePayloadSize {
			if payload[0] == 0 {
				return "  Time: unknown\n"
			}
			return fmt.Sprintf("  Time: 20%02d-%02d-%02d %02d:%02d:%02d weekday %d\n",
				payload[1], payload[2], payload[3], payload[4], payload[5], payload[6], payload[7])
		}
		return "  Time requested\n"

	case CmdState, CmdSetDP:
		points, err := ParseDataPoints(payload)
		return formatDataPoints(points, err)

	case CmdQueryState, CmdWiFiSelect:
		if !p.IsLowPower() {
			break
		}
		date, points, err := ParseRecordStorage(payload, p.command == CmdQueryState)
		result := ""
		if date != nil {
			result = fmt.Sprintf("  Date: %s\n", date)
		}
		return result + formatDataPoints(points, err)

	case CmdWeatherData:
		fields, err := ParseWeatherData(payload)
		var b strings.Builder
		for _, f := range fields {
			fmt.Fprintf(&b, "  Weather: %s\n", f)
		}
		if err != nil {
			fmt.Fprintf(&b, "  Error: %v\n", err)
		}
		return b.String()
	}

	return fmt.Sprintf("  Data: % X\n", payload)
}

func formatDataPoints(points []DataPoint, err error) string {
	var b strings.Builder
	for _, dp := range points {
		b.WriteString("  " + FormatDataPoint(dp) + "\n")
	}
	if err != nil {
		fmt.Fprintf(&b, "  Error: %v\n", err)
	}
	return b.String()
}

// FormatDataPoint describes one data point record
func FormatDataPoint(dp DataPoint) string {
	prefix := fmt.Sprintf("dpId %d %s", dp.ID, dp.Type)

	switch dp.Type {
	case DPTypeBool:
		if v, ok := dp.Int(); ok {
			return fmt.Sprintf("%s: %t", prefix, v != 0)
		}
	case DPTypeValue, DPTypeEnum, DPTypeBitmap:
		if v, ok := dp.Int(); ok {
			return fmt.Sprintf("%s: %d", prefix, v)
		}
	case DPTypeString:
		return fmt.Sprintf("%s: %q", prefix, string(dp.Value))
	}
	return fmt.Sprintf("%s: % X", prefix, dp.Value)
}

// FormatWiFiState returns the name of a WiFi state code
func FormatWiFiState(state uint8) string {
	switch state {
	case WiFiStateSmartConfig:
		return "SMART_CONFIG"
	case WiFiStateAPConfig:
		return "AP_CONFIG"
	case WiFiStateNotConnected:
		return "NOT_CONNECTED"
	case WiFiStateConnected:
		return "CONNECTED"
	case WiFiStateCloud:
		return "CLOUD"
	case WiFiStateLowPower:
		return "LOW_POWER"
	default:
		return "UNKNOWN"
	}
}
