// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Tuyalink - TuyaMCU Protocol Engine
//
// A CLI tool for driving TuyaMCU devices over a serial port or WebSocket
// bridge: it runs the module side of the handshake, maps data points to
// channels, and can sniff, probe and replay the link.

package main

import (
	"os"

	"github.com/Thermoquad/tuyalink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
