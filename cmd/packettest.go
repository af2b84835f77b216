// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
)

var (
	packetTestTimeout   int
	packetTestHeartbeat bool
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid TuyaMCU frame",
	Long: `Wait for a valid TuyaMCU frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any valid
frame. It ignores noise and waits for a complete frame with a correct
checksum. With --heartbeat a heartbeat is sent first, which makes an idle
MCU answer.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
	packetTestCmd.Flags().BoolVar(&packetTestHeartbeat, "heartbeat", false, "Send a heartbeat before waiting")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	transport, connInfo, cleanup, err := openTransport("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer cleanup()

	fmt.Printf("Tuyalink - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)

	if packetTestHeartbeat {
		if _, err := transport.Write(tuyamcu.NewHeartbeat().Encode()); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
		fmt.Printf("Sent HEARTBEAT\n")
	}
	fmt.Printf("Waiting for valid TuyaMCU frame...\n\n")

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(packetTestTimeout)*time.Second)
	defer cancel()

	sn := newSniffer(transport)
	var packet *tuyamcu.Packet
	runErr := sn.run(ctx, func(ev frameEvent) {
		if packet == nil && ev.packet != nil {
			packet = ev.packet
			cancel()
		}
	})

	switch {
	case packet != nil:
		if sn.stats.GarbageBytes > 0 {
			fmt.Printf("(skipped %d invalid bytes before sync)\n", sn.stats.GarbageBytes)
		}
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Command: %s (0x%02X)\n", tuyamcu.FormatCommand(packet.Command()), packet.Command())
		fmt.Printf("  Version: %d\n", packet.Version())
		fmt.Printf("  Length: %d bytes\n", packet.Length())
		fmt.Printf("  Checksum: 0x%02X\n", packet.Checksum())
		os.Exit(0)

	case runErr != nil:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", runErr)
		os.Exit(2)

	case ctx.Err() == nil:
		fmt.Fprintf(os.Stderr, "Connection closed before a valid frame arrived\n")
		os.Exit(2)

	default:
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
