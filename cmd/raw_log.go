// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
)

var rawLogCapturePath string

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw packet log in human-readable format",
	Long: `Continuously decode and display TuyaMCU frames as they arrive.

Each frame is shown with timestamp, command, protocol version and decoded
payload (data point records, product information, WiFi state and so on).
Nothing is sent, so this can sniff a link between a module and its MCU.

Use --capture to also record the traffic for the replay command.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawLogCapturePath, "capture", "", "Write a capture of all traffic to this file")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	transport, connInfo, cleanup, err := openTransport(rawLogCapturePath)
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Printf("Tuyalink - Raw Packet Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return newSniffer(transport).run(ctx, printFrameEvent)
}

func printFrameEvent(ev frameEvent) {
	switch {
	case ev.err != nil && ev.frame != nil:
		fmt.Printf("[ERROR] %v (% X)\n", ev.err, ev.frame)
	case ev.err != nil:
		fmt.Printf("[ERROR] %v\n", ev.err)
	default:
		fmt.Print(tuyamcu.FormatPacket(ev.packet))
	}
}
