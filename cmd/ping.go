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
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Send heartbeats to the MCU and measure the round trip",
	Long: `Send HEARTBEAT frames to the MCU and wait for each reply.

The MCU answers a heartbeat with 0x00 on the first reply after it boots and
0x01 afterwards, so a 0x00 in the middle of a run means the MCU restarted.

This is useful for verifying:
  - The serial port or WebSocket bridge is wired correctly
  - The baud rate matches the MCU
  - Frames flow in both directions

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 3, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	transport, connInfo, cleanup, err := openTransport("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer cleanup()

	fmt.Printf("Tuyalink - Heartbeat Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	sn := newSniffer(transport)
	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if _, err := transport.Write(tuyamcu.NewHeartbeat().Encode()); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(pingTimeout)*time.Second)
		packet, err := sn.await(ctx, isCommand(tuyamcu.CmdHeartbeat), nil)
		timedOut := ctx.Err() == context.DeadlineExceeded
		cancel()

		switch {
		case packet != nil:
			rtt := time.Since(startTime)
			status := "running"
			if packet.Length() > 0 && packet.Payload()[0] == 0x00 {
				status = "restarted"
			}
			fmt.Printf("reply from MCU, %s, rtt=%v\n", status, rtt.Round(time.Millisecond))
			successCount++

		case err != nil:
			fmt.Printf("READ FAILED: %v\n", err)
			os.Exit(2)

		case timedOut:
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++

		default:
			fmt.Printf("CONNECTION CLOSED\n")
			os.Exit(2)
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d replies received, %.0f%% loss\n",
		pingCount, successCount, lossPercent(pingCount, successCount))

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

func lossPercent(sent, received int) float64 {
	if sent <= 0 {
		return 0
	}
	return float64(sent-received) / float64(sent) * 100
}
