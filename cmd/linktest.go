// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
)

var linkTestDuration int

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test raw connection stability",
	Long: `Hold the connection open without sending anything.

Every received chunk is logged in hex without any framing, and the link is
watched for errors. Useful for debugging a flaky WebSocket bridge or a serial
adapter that drops out.

Exit codes:
  0 - Test completed normally
  1 - Connection failed during the test
  2 - Connection error`,
	RunE: runLinkTest,
}

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestDuration, "duration", 30, "Test duration in seconds")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	transport, connInfo, cleanup, err := openTransport("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer cleanup()

	fmt.Printf("Tuyalink - Connection Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", linkTestDuration)

	duration := time.Duration(linkTestDuration) * time.Second
	startTime := time.Now()
	endTime := startTime.Add(duration)
	bytesReceived := 0
	chunksReceived := 0

	printResults := func(elapsed time.Duration) {
		fmt.Printf("\n--- Test Results ---\n")
		fmt.Printf("Duration: %v\n", elapsed.Round(time.Millisecond))
		fmt.Printf("Chunks received: %d\n", chunksReceived)
		fmt.Printf("Bytes received: %d\n", bytesReceived)
		if dropped := transport.Dropped(); dropped > 0 {
			fmt.Printf("Bytes dropped: %d\n", dropped)
		}
	}

	fmt.Printf("Listening for data...\n\n")

	poll := time.NewTicker(pollInterval)
	defer poll.Stop()
	status := time.NewTicker(time.Second)
	defer status.Stop()
	deadline := time.NewTimer(time.Until(endTime))
	defer deadline.Stop()

	for {
		select {
		case <-poll.C:
			if data := drainRaw(transport); len(data) > 0 {
				bytesReceived += len(data)
				chunksReceived++
				fmt.Printf("[%s] Received %d bytes: % X\n",
					time.Now().Format("15:04:05.000"), len(data), data)
			}

		case <-transport.Done():
			fmt.Printf("\n[%s] Connection error: %v\n",
				time.Now().Format("15:04:05.000"), transport.Err())
			printResults(time.Since(startTime))
			fmt.Printf("Result: FAILED (connection error)\n")
			os.Exit(1)

		case <-status.C:
			// Just a heartbeat to show the test is running
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), time.Until(endTime).Seconds())

		case <-deadline.C:
			printResults(duration)
			fmt.Printf("Result: PASSED (connection stable)\n")
			return nil
		}
	}
}

// drainRaw copies out and consumes everything buffered
func drainRaw(buf tuyamcu.ByteSource) []byte {
	n := buf.Buffered()
	if n == 0 {
		return nil
	}
	data := make([]byte, n)
	for i := range data {
		data[i] = buf.PeekByte(i)
	}
	buf.Consume(n)
	return data
}
