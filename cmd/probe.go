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

var probeTimeout int

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Identify the MCU and list the data points it reports",
	Long: `Walk the start of the TuyaMCU handshake once and print what the MCU says.

The probe sends, waiting for each reply:
  1. HEARTBEAT     - is anything listening
  2. QUERY_PRODUCT - product key, firmware version and mode
  3. MCU_CONF      - working mode (self processing or module pins)
  4. QUERY_STATE   - every data point with its type and value

The data point list is what linkTuyaMCUOutputToChannel needs to map a
device, so probe is usually the first step with unknown hardware.

Examples:
  tuyalink probe --port /dev/ttyUSB0
  tuyalink probe --url ws://bridge.local/uart

Exit codes:
  0 - MCU identified
  1 - No reply to one of the queries
  2 - Connection error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeTimeout, "timeout", 3, "Timeout in seconds for each query")
}

func runProbe(cmd *cobra.Command, args []string) error {
	transport, connInfo, cleanup, err := openTransport("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer cleanup()

	fmt.Printf("Tuyalink - MCU Probe\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per query\n\n", probeTimeout)

	sn := newSniffer(transport)
	timeout := time.Duration(probeTimeout) * time.Second

	// query sends packet and waits for a reply with the same command
	query := func(packet *tuyamcu.Packet) *tuyamcu.Packet {
		name := tuyamcu.FormatCommand(packet.Command())
		fmt.Printf("Sending %s...", name)
		if _, err := transport.Write(packet.Encode()); err != nil {
			fmt.Printf(" SEND FAILED: %v\n", err)
			os.Exit(2)
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		reply, err := sn.await(ctx, isCommand(packet.Command()), nil)
		if err != nil {
			fmt.Printf(" READ FAILED: %v\n", err)
			os.Exit(2)
		}
		if reply == nil {
			fmt.Printf(" no reply\n")
			return nil
		}
		fmt.Printf(" ok (protocol version %d)\n", reply.Version())
		return reply
	}

	if query(tuyamcu.NewHeartbeat()) == nil {
		fmt.Printf("\nTIMEOUT: MCU did not answer the heartbeat. Check wiring and baud rate.\n")
		os.Exit(1)
	}

	missing := 0

	if reply := query(tuyamcu.NewQueryProduct()); reply != nil {
		info, ok := tuyamcu.ParseProductInfo(reply.Payload())
		if ok {
			fmt.Printf("  Product key: %s\n", info.ProductKey)
			fmt.Printf("  Version: %s\n", info.Version)
			fmt.Printf("  Mode: %d\n", info.Mode)
		} else {
			fmt.Printf("  Product: %s\n", info.ProductKey)
		}
	} else {
		missing++
	}

	if reply := query(tuyamcu.NewMCUConfQuery()); reply != nil {
		if reply.Length() == 0 {
			fmt.Printf("  Working mode: self processing (MCU drives the status LED)\n")
		} else {
			fmt.Printf("  Working mode: module pins % X\n", reply.Payload())
		}
	} else {
		missing++
	}

	// QUERY_STATE is answered with STATE frames, one or more
	fmt.Printf("Sending %s...", tuyamcu.FormatCommand(tuyamcu.CmdQueryState))
	if _, err := transport.Write(tuyamcu.NewQueryState().Encode()); err != nil {
		fmt.Printf(" SEND FAILED: %v\n", err)
		os.Exit(2)
	}
	points := collectDataPoints(sn, timeout)
	if len(points) == 0 {
		fmt.Printf(" no data points\n")
		missing++
	} else {
		fmt.Printf(" %d data points\n", len(points))
		for _, dp := range points {
			fmt.Printf("  %s\n", tuyamcu.FormatDataPoint(dp))
		}
	}

	fmt.Printf("\n--- Probe summary ---\n")
	if missing > 0 {
		fmt.Printf("%d queries went unanswered\n", missing)
		os.Exit(1)
	}
	fmt.Printf("MCU identified\n")
	return nil
}

// collectDataPoints gathers STATE records until timeout, keeping the last
// value seen for each data point in arrival order
func collectDataPoints(sn *sniffer, timeout time.Duration) []tuyamcu.DataPoint {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	index := make(map[uint8]int)
	var points []tuyamcu.DataPoint
	err := sn.run(ctx, func(ev frameEvent) {
		if ev.packet == nil || ev.packet.Command() != tuyamcu.CmdState {
			return
		}
		records, err := tuyamcu.ParseDataPoints(ev.packet.Payload())
		if err != nil {
			logger.Warnf("malformed STATE frame: %v", err)
		}
		for _, dp := range records {
			if i, ok := index[dp.ID]; ok {
				points[i] = dp
				continue
			}
			index[dp.ID] = len(points)
			points = append(points, dp)
		}
	})
	if err != nil {
		logger.Warnf("read failed: %v", err)
	}
	return points
}
