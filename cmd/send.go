// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
)

var sendWait int

var sendCmd = &cobra.Command{
	Use:   "send <kind> [args...]",
	Short: "Send a single frame to the MCU and print the replies",
	Long: `Send one frame without running the handshake, then print every frame
received during the wait period.

Kinds:
  heartbeat                 HEARTBEAT (0x00)
  product                   QUERY_PRODUCT (0x01)
  mcu_conf                  MCU_CONF (0x02)
  wifi <state>              WIFI_STATE (0x03), state 0-4
  query_state               QUERY_STATE (0x08)
  time                      SET_TIME (0x1C) with the local clock
  rssi <dBm>                SET_RSSI (0x24)
  dp <dpId> <type> <value>  SET_DP (0x06) with a bool, val, enum or bitmap
  str <dpId> <text>         SET_DP (0x06) with a string
  simple <cmd> [hex]        header, command, payload and checksum added
  hex <bytes>               bytes sent exactly as given

Examples:
  tuyalink send dp 1 bool 1
  tuyalink send simple 0x08
  tuyalink send hex 55AA0000000000FF --wait 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().IntVar(&sendWait, "wait", 2, "Seconds to print replies after sending")
}

func runSend(cmd *cobra.Command, args []string) error {
	frame, err := buildFrame(args[0], args[1:], time.Now())
	if err != nil {
		return err
	}

	transport, connInfo, cleanup, err := openTransport("")
	if err != nil {
		return err
	}
	defer cleanup()

	fmt.Printf("Tuyalink - Send\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Sending: % X\n\n", frame)

	if _, err := transport.Write(frame); err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(sendWait)*time.Second)
	defer cancel()

	return newSniffer(transport).run(ctx, printFrameEvent)
}

// buildFrame encodes the frame for a send kind and its arguments
func buildFrame(kind string, args []string, now time.Time) ([]byte, error) {
	need := func(n int, usage string) error {
		if len(args) != n {
			return fmt.Errorf("usage: send %s %s", kind, usage)
		}
		return nil
	}

	switch strings.ToLower(kind) {
	case "heartbeat":
		return tuyamcu.NewHeartbeat().Encode(), nil

	case "product":
		return tuyamcu.NewQueryProduct().Encode(), nil

	case "mcu_conf":
		return tuyamcu.NewMCUConfQuery().Encode(), nil

	case "query_state":
		return tuyamcu.NewQueryState().Encode(), nil

	case "time":
		return tuyamcu.NewSetTime(now, true).Encode(), nil

	case "wifi":
		if err := need(1, "<state>"); err != nil {
			return nil, err
		}
		state, err := strconv.ParseUint(args[0], 0, 8)
		if err != nil || state > 4 {
			return nil, fmt.Errorf("%s is not a valid WiFi state", args[0])
		}
		return tuyamcu.NewWiFiState(uint8(state)).Encode(), nil

	case "rssi":
		if err := need(1, "<dBm>"); err != nil {
			return nil, err
		}
		rssi, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("%s is not a valid RSSI", args[0])
		}
		return tuyamcu.NewRSSI(rssi).Encode(), nil

	case "dp":
		if err := need(3, "<dpId> <type> <value>"); err != nil {
			return nil, err
		}
		id, err := parseDataPointID(args[0])
		if err != nil {
			return nil, err
		}
		dpType, err := tuyamcu.ParseDataPointType(args[1])
		if err != nil {
			return nil, err
		}
		value, err := strconv.ParseInt(args[2], 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%s is not a valid value", args[2])
		}
		packet, err := tuyamcu.NewSetDataPoint(id, dpType, int(value))
		if err != nil {
			return nil, err
		}
		return packet.Encode(), nil

	case "str":
		if len(args) < 2 {
			return nil, fmt.Errorf("usage: send str <dpId> <text>")
		}
		id, err := parseDataPointID(args[0])
		if err != nil {
			return nil, err
		}
		packet, err := tuyamcu.NewSetDPString(id, strings.Join(args[1:], " "))
		if err != nil {
			return nil, err
		}
		return packet.Encode(), nil

	case "simple":
		if len(args) < 1 {
			return nil, fmt.Errorf("usage: send simple <cmd> [hex]")
		}
		command, err := strconv.ParseUint(args[0], 0, 8)
		if err != nil {
			return nil, fmt.Errorf("%s is not a valid command", args[0])
		}
		var payload []byte
		if len(args) > 1 {
			payload, err = tuyamcu.ParseHex(strings.Join(args[1:], ""))
			if err != nil {
				return nil, err
			}
		}
		return tuyamcu.EncodeFrame(uint8(command), payload), nil

	case "hex":
		if len(args) < 1 {
			return nil, fmt.Errorf("usage: send hex <bytes>")
		}
		return tuyamcu.ParseHex(strings.Join(args, ""))
	}

	return nil, fmt.Errorf("unknown kind %q", kind)
}

func parseDataPointID(s string) (uint8, error) {
	id, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid dpId", s)
	}
	return uint8(id), nil
}
