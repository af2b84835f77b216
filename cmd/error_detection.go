// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
	"github.com/Thermoquad/tuyalink/pkg/uart"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed frames and errors",
	Long: `Track frame errors, malformed records and unknown commands with statistics.

This command validates each frame and detects:
  - Framing errors (bad sync, length mismatch, oversized frames, noise)
  - Checksum errors
  - Malformed payloads (truncated data point records, bad weather fields)
  - Unknown command codes
  - Statistics and trends (frame rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid frames too.

Frames are validated in real-time, with errors highlighted immediately and
periodic statistics summaries displayed at configurable intervals.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	transport, connInfo, cleanup, err := openTransport("")
	if err != nil {
		return err
	}
	defer cleanup()

	if useTUI {
		return runTUIMode(transport, connInfo)
	}
	return runTextMode(transport, connInfo)
}

// validatePacket checks the payload of a frame that passed the checksum.
// It updates the unknown command and bad record counters in stats.
func validatePacket(p *tuyamcu.Packet, stats *tuyamcu.Statistics) []string {
	var issues []string
	record := func(err error) {
		if err != nil {
			stats.TruncatedRecords++
			issues = append(issues, err.Error())
		}
	}

	switch p.Command() {
	case tuyamcu.CmdHeartbeat, tuyamcu.CmdQueryProduct, tuyamcu.CmdMCUConf, tuyamcu.CmdWiFiState,
		tuyamcu.CmdWiFiReset, tuyamcu.CmdSetTime, tuyamcu.CmdSetRSSI:
	case tuyamcu.CmdState, tuyamcu.CmdSetDP:
		_, err := tuyamcu.ParseDataPoints(p.Payload())
		record(err)
	case tuyamcu.CmdQueryState, tuyamcu.CmdWiFiSelect:
		if p.IsLowPower() {
			_, _, err := tuyamcu.ParseRecordStorage(p.Payload(), p.Command() == tuyamcu.CmdQueryState)
			record(err)
		}
	case tuyamcu.CmdWeatherData:
		_, err := tuyamcu.ParseWeatherData(p.Payload())
		record(err)
	default:
		stats.UnknownCommands++
		issues = append(issues, fmt.Sprintf("%v 0x%02X", tuyamcu.ErrUnknownCommand, p.Command()))
	}
	return issues
}

// printFrameError prints a rejected frame in highlighted format
func printFrameError(ev frameEvent) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mFRAME ERROR:\033[0m %v\n", timestamp, ev.err)
	if ev.frame != nil {
		fmt.Printf("  Raw: % X\n", ev.frame)
	}
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

// printValidationErrors prints payload problems for a packet
func printValidationErrors(packet *tuyamcu.Packet, issues []string) {
	timestamp := packet.Timestamp().Format("15:04:05.000")
	cmdName := tuyamcu.FormatCommand(packet.Command())

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X) ver=%d\n", timestamp, cmdName, packet.Command(), packet.Version())
	fmt.Printf("  Checksum: \033[1;32mOK\033[0m\n")
	for i, issue := range issues {
		fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, issue)
	}
	fmt.Printf("  Payload: % X\n", packet.Payload())
	fmt.Printf("  >>> PAYLOAD REJECTED <<<\n\n")
}

// printProductInfo always shows the MCU's product descriptor
func printProductInfo(packet *tuyamcu.Packet) {
	timestamp := packet.Timestamp().Format("15:04:05.000")
	info, ok := tuyamcu.ParseProductInfo(packet.Payload())
	if !ok {
		fmt.Printf("[%s] \033[1;32mPRODUCT:\033[0m %s\n\n", timestamp, info.ProductKey)
		return
	}
	fmt.Printf("[%s] \033[1;32mPRODUCT:\033[0m key=%s version=%s mode=%d\n\n", timestamp, info.ProductKey, info.Version, info.Mode)
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(transport *uart.Transport, connInfo string) error {
	sn := newSniffer(transport)
	synchronized := false

	m := initialModel(connInfo, showAll)
	p := tea.NewProgram(m)
	restore := routeLogsToTUI(p, logrus.ErrorLevel)
	defer restore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Frame reader goroutine
	go func() {
		err := sn.run(ctx, func(ev frameEvent) {
			if ev.packet == nil {
				if synchronized {
					p.Send(frameDataMsg{frame: ev.frame, decodeErr: ev.err, stats: *sn.stats})
				}
				return
			}

			if !synchronized {
				// First frame: we're now synchronized
				synchronized = true
				p.Send(syncMsg{invalidBytes: int(sn.stats.GarbageBytes)})
			}
			issues := validatePacket(ev.packet, sn.stats)
			p.Send(frameDataMsg{packet: ev.packet, issues: issues, stats: *sn.stats})
		})
		p.Send(linkClosedMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(transport *uart.Transport, connInfo string) error {
	fmt.Printf("Tuyalink - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sn := newSniffer(transport)
	synchronized := false

	// Statistics ticker
	sn.statsInterval = time.Duration(statsInterval) * time.Second
	sn.onStats = func(stats *tuyamcu.Statistics) {
		fmt.Println()
		fmt.Print(stats.String())
		fmt.Println()
	}

	return sn.run(ctx, func(ev frameEvent) {
		if ev.packet == nil {
			// Errors before the first good frame are line noise
			if synchronized {
				printFrameError(ev)
			}
			return
		}

		if !synchronized {
			synchronized = true
			if sn.stats.GarbageBytes > 0 {
				fmt.Printf("[SYNC] Synchronized after skipping %d invalid bytes\n\n", sn.stats.GarbageBytes)
			} else {
				fmt.Printf("[SYNC] Synchronized\n\n")
			}
		}

		issues := validatePacket(ev.packet, sn.stats)
		switch {
		case len(issues) > 0:
			printValidationErrors(ev.packet, issues)
		case ev.packet.Command() == tuyamcu.CmdQueryProduct:
			printProductInfo(ev.packet)
		case showAll:
			fmt.Print(tuyamcu.FormatPacket(ev.packet))
		}
	})
}
