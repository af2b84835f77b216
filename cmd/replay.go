// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tuyalink/pkg/capture"
	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
	"github.com/Thermoquad/tuyalink/pkg/uart"
)

var (
	replaySpeed   float64
	replayShowAll bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <capture>",
	Short: "Feed a recorded capture through the engine",
	Long: `Replay the received side of a capture file through a full engine.

Channels, links and startup lines come from the configuration, exactly as for
the run command, so a capture from real hardware can be used to check a
mapping. Frames the engine would have sent are counted but go nowhere.

At the end the channel values and engine statistics are printed.

Use --speed 0 to replay as fast as possible, or 1 for the recorded timing.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 0, "Replay speed (0 = as fast as possible)")
	replayCmd.Flags().BoolVar(&replayShowAll, "show-all", false, "Print every frame the engine handles")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer f.Close()

	reader, err := capture.NewReader(f)
	if err != nil {
		return err
	}
	records, err := reader.ReadAll()
	if err != nil {
		return err
	}
	header := reader.Header()

	fmt.Printf("Tuyalink - Replay\n")
	fmt.Printf("Capture: %s (%d records)\n", args[0], len(records))
	fmt.Printf("Recorded: %s from %s\n\n", header.Started.Format(time.RFC3339), header.Endpoint)

	conn := capture.NewReplayConnection(records, replaySpeed)
	transport := uart.NewTransport(conn, uart.WithLogger(logger))

	var extra []tuyamcu.Option
	if replayShowAll {
		extra = append(extra, tuyamcu.WithPacketObserver(func(p *tuyamcu.Packet) {
			fmt.Print(tuyamcu.FormatPacket(p))
		}))
	}
	sess, err := newSession(transport, os.Stdout, extra...)
	if err != nil {
		return err
	}
	sess.runStartup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport.Start()
	defer transport.Close()

	if err := replayEngine(ctx, sess.engine, transport, replayInterval(replaySpeed)); err != nil {
		return err
	}

	fmt.Printf("\n--- Channels ---\n")
	printChannels(sess)
	fmt.Printf("\n%d frames would have been sent\n", len(conn.Writes()))
	fmt.Println()
	fmt.Print(sess.engine.Stats().String())
	return nil
}

// replayInterval scales the tick interval to the replay speed; as fast as
// possible still ticks often enough to keep the receive ring from filling
func replayInterval(speed float64) time.Duration {
	if speed <= 0 {
		return time.Millisecond
	}
	return time.Duration(float64(cfg.TickInterval()) / speed)
}

// replayEngine ticks the engine until the capture is exhausted and every
// buffered byte has been handled
func replayEngine(ctx context.Context, engine *tuyamcu.Engine, transport *uart.Transport, interval time.Duration) error {
	if err := engine.Start(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			engine.Tick()
		}

		select {
		case <-transport.Done():
			// The last frames may need more than one tick
			for i := 0; i < 64 && transport.Buffered() >= tuyamcu.MinFrameSize; i++ {
				engine.Tick()
			}
			if err := transport.Err(); err != nil && !isClosed(err) {
				return err
			}
			return nil
		default:
		}
	}
}

func printChannels(sess *session) {
	snapshot := sess.store.Snapshot()
	if len(snapshot) == 0 {
		fmt.Printf("(no channels in use)\n")
		return
	}
	for _, ch := range snapshot {
		label := ""
		if ch.Label != "" {
			label = " " + ch.Label
		}
		fmt.Printf("  ch %d%s (%s): %s\n", ch.Channel, label, ch.Type, ch.Type.FormatValue(ch.Value))
	}
}
