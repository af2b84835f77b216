// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tuyalink/pkg/console"
	"github.com/Thermoquad/tuyalink/pkg/history"
	"github.com/Thermoquad/tuyalink/pkg/mqttbridge"
	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
	"github.com/Thermoquad/tuyalink/pkg/uart"
)

var (
	runMQTTBroker  string
	runHistoryPath string
	runCapturePath string
	runUseTUI      bool
	runConsole     bool
)

// historyQueueSize bounds events waiting for the SQLite writer
const historyQueueSize = 256

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the TuyaMCU engine against a device",
	Long: `Act as the WiFi module for a TuyaMCU device.

The engine sends heartbeats, walks the product / working mode / WiFi state /
query state handshake, and then keeps channels and data points in sync.
Channel types, data point links and startup console lines come from the
configuration file.

Optional services:
  --mqtt tcp://host:1883   bridge channels to MQTT (also reports the broker
                           connection to the MCU as cloud connectivity)
  --db events.db           log every received data point to SQLite
  --capture file           record all link traffic for the replay command
  --console                read console commands from stdin
  --tui                    interactive terminal UI with a command line`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runMQTTBroker, "mqtt", "", "MQTT broker URL (overrides config)")
	runCmd.Flags().StringVar(&runHistoryPath, "db", "", "SQLite data point history file (overrides config)")
	runCmd.Flags().StringVar(&runCapturePath, "capture", "", "Write a capture of all traffic to this file")
	runCmd.Flags().BoolVar(&runUseTUI, "tui", false, "Use terminal UI")
	runCmd.Flags().BoolVar(&runConsole, "console", false, "Read console commands from stdin")
}

func runRun(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("mqtt") {
		cfg.MQTT.Broker = runMQTTBroker
	}
	if cmd.Flags().Changed("db") {
		cfg.History.Path = runHistoryPath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	transport, connInfo, cleanup, err := openTransport(runCapturePath)
	if err != nil {
		return err
	}
	defer cleanup()

	var (
		wg     sync.WaitGroup
		extra  []tuyamcu.Option
		bridge *mqttbridge.Bridge
	)

	// Data point history
	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()

		events := make(chan history.Event, historyQueueSize)
		wg.Add(1)
		go history.Writer(ctx, &wg, events, store, logger)
		// the writer drains the queue once ctx is cancelled, before store.Close
		defer func() {
			stop()
			wg.Wait()
		}()

		extra = append(extra, tuyamcu.WithApplyObserver(func(a tuyamcu.AppliedDataPoint) {
			select {
			case events <- history.FromApplied(a):
			default:
				logger.WithField("feature", "History").Warnf("queue full, dropping dpId %d", a.DataPointID)
			}
		}))
		logger.Infof("logging data points to %s", cfg.History.Path)
	}

	if cfg.MQTT.Broker != "" {
		extra = append(extra, tuyamcu.WithConnectivity(tuyamcu.ConnectivityFunc(func() bool {
			return bridge != nil && bridge.Connected()
		})))
	}

	var out io.Writer = os.Stdout
	tuiOut := &tuiWriter{}
	if runUseTUI {
		out = tuiOut
	}
	sess, err := newSession(transport, out, extra...)
	if err != nil {
		return err
	}

	// MQTT bridge
	if cfg.MQTT.Broker != "" {
		prefix := cfg.MQTTPrefix()
		client := mqttbridge.NewPahoClient(mqttbridge.Options{
			Broker:    cfg.MQTT.Broker,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			WillTopic: mqttbridge.AvailabilityTopicFor(prefix),
		}, logger, func() { bridge.OnConnected() })
		bridge = mqttbridge.New(client, prefix, sess.store, sess.console, logger)

		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := client.Connect(connectCtx)
		cancel()
		if err != nil {
			return err
		}
		defer client.Close()
		logger.Infof("MQTT bridge on %s, prefix %s", cfg.MQTT.Broker, prefix)
	}

	sess.runStartup()

	if runUseTUI {
		return runEngineTUI(ctx, sess, transport, connInfo, tuiOut)
	}

	fmt.Printf("Tuyalink - TuyaMCU Engine\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if runConsole {
		go readConsole(ctx, sess)
	}

	return runEngine(ctx, sess, transport)
}

// runEngine ticks the engine until ctx is done or the link goes away
func runEngine(ctx context.Context, sess *session, transport *uart.Transport) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-transport.Done():
			logger.Warn("connection closed, stopping engine")
			cancel()
		case <-ctx.Done():
		}
	}()

	err := sess.engine.Run(ctx, cfg.TickInterval())
	if errors.Is(err, context.Canceled) {
		if linkErr := transport.Err(); linkErr != nil && !isClosed(linkErr) {
			return linkErr
		}
		return nil
	}
	return err
}

// readConsole submits stdin lines to the engine until EOF or ctx is done
func readConsole(ctx context.Context, sess *session) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if err := sess.console.Submit(line); err != nil && !errors.Is(err, console.ErrEmpty) {
			logger.Warnf("console: %v", err)
		}
	}
}
