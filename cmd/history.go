// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/tuyalink/pkg/history"
)

var (
	historyPath    string
	historyDP      int
	historyChannel int
	historySince   time.Duration
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show data points recorded by run --db",
	Long: `Print data point events from a history database, newest first.

Examples:
  tuyalink history --db tuya.db --dp 1 --since 1h
  tuyalink history --db tuya.db --channel 3 --limit 20`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyPath, "db", "", "History database (default from config)")
	historyCmd.Flags().IntVar(&historyDP, "dp", -1, "Only this dpId")
	historyCmd.Flags().IntVar(&historyChannel, "channel", -1, "Only this channel")
	historyCmd.Flags().DurationVar(&historySince, "since", 0, "Only events newer than this (e.g. 30m)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Maximum number of events")
}

func runHistory(cmd *cobra.Command, args []string) error {
	path := cfg.History.Path
	if historyPath != "" {
		path = historyPath
	}
	if path == "" {
		return fmt.Errorf("no history database; use --db or set history.path")
	}

	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()

	filter := history.Filter{Limit: historyLimit}
	if historyDP >= 0 {
		if historyDP > 255 {
			return fmt.Errorf("dpId %d out of range (0-255)", historyDP)
		}
		id := uint8(historyDP)
		filter.DataPointID = &id
	}
	if historyChannel >= 0 {
		filter.Channel = &historyChannel
	}
	if historySince > 0 {
		filter.Since = time.Now().Add(-historySince)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	events, err := store.Query(ctx, filter)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Printf("No events\n")
		return nil
	}

	for _, e := range events {
		fmt.Println(formatEvent(e))
	}
	return nil
}

func formatEvent(e history.Event) string {
	target := "no channel"
	if e.Channel >= 0 {
		target = fmt.Sprintf("ch %d %s=%d", e.Channel, e.ChannelType, e.Value)
	}
	return fmt.Sprintf("%s  dpId %-3d %-6s wire=%-10d %s",
		e.Time.Local().Format("2006-01-02 15:04:05.000"), e.DataPointID, e.DataPointType, e.WireValue, target)
}
