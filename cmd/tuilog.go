// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
)

// logEntryMsg carries one log line into a TUI event log
type logEntryMsg struct {
	message string
	isError bool
}

// logQueueSize bounds the entries waiting for the program; more are dropped
const logQueueSize = 256

// teaLogHook forwards log entries to a running program. Fire never blocks,
// so code running inside Update may log.
type teaLogHook struct {
	queue  chan logEntryMsg
	levels []logrus.Level
}

func (h *teaLogHook) Levels() []logrus.Level {
	return h.levels
}

func (h *teaLogHook) Fire(entry *logrus.Entry) error {
	message := entry.Message
	if feature, ok := entry.Data["feature"]; ok {
		message = fmt.Sprintf("[%v] %s", feature, message)
	}
	select {
	case h.queue <- logEntryMsg{message: message, isError: entry.Level <= logrus.WarnLevel}:
	default:
	}
	return nil
}

// routeLogsToTUI sends entries at minLevel or more severe to p instead of
// the terminal. The returned func restores the logger.
func routeLogsToTUI(p *tea.Program, minLevel logrus.Level) func() {
	out := logger.Out
	hooks := make(logrus.LevelHooks)
	for level, hs := range logger.Hooks {
		hooks[level] = append(hooks[level], hs...)
	}

	logger.SetOutput(io.Discard)
	levels := make([]logrus.Level, 0, minLevel+1)
	for l := logrus.PanicLevel; l <= minLevel; l++ {
		levels = append(levels, l)
	}
	hook := &teaLogHook{queue: make(chan logEntryMsg, logQueueSize), levels: levels}
	logger.AddHook(hook)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg := <-hook.queue:
				p.Send(msg)
			case <-done:
				return
			}
		}
	}()

	return func() {
		logger.ReplaceHooks(hooks)
		logger.SetOutput(out)
		close(done)
	}
}
