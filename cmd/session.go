// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"io"

	"github.com/Thermoquad/tuyalink/pkg/channels"
	"github.com/Thermoquad/tuyalink/pkg/console"
	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
)

// session is one engine wired to a channel store and a console, configured
// from cfg
type session struct {
	store   *channels.Store
	engine  *tuyamcu.Engine
	console *console.Console
}

func newSession(transport tuyamcu.Transport, out io.Writer, extra ...tuyamcu.Option) (*session, error) {
	store := channels.NewStore(logger)
	if err := cfg.ApplyChannels(store); err != nil {
		return nil, err
	}

	opts := append([]tuyamcu.Option{
		tuyamcu.WithLogger(logger),
		tuyamcu.WithBaudRate(cfg.BaudRate),
	}, extra...)
	engine := tuyamcu.New(transport, store, opts...)
	if err := cfg.ApplyEngine(engine); err != nil {
		return nil, err
	}

	// Local changes go out once the handshake allows it; values the MCU
	// just reported are suppressed by the engine.
	store.OnChange(engine.NotifyChannelChanged)

	return &session{
		store:   store,
		engine:  engine,
		console: console.New(engine, store, console.WithLogger(logger), console.WithOutput(out)),
	}, nil
}

// runStartup executes the configured startup lines. It must be called
// before the engine goroutine starts.
func (s *session) runStartup() {
	for _, line := range cfg.Startup {
		logger.Debugf("startup: %s", line)
		_ = s.console.Execute(line)
	}
}
