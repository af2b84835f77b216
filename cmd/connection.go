// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/tuyalink/pkg/capture"
	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
	"github.com/Thermoquad/tuyalink/pkg/uart"
)

// connectTimeout bounds the WebSocket dial and handshake
const connectTimeout = 10 * time.Second

// pollInterval is how often sniffing commands drain the receive buffer
const pollInterval = 20 * time.Millisecond

// endpoint returns the link selected by flags, config and environment
func endpoint() uart.Endpoint {
	return uart.Endpoint{
		Port:          cfg.Port,
		BaudRate:      cfg.BaudRate,
		URL:           cfg.URL,
		Username:      cfg.Username,
		SkipSSLVerify: cfg.SkipSSLVerify,
	}
}

// OpenConnection opens the serial port or WebSocket bridge and returns it
// with a description for display
func OpenConnection() (uart.Connection, string, error) {
	ep := endpoint()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	conn, err := uart.Open(ctx, ep)
	if err != nil {
		return nil, "", err
	}
	return conn, ep.String(), nil
}

// openTransport opens the link and starts its receive goroutine. When
// capturePath is set every byte in either direction is recorded; the
// returned cleanup closes the transport and the capture file.
func openTransport(capturePath string) (*uart.Transport, string, func(), error) {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, "", nil, err
	}

	opts := []uart.TransportOption{uart.WithLogger(logger)}
	var captureFile *os.File
	if capturePath != "" {
		captureFile, err = os.Create(capturePath)
		if err != nil {
			conn.Close()
			return nil, "", nil, fmt.Errorf("failed to create capture file: %w", err)
		}
		w, err := capture.NewWriter(captureFile, connInfo)
		if err != nil {
			captureFile.Close()
			conn.Close()
			return nil, "", nil, err
		}
		record := func(dir capture.Direction) func([]byte) {
			return func(data []byte) {
				if err := w.Write(dir, data); err != nil {
					logger.Warnf("capture write failed: %v", err)
				}
			}
		}
		opts = append(opts,
			uart.WithReceiveObserver(record(capture.RX)),
			uart.WithWriteObserver(record(capture.TX)),
		)
		logger.Infof("capturing traffic to %s", capturePath)
	}

	transport := uart.NewTransport(conn, opts...)
	transport.Start()

	cleanup := func() {
		transport.Close()
		if captureFile != nil {
			captureFile.Close()
		}
	}
	return transport, connInfo, cleanup, nil
}

// isClosed reports whether a link error is an orderly close
func isClosed(err error) bool {
	return errors.Is(err, uart.ErrConnectionClosed) || errors.Is(err, io.EOF)
}

// frameEvent is one outcome of sniffing: a packet, or a rejected frame
type frameEvent struct {
	packet *tuyamcu.Packet
	frame  []byte
	err    error
}

// sniffer pulls frames out of a transport without running the handshake
type sniffer struct {
	transport *uart.Transport
	framer    *tuyamcu.Framer
	stats     *tuyamcu.Statistics

	// onStats, when set, is called every statsInterval from the run loop
	onStats       func(*tuyamcu.Statistics)
	statsInterval time.Duration
}

func newSniffer(transport *uart.Transport) *sniffer {
	stats := tuyamcu.NewStatistics()
	return &sniffer{
		transport: transport,
		framer:    tuyamcu.NewFramer(tuyamcu.DefaultMaxFrameSize, logger.WithField("feature", "TuyaMCU"), stats),
		stats:     stats,
	}
}

// drain returns every frame currently buffered
func (s *sniffer) drain() []frameEvent {
	var events []frameEvent
	for {
		frame, err := s.framer.Next(s.transport)
		if err != nil {
			events = append(events, frameEvent{err: err})
			continue
		}
		if frame == nil {
			return events
		}

		packet, err := tuyamcu.Decode(frame)
		s.stats.Update(err)
		events = append(events, frameEvent{packet: packet, frame: frame, err: err})
	}
}

// run calls fn for every frame until ctx is done or the link fails. A
// closed WebSocket ends the loop without an error.
func (s *sniffer) run(ctx context.Context, fn func(frameEvent)) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var statsC <-chan time.Time
	if s.onStats != nil && s.statsInterval > 0 {
		statsTicker := time.NewTicker(s.statsInterval)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-statsC:
			s.onStats(s.stats)
		case <-s.transport.Done():
			for _, ev := range s.drain() {
				fn(ev)
			}
			if err := s.transport.Err(); err != nil && !isClosed(err) {
				return err
			}
			logger.Info("connection closed")
			return nil
		case <-ticker.C:
			for _, ev := range s.drain() {
				fn(ev)
			}
		}
	}
}

// await returns the first packet accepted by match, or nil when ctx ends
// first. Other frames are passed to onOther when it is set.
func (s *sniffer) await(ctx context.Context, match func(*tuyamcu.Packet) bool, onOther func(frameEvent)) (*tuyamcu.Packet, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var found *tuyamcu.Packet
	err := s.run(ctx, func(ev frameEvent) {
		if found != nil {
			return
		}
		if ev.packet != nil && match(ev.packet) {
			found = ev.packet
			cancel()
			return
		}
		if onOther != nil {
			onOther(ev)
		}
	})
	return found, err
}

// isCommand matches packets carrying cmd
func isCommand(cmd uint8) func(*tuyamcu.Packet) bool {
	return func(p *tuyamcu.Packet) bool { return p.Command() == cmd }
}
