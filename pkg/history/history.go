// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package history keeps a SQLite log of data point values applied to
// channels.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/Thermoquad/tuyalink/pkg/tuyamcu"
)

const timeFormat = "2006-01-02 15:04:05.000"

const createTableSQL = `
CREATE TABLE IF NOT EXISTS dp_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    dp_id INTEGER NOT NULL,
    dp_type TEXT NOT NULL,
    channel INTEGER NOT NULL,
    channel_type TEXT NOT NULL,
    wire_value INTEGER NOT NULL,
    value INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS dp_events_dp_id ON dp_events (dp_id, timestamp);`

// Event is one applied data point
type Event struct {
	Time          time.Time
	DataPointID   uint8
	DataPointType string
	Channel       int
	ChannelType   string
	WireValue     int
	Value         int
}

// FromApplied converts an engine apply notification
func FromApplied(a tuyamcu.AppliedDataPoint) Event {
	return Event{
		Time:          a.Time,
		DataPointID:   a.DataPointID,
		DataPointType: a.DataPointType.String(),
		Channel:       a.Channel,
		ChannelType:   a.ChannelType.String(),
		WireValue:     a.WireValue,
		Value:         a.Value,
	}
}

// Filter narrows a Query. Zero fields match everything.
type Filter struct {
	DataPointID *uint8
	Channel     *int
	Since       time.Time
	Limit       int
}

// Store is an open history database
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("could not open database %s: %w", path, err)
	}
	// One connection keeps writes serialized
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create table in %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends one event
func (s *Store) Insert(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO dp_events(timestamp, dp_id, dp_type, channel, channel_type, wire_value, value) VALUES(?, ?, ?, ?, ?, ?, ?)",
		e.Time.UTC().Format(timeFormat), int(e.DataPointID), e.DataPointType, e.Channel, e.ChannelType, e.WireValue, e.Value)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Query returns matching events, newest first
func (s *Store) Query(ctx context.Context, f Filter) ([]Event, error) {
	var where []string
	var args []any
	if f.DataPointID != nil {
		where = append(where, "dp_id = ?")
		args = append(args, int(*f.DataPointID))
	}
	if f.Channel != nil {
		where = append(where, "channel = ?")
		args = append(args, *f.Channel)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp >= ?")
		args = append(args, f.Since.UTC().Format(timeFormat))
	}

	q := "SELECT timestamp, dp_id, dp_type, channel, channel_type, wire_value, value FROM dp_events"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY timestamp DESC, id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var ts string
		var dpID int
		if err := rows.Scan(&ts, &dpID, &e.DataPointType, &e.Channel, &e.ChannelType, &e.WireValue, &e.Value); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if e.Time, err = time.ParseInLocation(timeFormat, ts, time.UTC); err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", ts, err)
		}
		e.DataPointID = uint8(dpID)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Writer is a long-running goroutine that writes events from eventChan
// until the channel is closed or ctx is cancelled. Events still buffered
// at cancellation are written before it returns.
func Writer(ctx context.Context, wg *sync.WaitGroup, eventChan <-chan Event, store *Store, logger logrus.FieldLogger) {
	defer wg.Done()
	logger = logger.WithField("feature", "History")
	logger.Debug("history writer started")
	defer logger.Debug("history writer stopped")

	write := func(e Event) {
		if err := store.Insert(context.Background(), e); err != nil {
			logger.Errorf("dpId %d: %v", e.DataPointID, err)
		}
	}

	for {
		select {
		case e, ok := <-eventChan:
			if !ok {
				return
			}
			write(e)

		case <-ctx.Done():
			for len(eventChan) > 0 {
				write(<-eventChan)
			}
			return
		}
	}
}
