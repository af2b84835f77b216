// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package channels

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ChangeFunc is called after a channel value changes.
type ChangeFunc func(channel int, value int)

// Snapshot is a point-in-time copy of one channel.
type Snapshot struct {
	Channel int
	Type    Type
	Label   string
	Value   int
}

// Store holds channel values and types. It is safe for concurrent use.
// Subscribers are invoked synchronously, outside the store lock, from the
// goroutine that performed the change.
type Store struct {
	mu          sync.RWMutex
	values      [MaxChannels]int
	types       [MaxChannels]Type
	labels      [MaxChannels]string
	used        [MaxChannels]bool
	subscribers []ChangeFunc
	logger      logrus.FieldLogger
}

// NewStore creates an empty channel store.
func NewStore(logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{logger: logger.WithField("feature", "GEN")}
}

// Valid reports whether ch is an addressable channel index.
func Valid(ch int) bool {
	return ch >= 0 && ch < MaxChannels
}

// OnChange registers a subscriber for value changes.
func (s *Store) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.subscribers = append(s.subscribers, fn)
	s.mu.Unlock()
}

// Get returns the current value of a channel (0 for invalid indexes).
func (s *Store) Get(ch int) int {
	if !Valid(ch) {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[ch]
}

// Set stores a value and notifies subscribers if it differs from the
// current value.
func (s *Store) Set(ch int, value int) {
	if !Valid(ch) {
		s.logger.Warnf("Set: channel %d out of range", ch)
		return
	}

	s.mu.Lock()
	s.used[ch] = true
	if s.values[ch] == value {
		s.mu.Unlock()
		s.logger.Debugf("No change in channel %d (still set to %d) - ignoring", ch, value)
		return
	}
	s.values[ch] = value
	subs := append([]ChangeFunc(nil), s.subscribers...)
	s.mu.Unlock()

	s.logger.Debugf("Channel %d set to %d", ch, value)
	for _, fn := range subs {
		fn(ch, value)
	}
}

// Type returns the semantic type of a channel.
func (s *Store) Type(ch int) Type {
	if !Valid(ch) {
		return TypeDefault
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.types[ch]
}

// SetType changes the semantic type of a channel.
func (s *Store) SetType(ch int, t Type) error {
	if !Valid(ch) {
		return fmt.Errorf("channel %d out of range (0-%d)", ch, MaxChannels-1)
	}
	s.mu.Lock()
	s.types[ch] = t
	s.used[ch] = true
	s.mu.Unlock()
	return nil
}

// SetLabel attaches a display label to a channel.
func (s *Store) SetLabel(ch int, label string) error {
	if !Valid(ch) {
		return fmt.Errorf("channel %d out of range (0-%d)", ch, MaxChannels-1)
	}
	s.mu.Lock()
	s.labels[ch] = label
	s.used[ch] = true
	s.mu.Unlock()
	return nil
}

// SetAllOfType sets every channel of the given type to value.
func (s *Store) SetAllOfType(t Type, value int) {
	s.mu.RLock()
	var targets []int
	for ch := range s.types {
		if s.types[ch] == t && s.used[ch] {
			targets = append(targets, ch)
		}
	}
	s.mu.RUnlock()

	for _, ch := range targets {
		s.Set(ch, value)
	}
}

// Snapshot returns every channel that has been configured or written, in
// index order.
func (s *Store) Snapshot() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Snapshot
	for ch := 0; ch < MaxChannels; ch++ {
		if !s.used[ch] {
			continue
		}
		out = append(out, Snapshot{
			Channel: ch,
			Type:    s.types[ch],
			Label:   s.labels[ch],
			Value:   s.values[ch],
		})
	}
	return out
}
