// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Inbound
	FramesReceived   uint64
	ValidFrames      uint64
	ChecksumErrors   uint64
	LengthMismatches uint64
	SyncErrors       uint64
	TruncatedFrames  uint64
	OversizedFrames  uint64
	GarbageBytes     uint64
	UnknownCommands  uint64
	TruncatedRecords uint64

	// Outbound
	FramesSent     uint64
	HeartbeatsSent uint64
	WriteErrors    uint64

	// Engine
	LivenessResets    uint64
	DataPointsApplied uint64
	SuppressedEchoes  uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update records the outcome of decoding one frame
func (s *Statistics) Update(decodeErr error) {
	s.FramesReceived++
	s.LastUpdateTime = time.Now()

	switch {
	case decodeErr == nil:
		s.ValidFrames++
	case errors.Is(decodeErr, ErrChecksum):
		s.ChecksumErrors++
	case errors.Is(decodeErr, ErrLengthMismatch):
		s.LengthMismatches++
	case errors.Is(decodeErr, ErrBadSync):
		s.SyncErrors++
	case errors.Is(decodeErr, ErrTruncated):
		s.TruncatedFrames++
	case errors.Is(decodeErr, ErrOversized):
		s.OversizedFrames++
	}
}

// Errors returns the total number of rejected frames
func (s *Statistics) Errors() uint64 {
	return s.ChecksumErrors + s.LengthMismatches + s.SyncErrors + s.TruncatedFrames + s.OversizedFrames
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.FramesReceived) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.FramesReceived == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.FramesReceived)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Frames Received: %8d\n", s.FramesReceived)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, percent(s.ValidFrames))

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, percent(s.ChecksumErrors))
	}
	if s.LengthMismatches > 0 {
		result += fmt.Sprintf("Length Mismatch: %8d (%.1f%%)\n", s.LengthMismatches, percent(s.LengthMismatches))
	}
	if s.SyncErrors > 0 {
		result += fmt.Sprintf("Sync Errors:     %8d (%.1f%%)\n", s.SyncErrors, percent(s.SyncErrors))
	}
	if s.TruncatedFrames > 0 {
		result += fmt.Sprintf("Truncated:       %8d (%.1f%%)\n", s.TruncatedFrames, percent(s.TruncatedFrames))
	}
	if s.OversizedFrames > 0 {
		result += fmt.Sprintf("Oversized:       %8d (%.1f%%)\n", s.OversizedFrames, percent(s.OversizedFrames))
	}
	if s.GarbageBytes > 0 {
		result += fmt.Sprintf("Garbage Bytes:   %8d\n", s.GarbageBytes)
	}
	if s.UnknownCommands > 0 {
		result += fmt.Sprintf("Unknown Cmds:    %8d\n", s.UnknownCommands)
	}
	if s.TruncatedRecords > 0 {
		result += fmt.Sprintf("  Bad Records:      %5d\n", s.TruncatedRecords)
	}

	if s.FramesSent > 0 {
		result += fmt.Sprintf("Frames Sent:     %8d (%d heartbeats)\n", s.FramesSent, s.HeartbeatsSent)
	}
	if s.WriteErrors > 0 {
		result += fmt.Sprintf("Write Errors:    %8d\n", s.WriteErrors)
	}
	if s.DataPointsApplied > 0 {
		result += fmt.Sprintf("DPs Applied:     %8d\n", s.DataPointsApplied)
	}
	if s.LivenessResets > 0 {
		result += fmt.Sprintf("Link Resets:     %8d\n", s.LivenessResets)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
