// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import "errors"

// Framing and decoding errors. Returned errors wrap one of these; use
// errors.Is to classify them.
var (
	ErrTruncated       = errors.New("frame truncated")
	ErrBadSync         = errors.New("bad sync bytes")
	ErrLengthMismatch  = errors.New("declared length mismatch")
	ErrChecksum        = errors.New("checksum mismatch")
	ErrOversized       = errors.New("frame exceeds maximum size")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrRecordTruncated = errors.New("data point record truncated")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Engine errors
var (
	ErrQueueFull          = errors.New("engine task queue full")
	ErrInvalidDimmerRange = errors.New("dimmer range minimum must be below maximum")
	ErrUnsupportedType    = errors.New("unsupported data point type")
)
