// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

import (
	"fmt"

	"github.com/Thermoquad/tuyalink/pkg/channels"
)

// DimmerRange is the MCU side range of dimmer data points.
type DimmerRange struct {
	Min int
	Max int
}

// DefaultDimmerRange matches MCUs that report brightness as 0-100.
var DefaultDimmerRange = DimmerRange{Min: 0, Max: 100}

// Validate checks Min < Max
func (r DimmerRange) Validate() error {
	if r.Min >= r.Max {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidDimmerRange, r.Min, r.Max)
	}
	return nil
}

func (r DimmerRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.Min, r.Max)
}

// localScale returns the channel side maximum of a dimmer channel type.
func localScale(t channels.Type) (int64, bool) {
	switch t {
	case channels.TypeDimmer:
		return 100, true
	case channels.TypeDimmer256:
		return 256, true
	case channels.TypeDimmer1000:
		return 1000, true
	default:
		return 0, false
	}
}

// MapInbound converts an MCU value to a channel value. Only dimmer channel
// types are scaled; everything else passes through.
func (r DimmerRange) MapInbound(t channels.Type, wire int) int {
	scale, ok := localScale(t)
	if !ok || r.Max == r.Min {
		return wire
	}
	return int((int64(wire) - int64(r.Min)) * scale / (int64(r.Max) - int64(r.Min)))
}

// MapOutbound converts a channel value to an MCU value, the inverse of
// MapInbound.
func (r DimmerRange) MapOutbound(t channels.Type, value int) int {
	scale, ok := localScale(t)
	if !ok {
		return value
	}
	return int((int64(r.Max)-int64(r.Min))*int64(value)/scale + int64(r.Min))
}
