// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tuyamcu

// Unbound marks a data point that is known but not linked to a channel.
const Unbound = -1

// Mapping links a data point to a local channel.
type Mapping struct {
	DataPointID uint8
	Channel     int
	Type        DataPointType

	// LastApplied is the channel value most recently written by an inbound
	// update. Channel changes equal to it are echoes and are not sent.
	LastApplied int
}

// Registry is the data point to channel table. Devices expose a few dozen
// data points at most, so lookups are linear scans.
type Registry struct {
	mappings []*Mapping
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Bind creates or updates the mapping for dpID. Rebinding overwrites the
// type and channel and keeps LastApplied.
func (r *Registry) Bind(dpID uint8, dpType DataPointType, channel int) *Mapping {
	m := r.FindByID(dpID)
	if m == nil {
		m = &Mapping{DataPointID: dpID}
		r.mappings = append(r.mappings, m)
	}
	m.Type = dpType
	m.Channel = channel
	return m
}

// FindByID returns the mapping for dpID, or nil.
func (r *Registry) FindByID(dpID uint8) *Mapping {
	for _, m := range r.mappings {
		if m.DataPointID == dpID {
			return m
		}
	}
	return nil
}

// FindByChannel returns the first mapping targeting channel, or nil.
func (r *Registry) FindByChannel(channel int) *Mapping {
	if channel == Unbound {
		return nil
	}
	for _, m := range r.mappings {
		if m.Channel == channel {
			return m
		}
	}
	return nil
}

// Mappings returns a copy of every mapping in bind order
func (r *Registry) Mappings() []Mapping {
	out := make([]Mapping, len(r.mappings))
	for i, m := range r.mappings {
		out[i] = *m
	}
	return out
}

// Len returns the number of mappings
func (r *Registry) Len() int {
	return len(r.mappings)
}
