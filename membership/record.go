// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package membership

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a silo in the membership table.
type Status int

const (
	// Joining silos are registered but do not host activations yet.
	Joining Status = iota + 1
	// Active silos take part in placement.
	Active
	// ShuttingDown silos flush their activations and refuse new ones.
	ShuttingDown
	// Dead silos are excluded from every view. The state is final.
	Dead
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Joining:
		return "Joining"
	case Active:
		return "Active"
	case ShuttingDown:
		return "ShuttingDown"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Suspicion is a vote cast by a silo that failed to reach another one.
type Suspicion struct {
	SuspecterID string    `json:"suspecterId"`
	At          time.Time `json:"at"`
}

// SiloRecord is one row of the membership table.
//
// Heartbeats only touch LastHeartbeat and never bump Version. Status and
// Suspicions change through versioned updates.
type SiloRecord struct {
	ClusterID      string
	SiloID         string
	Name           string
	Address        string
	GatewayAddress string
	Generation     int64
	Status         Status
	StartedAt      time.Time
	LastHeartbeat  time.Time
	Suspicions     []Suspicion
	Version        int64
}

// Clone returns a deep copy of the record.
func (r *SiloRecord) Clone() *SiloRecord {
	clone := *r
	clone.Suspicions = slices.Clone(r.Suspicions)
	return &clone
}

// IsAlive reports whether the silo has not been declared dead.
func (r *SiloRecord) IsAlive() bool {
	return r.Status != Dead
}

// Stale reports whether the silo missed its heartbeats for longer than threshold.
func (r *SiloRecord) Stale(now time.Time, threshold time.Duration) bool {
	return now.Sub(r.LastHeartbeat) > threshold
}

// freshSuspicions drops the votes older than window.
func (r *SiloRecord) freshSuspicions(now time.Time, window time.Duration) []Suspicion {
	fresh := make([]Suspicion, 0, len(r.Suspicions))
	for _, suspicion := range r.Suspicions {
		if now.Sub(suspicion.At) <= window {
			fresh = append(fresh, suspicion)
		}
	}
	return fresh
}
