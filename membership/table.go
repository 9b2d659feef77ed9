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
	"context"
	"sync"
	"time"

	gerrors "github.com/jt7sku/koonti/errors"
)

// Table is the shared durable membership table, keyed by (clusterID, siloID).
// Implementations must make Update a compare-and-set on Version.
type Table interface {
	// ReadAll returns every record of the cluster, dead ones included.
	ReadAll(ctx context.Context, clusterID string) ([]*SiloRecord, error)
	// Read returns one record or ErrSiloNotFound.
	Read(ctx context.Context, clusterID, siloID string) (*SiloRecord, error)
	// Insert adds a new record with Version 1. It fails with ErrSiloAlreadyExists.
	Insert(ctx context.Context, record *SiloRecord) error
	// Update replaces a record when its stored version equals expectedVersion
	// and stores it with expectedVersion+1. Otherwise it returns ErrVersionConflict.
	Update(ctx context.Context, record *SiloRecord, expectedVersion int64) error
	// Heartbeat refreshes LastHeartbeat without touching the version.
	Heartbeat(ctx context.Context, clusterID, siloID string, at time.Time) error
	// Delete removes a record. Missing records are ignored.
	Delete(ctx context.Context, clusterID, siloID string) error
}

// MemoryTable is an in-process Table. Several silos of one process share it
// to simulate a cluster.
type MemoryTable struct {
	mu      sync.RWMutex
	records map[string]map[string]*SiloRecord
}

var _ Table = (*MemoryTable)(nil)

// NewMemoryTable creates an empty MemoryTable.
func NewMemoryTable() *MemoryTable {
	return &MemoryTable{records: make(map[string]map[string]*SiloRecord)}
}

// ReadAll implements Table.
func (t *MemoryTable) ReadAll(ctx context.Context, clusterID string) ([]*SiloRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	records := make([]*SiloRecord, 0, len(t.records[clusterID]))
	for _, record := range t.records[clusterID] {
		records = append(records, record.Clone())
	}
	return records, nil
}

// Read implements Table.
func (t *MemoryTable) Read(ctx context.Context, clusterID, siloID string) (*SiloRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	record, ok := t.records[clusterID][siloID]
	if !ok {
		return nil, gerrors.NewErrSiloNotFound(siloID)
	}
	return record.Clone(), nil
}

// Insert implements Table.
func (t *MemoryTable) Insert(ctx context.Context, record *SiloRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cluster, ok := t.records[record.ClusterID]
	if !ok {
		cluster = make(map[string]*SiloRecord)
		t.records[record.ClusterID] = cluster
	}
	if _, exists := cluster[record.SiloID]; exists {
		return gerrors.ErrSiloAlreadyExists
	}
	stored := record.Clone()
	stored.Version = 1
	cluster[record.SiloID] = stored
	record.Version = 1
	return nil
}

// Update implements Table.
func (t *MemoryTable) Update(ctx context.Context, record *SiloRecord, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	current, ok := t.records[record.ClusterID][record.SiloID]
	if !ok {
		return gerrors.NewErrSiloNotFound(record.SiloID)
	}
	if current.Version != expectedVersion {
		return gerrors.NewErrVersionConflict(record.SiloID, expectedVersion, current.Version)
	}
	stored := record.Clone()
	stored.Version = expectedVersion + 1
	// heartbeats race with versioned updates; keep the most recent one
	if current.LastHeartbeat.After(stored.LastHeartbeat) {
		stored.LastHeartbeat = current.LastHeartbeat
	}
	t.records[record.ClusterID][record.SiloID] = stored
	record.Version = stored.Version
	return nil
}

// Heartbeat implements Table.
func (t *MemoryTable) Heartbeat(ctx context.Context, clusterID, siloID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	record, ok := t.records[clusterID][siloID]
	if !ok {
		return gerrors.NewErrSiloNotFound(siloID)
	}
	if at.After(record.LastHeartbeat) {
		record.LastHeartbeat = at
	}
	return nil
}

// Delete implements Table.
func (t *MemoryTable) Delete(ctx context.Context, clusterID, siloID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records[clusterID], siloID)
	return nil
}
