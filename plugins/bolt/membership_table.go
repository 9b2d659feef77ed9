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

package bolt

import (
	"bytes"
	"context"
	"time"

	"go.etcd.io/bbolt"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/internal/codec"
	"github.com/jt7sku/koonti/membership"
)

// MembershipTable is a membership.Table backed by bbolt.
type MembershipTable struct {
	db *DB
}

var _ membership.Table = (*MembershipTable)(nil)

// NewMembershipTable creates a MembershipTable on db.
func NewMembershipTable(db *DB) *MembershipTable {
	return &MembershipTable{db: db}
}

// ReadAll implements membership.Table.
func (t *MembershipTable) ReadAll(ctx context.Context, clusterID string) ([]*membership.SiloRecord, error) {
	var records []*membership.SiloRecord
	err := t.db.view(ctx, func(tx *bbolt.Tx) error {
		b, err := bucket(tx, membershipBucket)
		if err != nil {
			return err
		}
		prefix := []byte(clusterID + "/")
		cursor := b.Cursor()
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			record := new(membership.SiloRecord)
			if err := codec.Unmarshal(v, record); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

// Read implements membership.Table.
func (t *MembershipTable) Read(ctx context.Context, clusterID, siloID string) (*membership.SiloRecord, error) {
	var record *membership.SiloRecord
	err := t.db.view(ctx, func(tx *bbolt.Tx) error {
		var err error
		record, err = t.get(tx, clusterID, siloID)
		return err
	})
	return record, err
}

// Insert implements membership.Table.
func (t *MembershipTable) Insert(ctx context.Context, record *membership.SiloRecord) error {
	return t.db.update(ctx, func(tx *bbolt.Tx) error {
		if _, err := t.get(tx, record.ClusterID, record.SiloID); err == nil {
			return gerrors.ErrSiloAlreadyExists
		}
		stored := record.Clone()
		stored.Version = 1
		if err := t.put(tx, stored); err != nil {
			return err
		}
		record.Version = 1
		return nil
	})
}

// Update implements membership.Table.
func (t *MembershipTable) Update(ctx context.Context, record *membership.SiloRecord, expectedVersion int64) error {
	return t.db.update(ctx, func(tx *bbolt.Tx) error {
		current, err := t.get(tx, record.ClusterID, record.SiloID)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return gerrors.NewErrVersionConflict(record.SiloID, expectedVersion, current.Version)
		}
		stored := record.Clone()
		stored.Version = expectedVersion + 1
		if current.LastHeartbeat.After(stored.LastHeartbeat) {
			stored.LastHeartbeat = current.LastHeartbeat
		}
		if err := t.put(tx, stored); err != nil {
			return err
		}
		record.Version = stored.Version
		return nil
	})
}

// Heartbeat implements membership.Table.
func (t *MembershipTable) Heartbeat(ctx context.Context, clusterID, siloID string, at time.Time) error {
	return t.db.update(ctx, func(tx *bbolt.Tx) error {
		current, err := t.get(tx, clusterID, siloID)
		if err != nil {
			return err
		}
		if !at.After(current.LastHeartbeat) {
			return nil
		}
		current.LastHeartbeat = at
		return t.put(tx, current)
	})
}

// Delete implements membership.Table.
func (t *MembershipTable) Delete(ctx context.Context, clusterID, siloID string) error {
	return t.db.update(ctx, func(tx *bbolt.Tx) error {
		b, err := bucket(tx, membershipBucket)
		if err != nil {
			return err
		}
		return b.Delete(siloKey(clusterID, siloID))
	})
}

func (t *MembershipTable) get(tx *bbolt.Tx, clusterID, siloID string) (*membership.SiloRecord, error) {
	b, err := bucket(tx, membershipBucket)
	if err != nil {
		return nil, err
	}
	raw := b.Get(siloKey(clusterID, siloID))
	if raw == nil {
		return nil, gerrors.NewErrSiloNotFound(siloID)
	}
	record := new(membership.SiloRecord)
	if err := codec.Unmarshal(raw, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (t *MembershipTable) put(tx *bbolt.Tx, record *membership.SiloRecord) error {
	b, err := bucket(tx, membershipBucket)
	if err != nil {
		return err
	}
	raw, err := codec.Marshal(record)
	if err != nil {
		return err
	}
	return b.Put(siloKey(record.ClusterID, record.SiloID), raw)
}

func siloKey(clusterID, siloID string) []byte {
	return []byte(clusterID + "/" + siloID)
}
