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

package postgres

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	gerrors "github.com/jt7sku/koonti/errors"
	"github.com/jt7sku/koonti/membership"
)

var membershipColumns = []string{
	"cluster_id",
	"silo_id",
	"name",
	"address",
	"gateway_address",
	"generation",
	"status",
	"started_at",
	"last_heartbeat",
	"suspicions",
	"version",
}

type siloRow struct {
	ClusterID      string                 `db:"cluster_id"`
	SiloID         string                 `db:"silo_id"`
	Name           string                 `db:"name"`
	Address        string                 `db:"address"`
	GatewayAddress string                 `db:"gateway_address"`
	Generation     int64                  `db:"generation"`
	Status         int                    `db:"status"`
	StartedAt      time.Time              `db:"started_at"`
	LastHeartbeat  time.Time              `db:"last_heartbeat"`
	Suspicions     []membership.Suspicion `db:"suspicions"`
	Version        int64                  `db:"version"`
}

func (r *siloRow) record() *membership.SiloRecord {
	return &membership.SiloRecord{
		ClusterID:      r.ClusterID,
		SiloID:         r.SiloID,
		Name:           r.Name,
		Address:        r.Address,
		GatewayAddress: r.GatewayAddress,
		Generation:     r.Generation,
		Status:         membership.Status(r.Status),
		StartedAt:      r.StartedAt.UTC(),
		LastHeartbeat:  r.LastHeartbeat.UTC(),
		Suspicions:     r.Suspicions,
		Version:        r.Version,
	}
}

// MembershipTable is a membership.Table on the koonti_membership table.
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
	var rows []*siloRow
	if err := t.db.selectAll(ctx, &rows, t.db.sb.
		Select(membershipColumns...).
		From(membershipTable).
		Where(sq.Eq{"cluster_id": clusterID}).
		OrderBy("silo_id")); err != nil {
		return nil, err
	}
	records := make([]*membership.SiloRecord, len(rows))
	for index, row := range rows {
		records[index] = row.record()
	}
	return records, nil
}

// Read implements membership.Table.
func (t *MembershipTable) Read(ctx context.Context, clusterID, siloID string) (*membership.SiloRecord, error) {
	row := new(siloRow)
	found, err := t.db.selectOne(ctx, row, t.db.sb.
		Select(membershipColumns...).
		From(membershipTable).
		Where(bySilo(clusterID, siloID)))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, gerrors.NewErrSiloNotFound(siloID)
	}
	return row.record(), nil
}

// Insert implements membership.Table.
func (t *MembershipTable) Insert(ctx context.Context, record *membership.SiloRecord) error {
	affected, err := t.db.exec(ctx, t.db.sb.
		Insert(membershipTable).
		Columns(membershipColumns...).
		Values(
			record.ClusterID,
			record.SiloID,
			record.Name,
			record.Address,
			record.GatewayAddress,
			record.Generation,
			int(record.Status),
			record.StartedAt,
			record.LastHeartbeat,
			suspicions(record),
			1,
		).
		Suffix("ON CONFLICT (cluster_id, silo_id) DO NOTHING"))
	if err != nil {
		return err
	}
	if affected == 0 {
		return gerrors.ErrSiloAlreadyExists
	}
	record.Version = 1
	return nil
}

// Update implements membership.Table.
func (t *MembershipTable) Update(ctx context.Context, record *membership.SiloRecord, expectedVersion int64) error {
	affected, err := t.db.exec(ctx, t.db.sb.
		Update(membershipTable).
		Set("name", record.Name).
		Set("address", record.Address).
		Set("gateway_address", record.GatewayAddress).
		Set("generation", record.Generation).
		Set("status", int(record.Status)).
		Set("started_at", record.StartedAt).
		Set("last_heartbeat", sq.Expr("GREATEST(last_heartbeat, ?)", record.LastHeartbeat)).
		Set("suspicions", suspicions(record)).
		Set("version", expectedVersion+1).
		Where(bySilo(record.ClusterID, record.SiloID)).
		Where(sq.Eq{"version": expectedVersion}))
	if err != nil {
		return err
	}
	if affected == 0 {
		current, err := t.Read(ctx, record.ClusterID, record.SiloID)
		if err != nil {
			return err
		}
		return gerrors.NewErrVersionConflict(record.SiloID, expectedVersion, current.Version)
	}
	record.Version = expectedVersion + 1
	return nil
}

// Heartbeat implements membership.Table.
func (t *MembershipTable) Heartbeat(ctx context.Context, clusterID, siloID string, at time.Time) error {
	affected, err := t.db.exec(ctx, t.db.sb.
		Update(membershipTable).
		Set("last_heartbeat", sq.Expr("GREATEST(last_heartbeat, ?)", at)).
		Where(bySilo(clusterID, siloID)))
	if err != nil {
		return err
	}
	if affected == 0 {
		return gerrors.NewErrSiloNotFound(siloID)
	}
	return nil
}

// Delete implements membership.Table.
func (t *MembershipTable) Delete(ctx context.Context, clusterID, siloID string) error {
	_, err := t.db.exec(ctx, t.db.sb.
		Delete(membershipTable).
		Where(bySilo(clusterID, siloID)))
	return err
}

func bySilo(clusterID, siloID string) sq.Eq {
	return sq.Eq{"cluster_id": clusterID, "silo_id": siloID}
}

// suspicions never returns nil so the column stays a JSON array.
func suspicions(record *membership.SiloRecord) []membership.Suspicion {
	if record.Suspicions == nil {
		return []membership.Suspicion{}
	}
	return record.Suspicions
}
