package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditRow is one durable approval/rejection decision against a latent
// region, mirroring region.ApprovalRecord but decoupled from the region
// package so store stays a leaf dependency.
type AuditRow struct {
	RegionID  uuid.UUID
	DecidedBy uuid.UUID
	DecidedAt time.Time
	Approved  bool
	Reason    string
}

// LatentAuditRepository persists the latent approval audit trail.
type LatentAuditRepository struct {
	db *DB
}

// NewLatentAuditRepository creates a LatentAuditRepository.
func NewLatentAuditRepository(db *DB) *LatentAuditRepository {
	return &LatentAuditRepository{db: db}
}

// Append records one decision.
func (r *LatentAuditRepository) Append(ctx context.Context, a AuditRow) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO latent_audit (region_id, decided_by, decided_at, approved, reason)
		 VALUES (?, ?, ?, ?, ?)`,
		a.RegionID.String(), a.DecidedBy.String(), a.DecidedAt, a.Approved, a.Reason,
	)
	if err != nil {
		return fmt.Errorf("inserting latent audit row: %w", err)
	}
	return nil
}

// ByRegion returns the audit trail for one region, oldest first.
func (r *LatentAuditRepository) ByRegion(ctx context.Context, regionID uuid.UUID) ([]AuditRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT region_id, decided_by, decided_at, approved, reason
		 FROM latent_audit WHERE region_id = ? ORDER BY id ASC`, regionID.String())
	if err != nil {
		return nil, fmt.Errorf("querying latent audit: %w", err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var a AuditRow
		var regionID, decidedBy string
		if err := rows.Scan(&regionID, &decidedBy, &a.DecidedAt, &a.Approved, &a.Reason); err != nil {
			return nil, fmt.Errorf("scanning latent audit row: %w", err)
		}
		rid, err := uuid.Parse(regionID)
		if err != nil {
			return nil, fmt.Errorf("parsing region id %q: %w", regionID, err)
		}
		did, err := uuid.Parse(decidedBy)
		if err != nil {
			return nil, fmt.Errorf("parsing decided_by %q: %w", decidedBy, err)
		}
		a.RegionID = rid
		a.DecidedBy = did
		out = append(out, a)
	}
	return out, rows.Err()
}
