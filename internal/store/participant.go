package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ParticipantRow is the durable row shape for one participant, independent
// of internal/participant's in-memory Participant type so this package
// never needs to import it (store is a leaf package; the daemon's wiring
// layer translates between the two).
type ParticipantRow struct {
	ID               uuid.UUID
	Label            string
	Serial           string
	USBVendorProduct string
	MACAddress       string
	UserLabel        string
	Capabilities     []string
	Online           bool
	LastHeartbeat    time.Time
	CreatedAt        time.Time
	CreatedGen       uint64
	TombstonedAt     *time.Time
	TombstonedGen    uint64
}

// ParticipantRepository persists participant registry state across daemon
// restarts.
type ParticipantRepository struct {
	db *DB
}

// NewParticipantRepository creates a ParticipantRepository.
func NewParticipantRepository(db *DB) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// Upsert inserts or replaces one participant row.
func (r *ParticipantRepository) Upsert(ctx context.Context, p ParticipantRow) error {
	var tombstonedAt any
	if p.TombstonedAt != nil {
		tombstonedAt = *p.TombstonedAt
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO participants (id, label, serial, usb_vendor_product, mac_address, user_label,
		 capabilities, online, last_heartbeat, created_at, created_gen, tombstoned_at, tombstoned_gen)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   label=excluded.label, serial=excluded.serial, usb_vendor_product=excluded.usb_vendor_product,
		   mac_address=excluded.mac_address, user_label=excluded.user_label, capabilities=excluded.capabilities,
		   online=excluded.online, last_heartbeat=excluded.last_heartbeat,
		   tombstoned_at=excluded.tombstoned_at, tombstoned_gen=excluded.tombstoned_gen`,
		p.ID.String(), p.Label, p.Serial, p.USBVendorProduct, p.MACAddress, p.UserLabel,
		strings.Join(p.Capabilities, ","), p.Online, p.LastHeartbeat,
		p.CreatedAt, p.CreatedGen, tombstonedAt, p.TombstonedGen,
	)
	if err != nil {
		return fmt.Errorf("upserting participant: %w", err)
	}
	return nil
}

// ListAll returns every persisted participant, for seeding the in-memory
// registry at boot.
func (r *ParticipantRepository) ListAll(ctx context.Context) ([]ParticipantRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, label, serial, usb_vendor_product, mac_address, user_label, capabilities,
		 online, last_heartbeat, created_at, created_gen, tombstoned_at, tombstoned_gen
		 FROM participants`)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var out []ParticipantRow
	for rows.Next() {
		var p ParticipantRow
		var id, caps string
		var tombstonedAt *time.Time
		if err := rows.Scan(&id, &p.Label, &p.Serial, &p.USBVendorProduct, &p.MACAddress, &p.UserLabel,
			&caps, &p.Online, &p.LastHeartbeat, &p.CreatedAt, &p.CreatedGen, &tombstonedAt, &p.TombstonedGen); err != nil {
			return nil, fmt.Errorf("scanning participant row: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing participant id %q: %w", id, err)
		}
		p.ID = parsed
		if caps != "" {
			p.Capabilities = strings.Split(caps, ",")
		}
		p.TombstonedAt = tombstonedAt
		out = append(out, p)
	}
	return out, rows.Err()
}
