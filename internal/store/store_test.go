package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestOpenAndMigrate(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	dbPath := filepath.Join(dir, "chaosgarden.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file was not created")
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	for _, table := range []string{"schema_migrations", "participants", "latent_audit", "generation_counter"} {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
			t.Errorf("checking table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s not found", table)
		}
	}
}

func TestParticipantRepositoryUpsertAndList(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	repo := NewParticipantRepository(db)
	ctx := context.Background()
	id := uuid.New()
	row := ParticipantRow{
		ID:            id,
		Label:         "fiddle-1",
		Serial:        "abc123",
		Capabilities:  []string{"audio-in", "midi-out"},
		Online:        true,
		LastHeartbeat: time.Now(),
		CreatedAt:     time.Now(),
		CreatedGen:    1,
	}
	if err := repo.Upsert(ctx, row); err != nil {
		t.Fatalf("Upsert() error: %v", err)
	}

	row.Online = false
	if err := repo.Upsert(ctx, row); err != nil {
		t.Fatalf("second Upsert() error: %v", err)
	}

	all, err := repo.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll() error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("ListAll() returned %d rows, want 1", len(all))
	}
	if all[0].ID != id || all[0].Online {
		t.Errorf("ListAll()[0] = %+v, want id=%s online=false", all[0], id)
	}
	if len(all[0].Capabilities) != 2 {
		t.Errorf("Capabilities = %v, want 2 entries", all[0].Capabilities)
	}
}

func TestLatentAuditRepositoryAppendAndByRegion(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	repo := NewLatentAuditRepository(db)
	ctx := context.Background()
	regionID := uuid.New()
	decider := uuid.New()

	if err := repo.Append(ctx, AuditRow{RegionID: regionID, DecidedBy: decider, DecidedAt: time.Now(), Approved: true}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}
	if err := repo.Append(ctx, AuditRow{RegionID: regionID, DecidedBy: decider, DecidedAt: time.Now(), Approved: false, Reason: "too noisy"}); err != nil {
		t.Fatalf("second Append() error: %v", err)
	}

	entries, err := repo.ByRegion(ctx, regionID)
	if err != nil {
		t.Fatalf("ByRegion() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ByRegion() returned %d entries, want 2", len(entries))
	}
	if entries[1].Reason != "too noisy" {
		t.Errorf("entries[1].Reason = %q, want %q", entries[1].Reason, "too noisy")
	}
}

func TestGenerationRepositoryLoadAndStore(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	repo := NewGenerationRepository(db)
	ctx := context.Background()

	v, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if v != 0 {
		t.Errorf("initial Load() = %d, want 0", v)
	}

	if err := repo.Store(ctx, 42); err != nil {
		t.Fatalf("Store() error: %v", err)
	}
	v, err = repo.Load(ctx)
	if err != nil {
		t.Fatalf("second Load() error: %v", err)
	}
	if v != 42 {
		t.Errorf("Load() after Store(42) = %d, want 42", v)
	}
}
