package store

import (
	"context"
	"fmt"
)

// GenerationRepository persists the process-wide generation counter
// (internal/lifecycle) across restarts.
type GenerationRepository struct {
	db *DB
}

// NewGenerationRepository creates a GenerationRepository.
func NewGenerationRepository(db *DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// Load returns the last persisted generation value, 0 if never advanced.
func (r *GenerationRepository) Load(ctx context.Context) (uint64, error) {
	var v uint64
	err := r.db.QueryRowContext(ctx, `SELECT value FROM generation_counter WHERE id = 1`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("loading generation counter: %w", err)
	}
	return v, nil
}

// Store persists the given generation value.
func (r *GenerationRepository) Store(ctx context.Context, v uint64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE generation_counter SET value = ? WHERE id = 1`, v)
	if err != nil {
		return fmt.Errorf("storing generation counter: %w", err)
	}
	return nil
}
