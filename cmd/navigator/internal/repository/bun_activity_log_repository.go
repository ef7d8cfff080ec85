package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/db/models"
	"github.com/Torfer26/bvg-order-navigator-sub001/cmd/navigator/internal/identity"
)

// BunActivityLogRepository implements ActivityLogRepository using Bun ORM
type BunActivityLogRepository struct {
	db *bun.DB
}

// NewBunActivityLogRepository creates a new Bun-based activity log repository
func NewBunActivityLogRepository(db *bun.DB) *BunActivityLogRepository {
	return &BunActivityLogRepository{db: db}
}

// Append inserts an audit entry
func (r *BunActivityLogRepository) Append(ctx context.Context, entry *models.ActivityLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.UserEmail = identity.NormalizeEmail(entry.UserEmail)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.NewInsert().
		Model(entry).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// ListByEmail returns the most recent entries for an email, newest first
func (r *BunActivityLogRepository) ListByEmail(ctx context.Context, email string, limit int) ([]models.ActivityLogEntry, error) {
	var entries []models.ActivityLogEntry
	q := r.db.NewSelect().
		Model(&entries).
		Where("user_email = ?", identity.NormalizeEmail(email)).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	return entries, nil
}
