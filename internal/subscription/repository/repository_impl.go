package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/allowance/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (id, workspace_id, plan_id, started_at, ends_at, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.WorkspaceID,
		sub.PlanID,
		sub.StartedAt,
		sub.EndsAt,
		sub.IsActive,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, workspace_id, plan_id, started_at, ends_at, is_active, created_at, updated_at
		 FROM subscriptions WHERE id = ?`,
		id,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) FindActiveByWorkspace(ctx context.Context, db *gorm.DB, workspaceID snowflake.ID, now time.Time) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, workspace_id, plan_id, started_at, ends_at, is_active, created_at, updated_at
		 FROM subscriptions
		 WHERE workspace_id = ? AND is_active = ? AND (ends_at IS NULL OR ends_at > ?)
		 ORDER BY started_at DESC
		 LIMIT 1`,
		workspaceID,
		true,
		now,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) DeactivateByWorkspace(ctx context.Context, db *gorm.DB, workspaceID snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET is_active = ?, updated_at = ? WHERE workspace_id = ? AND is_active = ?`,
		false,
		now,
		workspaceID,
		true,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET is_active = ?, ends_at = COALESCE(ends_at, ?), updated_at = ? WHERE id = ?`,
		false,
		now,
		now,
		id,
	).Error
}
