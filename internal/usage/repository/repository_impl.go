package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/allowance/internal/usage/domain"
	"github.com/smallbiznis/allowance/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindContainer(ctx context.Context, conn *gorm.DB, workspaceID snowflake.ID, start, end time.Time) (*domain.UsageContainer, error) {
	var c domain.UsageContainer
	err := conn.WithContext(ctx).Raw(
		`SELECT id, workspace_id, subscription_id, period_start, period_end, extra_credit, created_at, updated_at
		 FROM usage_containers
		 WHERE workspace_id = ? AND period_start = ? AND period_end = ?`,
		workspaceID,
		start,
		end,
	).Scan(&c).Error
	if err != nil {
		return nil, err
	}
	if c.ID == 0 {
		return nil, nil
	}
	return &c, nil
}

func (r *repo) InsertContainer(ctx context.Context, conn *gorm.DB, c *domain.UsageContainer) error {
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(c).Error
}

func (r *repo) GetContainer(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.UsageContainer, error) {
	var c domain.UsageContainer
	err := conn.WithContext(ctx).Raw(
		`SELECT id, workspace_id, subscription_id, period_start, period_end, extra_credit, created_at, updated_at
		 FROM usage_containers WHERE id = ?`,
		id,
	).Scan(&c).Error
	if err != nil {
		return nil, err
	}
	if c.ID == 0 {
		return nil, nil
	}
	return &c, nil
}

func (r *repo) LockContainer(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.UsageContainer, error) {
	var c domain.UsageContainer
	if err := lockedByID(ctx, conn, id).Take(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *repo) UpdateExtraCredit(ctx context.Context, conn *gorm.DB, id snowflake.ID, extraCredit decimal.Decimal, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE usage_containers SET extra_credit = ?, updated_at = ? WHERE id = ?`,
		extraCredit,
		now,
		id,
	).Error
}

func (r *repo) FindCounter(ctx context.Context, conn *gorm.DB, containerID, featureID snowflake.ID) (*domain.FeatureUsageCounter, error) {
	var c domain.FeatureUsageCounter
	err := conn.WithContext(ctx).Raw(
		`SELECT id, container_id, feature_id, used, created_at, updated_at
		 FROM feature_usage_counters
		 WHERE container_id = ? AND feature_id = ?`,
		containerID,
		featureID,
	).Scan(&c).Error
	if err != nil {
		return nil, err
	}
	if c.ID == 0 {
		return nil, nil
	}
	return &c, nil
}

func (r *repo) InsertCounter(ctx context.Context, conn *gorm.DB, c *domain.FeatureUsageCounter) error {
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(c).Error
}

func (r *repo) LockCounter(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.FeatureUsageCounter, error) {
	var c domain.FeatureUsageCounter
	if err := lockedByID(ctx, conn, id).Take(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (r *repo) UpdateCounterUsed(ctx context.Context, conn *gorm.DB, id snowflake.ID, used decimal.Decimal, now time.Time) error {
	return conn.WithContext(ctx).Exec(
		`UPDATE feature_usage_counters SET used = ?, updated_at = ? WHERE id = ?`,
		used,
		now,
		id,
	).Error
}

func (r *repo) ListCounters(ctx context.Context, conn *gorm.DB, containerID snowflake.ID) ([]domain.FeatureUsageCounter, error) {
	var items []domain.FeatureUsageCounter
	if err := conn.WithContext(ctx).
		Where("container_id = ?", containerID).
		Order("id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// lockedByID selects by primary key with FOR UPDATE on dialects that have
// row locks. SQLite already serializes writers per database.
func lockedByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) *gorm.DB {
	stmt := conn.WithContext(ctx).Where("id = ?", id)
	if db.SupportsRowLocks(conn) {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return stmt
}
