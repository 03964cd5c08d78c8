package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	FindContainer(ctx context.Context, db *gorm.DB, workspaceID snowflake.ID, start, end time.Time) (*UsageContainer, error)
	// InsertContainer is a no-op when the (workspace, period) row exists.
	InsertContainer(ctx context.Context, db *gorm.DB, c *UsageContainer) error
	GetContainer(ctx context.Context, db *gorm.DB, id snowflake.ID) (*UsageContainer, error)
	LockContainer(ctx context.Context, db *gorm.DB, id snowflake.ID) (*UsageContainer, error)
	UpdateExtraCredit(ctx context.Context, db *gorm.DB, id snowflake.ID, extraCredit decimal.Decimal, now time.Time) error

	FindCounter(ctx context.Context, db *gorm.DB, containerID, featureID snowflake.ID) (*FeatureUsageCounter, error)
	// InsertCounter is a no-op when the (container, feature) row exists.
	InsertCounter(ctx context.Context, db *gorm.DB, c *FeatureUsageCounter) error
	// LockCounter reads the counter under an exclusive row lock where the
	// dialect supports one. It must run inside a transaction.
	LockCounter(ctx context.Context, db *gorm.DB, id snowflake.ID) (*FeatureUsageCounter, error)
	UpdateCounterUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, used decimal.Decimal, now time.Time) error
	ListCounters(ctx context.Context, db *gorm.DB, containerID snowflake.ID) ([]FeatureUsageCounter, error)
}
