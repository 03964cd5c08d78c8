// Package domain contains the usage ledger: one container per workspace
// billing period and one counter per feature inside it.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// UsageContainer groups a workspace's counters for one billing period. Rows
// are append-only across periods; only the current period's extra credit
// changes after creation.
type UsageContainer struct {
	ID             snowflake.ID    `gorm:"primaryKey"`
	WorkspaceID    snowflake.ID    `gorm:"not null;uniqueIndex:ux_usage_containers_period,priority:1"`
	SubscriptionID snowflake.ID    `gorm:"not null"`
	PeriodStart    time.Time       `gorm:"not null;uniqueIndex:ux_usage_containers_period,priority:2"`
	PeriodEnd      time.Time       `gorm:"not null;uniqueIndex:ux_usage_containers_period,priority:3"`
	ExtraCredit    decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	CreatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (UsageContainer) TableName() string { return "usage_containers" }

// FeatureUsageCounter is the running amount a workspace consumed of one
// feature in one period. It is the only row contended by enforcement.
type FeatureUsageCounter struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	ContainerID snowflake.ID    `gorm:"not null;uniqueIndex:ux_feature_usage_counters_feature,priority:1"`
	FeatureID   snowflake.ID    `gorm:"not null;uniqueIndex:ux_feature_usage_counters_feature,priority:2"`
	Used        decimal.Decimal `gorm:"type:numeric(20,6);not null;default:0"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (FeatureUsageCounter) TableName() string { return "feature_usage_counters" }
