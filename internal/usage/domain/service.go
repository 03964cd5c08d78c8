package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/allowance/internal/operation"
)

type Service interface {
	// EnforceAndRecord admits and records amount against the feature mapped
	// to the operation, or fails with *QuotaExceededError without writing.
	EnforceAndRecord(ctx context.Context, req EnforceRequest) (*EnforceResult, error)
	GetFeatureUsageStatus(ctx context.Context, workspaceID snowflake.ID, featureName string) (*FeatureUsageStatus, error)
	ListUsageStatus(ctx context.Context, workspaceID snowflake.ID) (*UsageSummary, error)
	AddExtraCredit(ctx context.Context, workspaceID snowflake.ID, amount decimal.Decimal) (*ExtraCreditResult, error)
}

type EnforceRequest struct {
	WorkspaceID snowflake.ID
	Operation   operation.ID
	Method      string
	Amount      decimal.Decimal
}

// EnforceResult describes an admitted call. Metered is false when the
// operation is not mapped to a feature.
type EnforceResult struct {
	Metered     bool             `json:"metered"`
	Feature     string           `json:"feature,omitempty"`
	Used        decimal.Decimal  `json:"used"`
	Limit       *decimal.Decimal `json:"limit"`
	Remaining   *decimal.Decimal `json:"remaining"`
	ExtraCredit decimal.Decimal  `json:"extra_credit"`
	Unlimited   bool             `json:"unlimited"`
	PeriodStart time.Time        `json:"period_start,omitempty"`
	PeriodEnd   time.Time        `json:"period_end,omitempty"`
}

type FeatureUsageStatus struct {
	Feature     string           `json:"feature"`
	Unit        string           `json:"unit"`
	Used        decimal.Decimal  `json:"used"`
	Limit       *decimal.Decimal `json:"limit"`
	Remaining   *decimal.Decimal `json:"remaining"`
	ExtraCredit decimal.Decimal  `json:"extra_credit"`
	Unlimited   bool             `json:"unlimited"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
}

type UsageSummary struct {
	WorkspaceID    string               `json:"workspace_id"`
	SubscriptionID string               `json:"subscription_id"`
	PeriodStart    time.Time            `json:"period_start"`
	PeriodEnd      time.Time            `json:"period_end"`
	ExtraCredit    decimal.Decimal      `json:"extra_credit"`
	Features       []FeatureUsageStatus `json:"features"`
}

type ExtraCreditResult struct {
	WorkspaceID string          `json:"workspace_id"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	ExtraCredit decimal.Decimal `json:"extra_credit"`
}

// Remaining returns max(limit - used, 0), or nil for an unlimited feature.
func Remaining(limit *decimal.Decimal, used decimal.Decimal) *decimal.Decimal {
	if limit == nil {
		return nil
	}
	rem := limit.Sub(used)
	if rem.IsNegative() {
		rem = decimal.Zero
	}
	return &rem
}
