package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Subscription, error)
	Deactivate(ctx context.Context, id string) (*Subscription, error)
	// GetActive returns nil when the workspace has no active subscription.
	GetActive(ctx context.Context, workspaceID snowflake.ID) (*Subscription, error)
}

type CreateRequest struct {
	WorkspaceID string     `json:"workspace_id"`
	PlanID      string     `json:"plan_id"`
	StartedAt   *time.Time `json:"started_at"`
	EndsAt      *time.Time `json:"ends_at"`
}

var (
	ErrInvalidWorkspace    = errors.New("invalid_workspace")
	ErrInvalidPlan         = errors.New("invalid_plan")
	ErrInvalidSubscription = errors.New("invalid_subscription")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrNotFound            = errors.New("subscription_not_found")
)
