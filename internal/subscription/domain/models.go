// Package domain contains the subscription model used to find a workspace's plan and billing anchor.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Subscription binds a workspace to a plan. StartedAt is the billing anchor.
type Subscription struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	WorkspaceID snowflake.ID `gorm:"not null;index" json:"workspace_id"`
	PlanID      snowflake.ID `gorm:"not null" json:"plan_id"`
	StartedAt   time.Time    `gorm:"not null" json:"started_at"`
	EndsAt      *time.Time   `json:"ends_at,omitempty"`
	IsActive    bool         `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// ActiveAt reports whether the subscription still grants its plan at t.
func (s Subscription) ActiveAt(t time.Time) bool {
	if !s.IsActive {
		return false
	}
	return s.EndsAt == nil || s.EndsAt.After(t)
}
