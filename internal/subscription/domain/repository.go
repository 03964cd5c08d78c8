package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindActiveByWorkspace(ctx context.Context, db *gorm.DB, workspaceID snowflake.ID, now time.Time) (*Subscription, error)
	DeactivateByWorkspace(ctx context.Context, db *gorm.DB, workspaceID snowflake.ID, now time.Time) (int64, error)
	Deactivate(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
}
