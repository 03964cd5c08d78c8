package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/allowance/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	OperationID string
	AfterID     snowflake.ID
	Page        pagination.Pagination
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, m *Mapping) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Mapping, error)
	// FindByOperation matches (operationID, method) exactly; MethodAny is
	// an ordinary value here.
	FindByOperation(ctx context.Context, db *gorm.DB, operationID, method string) (*Mapping, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Mapping, error)
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, method string, featureID snowflake.ID, now time.Time) error
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
