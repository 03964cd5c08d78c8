package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/allowance/internal/routefeature/domain"
	"github.com/smallbiznis/allowance/pkg/db/option"
	"github.com/smallbiznis/allowance/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func store(db *gorm.DB) repository.Repository[domain.Mapping] {
	return repository.ProvideStore[domain.Mapping](db)
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, m *domain.Mapping) error {
	return store(db).Create(ctx, m)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Mapping, error) {
	return store(db).FindOne(ctx, &domain.Mapping{ID: id})
}

func (r *repo) FindByOperation(ctx context.Context, db *gorm.DB, operationID, method string) (*domain.Mapping, error) {
	return store(db).FindOne(ctx, &domain.Mapping{OperationID: operationID, Method: method})
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.Mapping, error) {
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Default: "id"}),
		option.ApplyPagination(filter.Page),
	}
	if filter.AfterID != 0 {
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "id",
			Operator: option.GT,
			Value:    filter.AfterID,
		}))
	}
	return store(db).Find(ctx, &domain.Mapping{OperationID: filter.OperationID}, opts...)
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, method string, featureID snowflake.ID, now time.Time) error {
	_, err := store(db).Update(ctx, id, map[string]any{
		"method":     method,
		"feature_id": featureID,
		"updated_at": now,
	})
	return err
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	_, err := store(db).Delete(ctx, id)
	return err
}
