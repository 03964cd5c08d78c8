package domain

import (
	"context"
	"errors"

	catalogdomain "github.com/smallbiznis/allowance/internal/catalog/domain"
	"github.com/smallbiznis/allowance/internal/operation"
	"github.com/smallbiznis/allowance/pkg/db/pagination"
)

// Resolver maps an operation to the feature it consumes. A nil feature
// means the operation is not metered.
type Resolver interface {
	Resolve(ctx context.Context, op operation.ID, method string) (*catalogdomain.Feature, error)
}

// Service administers mappings. Every write drops the operation from the
// route cache before returning.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Response, error)
	Update(ctx context.Context, id string, req UpdateRequest) (*Response, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Response, error)
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
}

type CreateRequest struct {
	Operation string `json:"operation"`
	Method    string `json:"method"`
	Feature   string `json:"feature"`
}

type UpdateRequest struct {
	Method  *string `json:"method"`
	Feature *string `json:"feature"`
}

type ListRequest struct {
	pagination.Pagination
	Operation string `form:"operation"`
}

type ListResponse struct {
	Items    []Response           `json:"items"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

var (
	ErrInvalidMethod    = errors.New("invalid_method")
	ErrInvalidMappingID = errors.New("invalid_mapping_id")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrEmptyUpdate      = errors.New("empty_update")
	ErrNotFound         = errors.New("route_feature_not_found")
	ErrAlreadyExists    = errors.New("route_feature_already_exists")
)

// IsValidationError reports errors caused by a malformed admin request.
func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidMethod),
		errors.Is(err, ErrInvalidMappingID),
		errors.Is(err, ErrInvalidPageToken),
		errors.Is(err, ErrEmptyUpdate),
		errors.Is(err, operation.ErrInvalidOperation):
		return true
	}
	return false
}
