package option

import (
	"strings"

	"github.com/smallbiznis/allowance/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption narrows or orders a gorm statement.
type QueryOption interface {
	Apply(db *gorm.DB) *gorm.DB
}

type queryFunc func(db *gorm.DB) *gorm.DB

func (f queryFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds a single comparison. Field must be a trusted column
// name, never user input.
func ApplyOperator(cond Condition) QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		switch cond.Operator {
		case EQ, GT, GTE, LT, LTE:
			return db.Where(cond.Field+" "+string(cond.Operator)+" ?", cond.Value)
		default:
			return db
		}
	})
}

// QuerySortBy orders by Field when it is in Allow, else by Default.
type QuerySortBy struct {
	Field   string
	Desc    bool
	Default string
	Allow   map[string]bool
}

func WithSortBy(sort QuerySortBy) QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		field := strings.TrimSpace(sort.Field)
		if field == "" || !sort.Allow[field] {
			field = sort.Default
		}
		if field == "" {
			return db
		}
		if sort.Desc {
			return db.Order(field + " DESC")
		}
		return db.Order(field + " ASC")
	})
}

// ApplyPagination fetches one row past the page size so callers can tell
// whether another page exists.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return queryFunc(func(db *gorm.DB) *gorm.DB {
		return db.Limit(page.Size() + 1)
	})
}
