package domain

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/allowance/internal/catalog/domain"
	"github.com/smallbiznis/allowance/internal/operation"
	routefeaturedomain "github.com/smallbiznis/allowance/internal/routefeature/domain"
)

var (
	ErrInvalidAmount        = errors.New("invalid_amount")
	ErrInvalidWorkspace     = errors.New("invalid_workspace")
	ErrInvalidOperation     = operation.ErrInvalidOperation
	ErrFeatureNotFound      = catalogdomain.ErrFeatureNotFound
	ErrQuotaExceeded        = errors.New("quota_exceeded")
	ErrNoActiveSubscription = errors.New("no_active_subscription")

	// ErrCounterOverflow rejects an amount whose sum with the stored value no
	// longer fits the ledger column.
	ErrCounterOverflow = fmt.Errorf("%w: counter_overflow", ErrInvalidAmount)
)

// QuotaExceededError rejects an amount that would push the counter past the
// plan limit plus extra credit. Nothing was written when it is returned.
type QuotaExceededError struct {
	Feature     string
	Used        decimal.Decimal
	Requested   decimal.Decimal
	Limit       decimal.Decimal
	ExtraCredit decimal.Decimal
}

func (e *QuotaExceededError) Error() string {
	projected := e.Used.Add(e.Requested)
	if e.ExtraCredit.IsPositive() {
		return fmt.Sprintf("usage of %s would reach %s, which exceeds plan limit %s plus extra credit %s",
			e.Feature, projected, e.Limit, e.ExtraCredit)
	}
	return fmt.Sprintf("usage of %s would reach %s, which exceeds plan limit %s", e.Feature, projected, e.Limit)
}

func (e *QuotaExceededError) Unwrap() error { return ErrQuotaExceeded }

// ConfigurationError reports a metered call from a workspace that has no
// active subscription to meter against.
type ConfigurationError struct {
	WorkspaceID snowflake.ID
	Feature     string
}

func (e *ConfigurationError) Error() string {
	if e.Feature == "" {
		return fmt.Sprintf("workspace %s has no active subscription", e.WorkspaceID)
	}
	return fmt.Sprintf("workspace %s has no active subscription to meter %s", e.WorkspaceID, e.Feature)
}

func (e *ConfigurationError) Unwrap() error { return ErrNoActiveSubscription }

// IsValidationError reports errors raised for malformed input before any
// lookup happened.
func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidWorkspace),
		errors.Is(err, ErrInvalidOperation),
		errors.Is(err, routefeaturedomain.ErrInvalidMethod):
		return true
	}
	return false
}
