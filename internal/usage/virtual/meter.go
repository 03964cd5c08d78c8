// Package virtual meters operations that never pass through the HTTP
// router, such as background jobs and webhook handlers.
package virtual

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	obslogger "github.com/smallbiznis/allowance/internal/observability/logger"
	"github.com/smallbiznis/allowance/internal/operation"
	"github.com/smallbiznis/allowance/internal/quantity"
	routefeaturedomain "github.com/smallbiznis/allowance/internal/routefeature/domain"
	"github.com/smallbiznis/allowance/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Usage domain.Service
	Log   *zap.Logger
}

// Meter records synthetic operations against the same ledger as HTTP
// traffic. Mappings for virtual operations use the wildcard method.
type Meter struct {
	usage domain.Service
	log   *zap.Logger
}

func NewMeter(p Params) *Meter {
	return &Meter{
		usage: p.Usage,
		log:   p.Log.Named("usage.virtual"),
	}
}

// Record enforces and records amount, returning quota and configuration
// errors to the caller.
func (m *Meter) Record(ctx context.Context, workspaceID snowflake.ID, op operation.ID, amount decimal.Decimal) (*domain.EnforceResult, error) {
	return m.usage.EnforceAndRecord(ctx, domain.EnforceRequest{
		WorkspaceID: workspaceID,
		Operation:   op,
		Method:      routefeaturedomain.MethodAny,
		Amount:      amount,
	})
}

// RecordBestEffort is for call sites whose work already happened, like a
// finished call. Failures are logged and reported as false.
func (m *Meter) RecordBestEffort(ctx context.Context, workspaceID snowflake.ID, op operation.ID, amount decimal.Decimal) bool {
	if _, err := m.Record(ctx, workspaceID, op, amount); err != nil {
		m.log.Warn("virtual usage not recorded",
			obslogger.Workspace(workspaceID.String()),
			obslogger.Operation(op.String()),
			zap.String("amount", amount.String()),
			zap.Error(err),
		)
		return false
	}
	return true
}

// MinutesFromSeconds converts an elapsed duration to fractional minutes
// rounded to the ledger precision.
func MinutesFromSeconds(seconds int64) decimal.Decimal {
	return decimal.NewFromInt(seconds).DivRound(decimal.NewFromInt(60), quantity.Scale)
}
