package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	obscontext "github.com/smallbiznis/allowance/internal/observability/context"
	obslogger "github.com/smallbiznis/allowance/internal/observability/logger"
	"github.com/smallbiznis/allowance/internal/operation"
	usagedomain "github.com/smallbiznis/allowance/internal/usage/domain"
	"github.com/smallbiznis/allowance/internal/workspacectx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const HeaderWorkspace = "X-Workspace-Id"

const (
	outcomeAllowed        = "allowed"
	outcomeDenied         = "denied"
	outcomeNoSubscription = "no_subscription"
)

var requestAmount = decimal.NewFromInt(1)

// ResolveWorkspace reads the workspace from X-Workspace-Id. Requests without
// the header continue unscoped.
func (s *Server) ResolveWorkspace() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderWorkspace))
		if raw == "" {
			c.Next()
			return
		}

		workspaceID, ok := workspacectx.ParseWorkspaceID(raw)
		if !ok {
			AbortWithError(c, newValidationError("workspace_id", "invalid_workspace", "invalid workspace id"))
			return
		}

		ctx := workspacectx.WithWorkspaceID(c.Request.Context(), workspaceID)
		ctx = obscontext.WithWorkspaceID(ctx, workspaceID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// EnforceQuota meters one unit of the feature mapped to the matched route
// before the handler runs. Unscoped and unmatched requests pass through.
func (s *Server) EnforceQuota() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		workspaceID, ok := workspacectx.WorkspaceIDFromContext(c.Request.Context())
		if !ok || route == "" {
			c.Next()
			return
		}

		result, err := s.usagesvc.EnforceAndRecord(c.Request.Context(), usagedomain.EnforceRequest{
			WorkspaceID: workspaceID,
			Operation:   operation.Route(route),
			Method:      c.Request.Method,
			Amount:      requestAmount,
		})
		if err != nil {
			var quotaErr *usagedomain.QuotaExceededError
			var cfgErr *usagedomain.ConfigurationError
			switch {
			case errors.As(err, &quotaErr):
				c.Set(obslogger.ContextKeyFeature, quotaErr.Feature)
				c.Set(obslogger.ContextKeyOutcome, outcomeDenied)
				s.httpMetrics.RecordQuotaDenial(route, quotaErr.Feature)
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "quota_exceeded",
					"feature": quotaErr.Feature,
					"used":    quotaErr.Used.String(),
					"limit":   quotaErr.Limit.String(),
				})
			case errors.As(err, &cfgErr):
				c.Set(obslogger.ContextKeyFeature, cfgErr.Feature)
				c.Set(obslogger.ContextKeyOutcome, outcomeNoSubscription)
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error": "no_active_subscription",
				})
			default:
				AbortWithError(c, err)
			}
			return
		}

		if result.Metered {
			c.Set(obslogger.ContextKeyFeature, result.Feature)
			c.Set(obslogger.ContextKeyOutcome, outcomeAllowed)
		}
		c.Next()
	}
}

// AdminTokenRequired guards admin and internal routes with a bearer token
// checked against ADMIN_TOKEN_HASH. The routes answer 404 when no hash is
// configured.
func (s *Server) AdminTokenRequired() gin.HandlerFunc {
	hash := []byte(strings.TrimSpace(s.cfg.AdminTokenHash))
	return func(c *gin.Context) {
		if len(hash) == 0 {
			AbortWithError(c, ErrNotFound)
			return
		}

		header := strings.TrimSpace(c.GetHeader("Authorization"))
		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		if err := bcrypt.CompareHashAndPassword(hash, []byte(parts[1])); err != nil {
			if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
				s.log.Error("admin token hash unusable", zap.Error(err))
			}
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}
