package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/allowance/internal/operation"
	usagedomain "github.com/smallbiznis/allowance/internal/usage/domain"
	"github.com/smallbiznis/allowance/internal/workspacectx"
)

type recordUsageRequest struct {
	WorkspaceID string          `json:"workspace_id"`
	Operation   string          `json:"operation"`
	Method      string          `json:"method"`
	Amount      decimal.Decimal `json:"amount"`
}

type extraCreditRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (s *Server) ListUsage(c *gin.Context) {
	workspaceID, ok := workspacectx.WorkspaceIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, usagedomain.ErrInvalidWorkspace)
		return
	}

	resp, err := s.usagesvc.ListUsageStatus(c.Request.Context(), workspaceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetFeatureUsage(c *gin.Context) {
	workspaceID, ok := workspacectx.WorkspaceIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, usagedomain.ErrInvalidWorkspace)
		return
	}

	resp, err := s.usagesvc.GetFeatureUsageStatus(c.Request.Context(), workspaceID, strings.TrimSpace(c.Param("feature")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

// RecordUsage lets out-of-process callers meter an operation. Virtual
// operations go through the wildcard method.
func (s *Server) RecordUsage(c *gin.Context) {
	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	workspaceID, ok := workspacectx.ParseWorkspaceID(req.WorkspaceID)
	if !ok {
		AbortWithError(c, usagedomain.ErrInvalidWorkspace)
		return
	}
	op, err := operation.Parse(req.Operation)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var result *usagedomain.EnforceResult
	if op.IsVirtual() {
		result, err = s.meter.Record(c.Request.Context(), workspaceID, op, req.Amount)
	} else {
		result, err = s.usagesvc.EnforceAndRecord(c.Request.Context(), usagedomain.EnforceRequest{
			WorkspaceID: workspaceID,
			Operation:   op,
			Method:      strings.ToUpper(strings.TrimSpace(req.Method)),
			Amount:      req.Amount,
		})
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) AddExtraCredit(c *gin.Context) {
	workspaceID, ok := workspacectx.ParseWorkspaceID(c.Param("id"))
	if !ok {
		AbortWithError(c, usagedomain.ErrInvalidWorkspace)
		return
	}

	var req extraCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.usagesvc.AddExtraCredit(c.Request.Context(), workspaceID, req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
