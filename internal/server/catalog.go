package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	catalogdomain "github.com/smallbiznis/allowance/internal/catalog/domain"
)

type setLimitRequest struct {
	Limit *decimal.Decimal `json:"limit"`
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req catalogdomain.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.catalogSvc.CreatePlan(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) CreateFeature(c *gin.Context) {
	var req catalogdomain.CreateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.catalogSvc.CreateFeature(c.Request.Context(), catalogdomain.CreateFeatureRequest{
		Name:        strings.TrimSpace(req.Name),
		Unit:        catalogdomain.Unit(strings.TrimSpace(string(req.Unit))),
		Description: trimOptional(req.Description),
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) SetPlanFeatureLimit(c *gin.Context) {
	var req setLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.Limit == nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit is required"))
		return
	}

	resp, err := s.catalogSvc.SetPlanFeatureLimit(c.Request.Context(), catalogdomain.SetPlanFeatureLimitRequest{
		PlanID:      strings.TrimSpace(c.Param("id")),
		FeatureName: strings.TrimSpace(c.Param("feature")),
		Limit:       *req.Limit,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
