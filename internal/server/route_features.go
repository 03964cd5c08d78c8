package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	routefeaturedomain "github.com/smallbiznis/allowance/internal/routefeature/domain"
)

func (s *Server) CreateRouteFeature(c *gin.Context) {
	var req routefeaturedomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.routeFeatureSvc.Create(c.Request.Context(), routefeaturedomain.CreateRequest{
		Operation: strings.TrimSpace(req.Operation),
		Method:    strings.TrimSpace(req.Method),
		Feature:   strings.TrimSpace(req.Feature),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListRouteFeatures(c *gin.Context) {
	var req routefeaturedomain.ListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.Operation = strings.TrimSpace(req.Operation)

	resp, err := s.routeFeatureSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Items, "page_info": resp.PageInfo})
}

func (s *Server) GetRouteFeature(c *gin.Context) {
	resp, err := s.routeFeatureSvc.Get(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateRouteFeature(c *gin.Context) {
	var req routefeaturedomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.routeFeatureSvc.Update(c.Request.Context(), strings.TrimSpace(c.Param("id")), routefeaturedomain.UpdateRequest{
		Method:  trimOptional(req.Method),
		Feature: trimOptional(req.Feature),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteRouteFeature(c *gin.Context) {
	if err := s.routeFeatureSvc.Delete(c.Request.Context(), strings.TrimSpace(c.Param("id"))); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}
