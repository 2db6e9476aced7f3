package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	featuredomain "github.com/smallbiznis/autumn/internal/feature/domain"
)

type createFeatureRequest struct {
	Code         string                     `json:"code"`
	Name         string                     `json:"name"`
	Description  *string                    `json:"description"`
	FeatureType  string                     `json:"feature_type"`
	EventNames   []string                   `json:"event_names"`
	CreditSchema []featuredomain.CreditCost `json:"credit_schema"`
	Active       *bool                      `json:"active"`
	Metadata     map[string]any             `json:"metadata"`
}

type updateFeatureRequest struct {
	Name         *string                    `json:"name,omitempty"`
	Description  *string                    `json:"description,omitempty"`
	FeatureType  *string                    `json:"feature_type,omitempty"`
	EventNames   []string                   `json:"event_names,omitempty"`
	CreditSchema []featuredomain.CreditCost `json:"credit_schema,omitempty"`
	Active       *bool                      `json:"active,omitempty"`
	Metadata     map[string]any             `json:"metadata,omitempty"`
}

func (s *Server) CreateFeature(c *gin.Context) {
	var req createFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.featureSvc.Create(c.Request.Context(), featuredomain.CreateRequest{
		Code:         strings.TrimSpace(req.Code),
		Name:         strings.TrimSpace(req.Name),
		Description:  trimOptionalString(req.Description),
		FeatureType:  featuredomain.FeatureType(strings.ToLower(strings.TrimSpace(req.FeatureType))),
		EventNames:   req.EventNames,
		CreditSchema: req.CreditSchema,
		Active:       req.Active,
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.purgeResolver()
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListFeatures(c *gin.Context) {
	var query struct {
		Name        string `form:"name"`
		Code        string `form:"code"`
		EventName   string `form:"event_name"`
		FeatureType string `form:"feature_type"`
		Active      string `form:"active"`
		SortBy      string `form:"sort_by"`
		OrderBy     string `form:"order_by"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	active, err := parseOptionalBool(query.Active)
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}

	var featureType *featuredomain.FeatureType
	if rawType := strings.TrimSpace(query.FeatureType); rawType != "" {
		parsed := featuredomain.FeatureType(strings.ToLower(rawType))
		featureType = &parsed
	}

	resp, err := s.featureSvc.List(c.Request.Context(), featuredomain.ListRequest{
		Name:        strings.TrimSpace(query.Name),
		Code:        strings.TrimSpace(query.Code),
		EventName:   strings.TrimSpace(query.EventName),
		FeatureType: featureType,
		Active:      active,
		SortBy:      strings.TrimSpace(query.SortBy),
		OrderBy:     strings.TrimSpace(query.OrderBy),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateFeature(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))

	var req updateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var featureType *featuredomain.FeatureType
	if req.FeatureType != nil {
		parsed := featuredomain.FeatureType(strings.ToLower(strings.TrimSpace(*req.FeatureType)))
		featureType = &parsed
	}

	resp, err := s.featureSvc.Update(c.Request.Context(), featuredomain.UpdateRequest{
		ID:           id,
		Name:         trimOptionalString(req.Name),
		Description:  trimOptionalString(req.Description),
		FeatureType:  featureType,
		EventNames:   req.EventNames,
		CreditSchema: req.CreditSchema,
		Active:       req.Active,
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.purgeResolver()
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ArchiveFeature(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	resp, err := s.featureSvc.Archive(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.purgeResolver()
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
