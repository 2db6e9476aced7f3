package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/autumn/internal/deduction"
)

func (s *Server) Attach(c *gin.Context) {
	scope, ok := scopeFrom(c)
	if !ok {
		AbortWithError(c, ErrOrgRequired)
		return
	}

	var req deduction.AttachRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("customer_id", strings.TrimSpace(req.CustomerID))

	resp, err := s.deduction.Attach(c.Request.Context(), scope, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) Terminate(c *gin.Context) {
	scope, ok := scopeFrom(c)
	if !ok {
		AbortWithError(c, ErrOrgRequired)
		return
	}

	id := strings.TrimSpace(c.Param("id"))
	if err := s.deduction.Terminate(c.Request.Context(), scope, id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"customer_product_id": id, "terminated": true}})
}
