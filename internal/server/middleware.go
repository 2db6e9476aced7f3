package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/autumn/internal/orgcontext"
)

const (
	HeaderOrg = "X-Org-ID"
	HeaderEnv = "X-Env"

	contextScopeKey = "scope"
)

// OrgContext resolves the tenant scope from request headers and injects it
// into the request context.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if raw == "" {
			AbortWithError(c, ErrOrgRequired)
			return
		}
		orgID, err := snowflake.ParseString(raw)
		if err != nil || orgID == 0 {
			AbortWithError(c, ErrOrgRequired)
			return
		}

		scope := orgcontext.Scope{
			OrgID: orgID,
			Env:   orgcontext.NormalizeEnv(c.GetHeader(HeaderEnv)),
		}
		c.Set(contextScopeKey, scope)
		c.Set("org_id", orgID.String())
		c.Request = c.Request.WithContext(orgcontext.WithScope(c.Request.Context(), scope))
		c.Next()
	}
}

func scopeFrom(c *gin.Context) (orgcontext.Scope, bool) {
	value, ok := c.Get(contextScopeKey)
	if !ok {
		return orgcontext.Scope{}, false
	}
	scope, ok := value.(orgcontext.Scope)
	return scope, ok && scope.Valid()
}
