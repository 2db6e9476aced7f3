package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/autumn/internal/balance"
	"github.com/smallbiznis/autumn/internal/deduction"
)

type balanceResponse struct {
	FeatureID    string              `json:"feature_id"`
	EntityID     string              `json:"entity_id,omitempty"`
	Granted      decimal.Decimal     `json:"granted_balance"`
	Balance      decimal.Decimal     `json:"balance"`
	Purchased    decimal.Decimal     `json:"purchased_balance"`
	Usage        decimal.Decimal     `json:"usage"`
	Unlimited    bool                `json:"unlimited"`
	UsageAllowed bool                `json:"overage_allowed"`
	NextResetAt  *int64              `json:"next_reset_at"`
	Breakdown    []breakdownResponse `json:"breakdown"`
}

type breakdownResponse struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Interval    string          `json:"interval"`
	EntityID    string          `json:"entity_id,omitempty"`
	Granted     decimal.Decimal `json:"granted_balance"`
	Balance     decimal.Decimal `json:"balance"`
	Purchased   decimal.Decimal `json:"purchased_balance"`
	Usage       decimal.Decimal `json:"usage"`
	Unlimited   bool            `json:"unlimited,omitempty"`
	NextResetAt *int64          `json:"next_reset_at"`
	ExpiresAt   *int64          `json:"expires_at"`
}

// toBalanceResponse shapes an aggregate for the public API. Times are epoch
// milliseconds.
func toBalanceResponse(agg balance.Aggregate) balanceResponse {
	resp := balanceResponse{
		FeatureID:    agg.FeatureID,
		EntityID:     agg.EntityID,
		Granted:      agg.Granted,
		Balance:      agg.Current,
		Purchased:    agg.Purchased,
		Usage:        agg.Usage,
		Unlimited:    agg.Unlimited,
		UsageAllowed: agg.UsageAllowed,
		NextResetAt:  epochMillis(agg.NextResetAt),
		Breakdown:    make([]breakdownResponse, 0, len(agg.Breakdown)),
	}
	for _, b := range agg.Breakdown {
		resp.Breakdown = append(resp.Breakdown, breakdownResponse{
			ID:          b.ID,
			Type:        string(b.Kind),
			Interval:    string(b.Interval),
			EntityID:    b.EntityID,
			Granted:     b.Granted,
			Balance:     b.Current,
			Purchased:   b.Purchased,
			Usage:       b.Usage,
			Unlimited:   b.Unlimited,
			NextResetAt: epochMillis(b.NextResetAt),
			ExpiresAt:   epochMillis(b.ExpiresAt),
		})
	}
	return resp
}

func epochMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

// Track deducts usage from the cached balance. The durable write happens
// asynchronously, so a successful response means the deduction is accepted.
func (s *Server) Track(c *gin.Context) {
	scope, ok := scopeFrom(c)
	if !ok {
		AbortWithError(c, ErrOrgRequired)
		return
	}

	var req deduction.TrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("customer_id", strings.TrimSpace(req.CustomerID))
	c.Set("feature_id", strings.TrimSpace(req.FeatureID))
	c.Set("entity_id", strings.TrimSpace(req.EntityID))
	c.Set("event_name", strings.TrimSpace(req.EventName))

	resp, err := s.deduction.Track(c.Request.Context(), scope, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) Check(c *gin.Context) {
	scope, ok := scopeFrom(c)
	if !ok {
		AbortWithError(c, ErrOrgRequired)
		return
	}

	var req deduction.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("customer_id", strings.TrimSpace(req.CustomerID))
	c.Set("feature_id", strings.TrimSpace(req.FeatureID))
	c.Set("entity_id", strings.TrimSpace(req.EntityID))

	resp, err := s.deduction.Check(c.Request.Context(), scope, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateBalance(c *gin.Context) {
	scope, ok := scopeFrom(c)
	if !ok {
		AbortWithError(c, ErrOrgRequired)
		return
	}

	var req deduction.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("customer_id", strings.TrimSpace(req.CustomerID))
	c.Set("feature_id", strings.TrimSpace(req.FeatureID))

	agg, err := s.deduction.UpdateBalance(c.Request.Context(), scope, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toBalanceResponse(agg)})
}

func (s *Server) GetBalance(c *gin.Context) {
	scope, ok := scopeFrom(c)
	if !ok {
		AbortWithError(c, ErrOrgRequired)
		return
	}

	customerID := strings.TrimSpace(c.Param("id"))
	featureID := strings.TrimSpace(c.Param("feature_id"))
	c.Set("customer_id", customerID)
	c.Set("feature_id", featureID)

	agg, err := s.deduction.GetBalance(c.Request.Context(), scope, customerID, featureID, c.Query("entity_id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": toBalanceResponse(agg)})
}
