package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/autumn/internal/balance"
	customerdomain "github.com/smallbiznis/autumn/internal/customer/domain"
	"github.com/smallbiznis/autumn/internal/deduction"
	featuredomain "github.com/smallbiznis/autumn/internal/feature/domain"
	grantdomain "github.com/smallbiznis/autumn/internal/grant/domain"
	"github.com/smallbiznis/autumn/internal/ratelimit"
	"github.com/smallbiznis/autumn/internal/testutil/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	stack  *stack.Stack
	router *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := stack.New(t)
	router := gin.New()
	router.Use(ErrorHandlingMiddleware())

	NewServer(ServerParams{
		Gin:         router,
		FeatureSvc:  s.Features,
		CustomerSvc: s.Customers,
		Deduction:   s.Deduction,
		Resolver:    s.Resolver,
	})
	return &testServer{stack: s, router: router}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderOrg, ts.stack.Scope.OrgID.String())
	req.Header.Set(HeaderEnv, ts.stack.Scope.Env)
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, req)
	return resp
}

func decodeData[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope), resp.Body.String())
	return envelope.Data
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body), resp.Body.String())
	return body.Error
}

func TestRequestsWithoutOrgAreRejected(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/track", bytes.NewBufferString(`{"customer_id":"cus_1","feature_id":"messages"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "unauthorized", decodeError(t, resp).Type)
}

func TestTrackAndReadBalance(t *testing.T) {
	ts := newTestServer(t)
	customer := ts.stack.Customer(t, "cus_1")
	feature := ts.stack.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	ts.stack.Grant(t, customer, feature, stack.Monthly("100"))

	resp := ts.do(t, http.MethodPost, "/v1/track", map[string]any{
		"customer_id": "cus_1",
		"feature_id":  "messages",
		"value":       "25.5",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	tracked := decodeData[deduction.TrackResult](t, resp)
	require.Len(t, tracked.Features, 1)
	assert.True(t, decimal.RequireFromString("74.5").Equal(tracked.Features[0].Balance.Current))

	resp = ts.do(t, http.MethodGet, "/v1/customers/cus_1/balances/messages", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	agg := decodeData[balanceResponse](t, resp)
	assert.Equal(t, "messages", agg.FeatureID)
	assert.True(t, decimal.RequireFromString("74.5").Equal(agg.Balance))
	require.Len(t, agg.Breakdown, 1)
	assert.Equal(t, "month", agg.Breakdown[0].Interval)
	require.NotNil(t, agg.NextResetAt)
}

func TestTrackRejectReturnsPaymentRequired(t *testing.T) {
	ts := newTestServer(t)
	customer := ts.stack.Customer(t, "cus_1")
	feature := ts.stack.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	ts.stack.Grant(t, customer, feature, stack.Monthly("10"))

	resp := ts.do(t, http.MethodPost, "/v1/track", map[string]any{
		"customer_id":      "cus_1",
		"feature_id":       "messages",
		"value":            "11",
		"overage_behavior": "reject",
	})
	assert.Equal(t, http.StatusPaymentRequired, resp.Code)
	assert.Equal(t, "insufficient_balance", decodeError(t, resp).Type)
}

func TestCheckEndpoint(t *testing.T) {
	ts := newTestServer(t)
	customer := ts.stack.Customer(t, "cus_1")
	feature := ts.stack.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	ts.stack.Grant(t, customer, feature, stack.Monthly("5"))

	resp := ts.do(t, http.MethodPost, "/v1/check", map[string]any{
		"customer_id":      "cus_1",
		"feature_id":       "messages",
		"required_balance": "6",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.False(t, decodeData[deduction.CheckResult](t, resp).Allowed)

	resp = ts.do(t, http.MethodPost, "/v1/check", map[string]any{
		"customer_id":      "cus_1",
		"feature_id":       "messages",
		"required_balance": "5",
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.True(t, decodeData[deduction.CheckResult](t, resp).Allowed)
}

func TestUnknownCustomerIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.stack.Feature(t, "messages", featuredomain.FeatureTypeMetered)

	resp := ts.do(t, http.MethodGet, "/v1/customers/missing/balances/messages", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, customerdomain.ErrNotFound.Error(), decodeError(t, resp).Message)
}

func TestCustomerEntityAndAttachmentFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.stack.Feature(t, "seats", featuredomain.FeatureTypeContinuousUse)

	resp := ts.do(t, http.MethodPost, "/v1/customers", map[string]any{"id": "cus_1", "name": "Acme"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = ts.do(t, http.MethodPost, "/v1/customers", map[string]any{"id": "cus_1", "name": "Acme"})
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = ts.do(t, http.MethodPost, "/v1/customers/cus_1/entities", map[string]any{"id": "ws_1"})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = ts.do(t, http.MethodPost, "/v1/attachments", map[string]any{
		"customer_id":         "cus_1",
		"customer_product_id": "cp_team",
		"entity_ids":          []string{"ws_1"},
		"features": []map[string]any{
			{"feature_id": "seats", "amount": "3", "interval": "lifetime"},
		},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Len(t, decodeData[deduction.AttachResult](t, resp).GrantIDs, 1)

	resp = ts.do(t, http.MethodGet, "/v1/customers/cus_1/balances/seats?entity_id=ws_1", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.True(t, decimal.NewFromInt(3).Equal(decodeData[balanceResponse](t, resp).Balance))

	resp = ts.do(t, http.MethodDelete, "/v1/attachments/cp_team", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = ts.do(t, http.MethodDelete, "/v1/attachments/cp_team", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestFeatureCatalogPurgesResolver(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/v1/features", map[string]any{
		"code":         "messages",
		"name":         "Messages",
		"feature_type": "metered",
		"event_names":  []string{"message.sent"},
	})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	created := decodeData[featuredomain.Response](t, resp)

	resp = ts.do(t, http.MethodPost, "/v1/features", map[string]any{
		"code":         "messages",
		"name":         "Messages",
		"feature_type": "metered",
	})
	assert.Equal(t, http.StatusConflict, resp.Code)

	ts.stack.Resolver.SetFeature(ts.stack.Scope, "messages", featuredomain.Feature{Code: "messages"})

	resp = ts.do(t, http.MethodPost, fmt.Sprintf("/v1/features/%s/archive", created.ID), nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.False(t, decodeData[featuredomain.Response](t, resp).Active)

	_, ok := ts.stack.Resolver.GetFeature(ts.stack.Scope, "messages")
	assert.False(t, ok)

	resp = ts.do(t, http.MethodGet, "/v1/features?active=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestToBalanceResponse(t *testing.T) {
	next := stack.T0.AddDate(0, 1, 0)
	agg := balance.Aggregate{
		FeatureID:   "messages",
		Granted:     decimal.NewFromInt(150),
		Current:     decimal.NewFromInt(120),
		Usage:       decimal.NewFromInt(30),
		NextResetAt: &next,
		Breakdown: []balance.Breakdown{
			{ID: "g1", Kind: balance.RowKindGrant, Interval: balance.IntervalMonth, Granted: decimal.NewFromInt(100), Current: decimal.NewFromInt(70), Usage: decimal.NewFromInt(30), NextResetAt: &next},
			{ID: "r1", Kind: balance.RowKindRollover, Interval: balance.IntervalMonth, Granted: decimal.NewFromInt(50), Current: decimal.NewFromInt(50)},
		},
	}

	resp := toBalanceResponse(agg)
	assert.True(t, agg.Current.Equal(resp.Balance))
	require.Len(t, resp.Breakdown, 2)
	assert.Equal(t, "rollover", resp.Breakdown[1].Type)
	assert.Equal(t, next.UnixMilli(), *resp.NextResetAt)
	assert.Nil(t, resp.Breakdown[1].NextResetAt)

	sum := decimal.Zero
	for _, b := range resp.Breakdown {
		sum = sum.Add(b.Balance)
	}
	assert.True(t, sum.Equal(resp.Balance))
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"insufficient", fmt.Errorf("track: %w", balance.ErrInsufficientBalance), http.StatusPaymentRequired, "insufficient_balance"},
		{"busy", ratelimit.ErrCustomerBusy, http.StatusTooManyRequests, "customer_busy"},
		{"rate limited", deduction.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{"duplicate event", deduction.ErrDuplicateEvent, http.StatusConflict, "duplicate_event"},
		{"already attached", grantdomain.ErrAlreadyAttached, http.StatusConflict, "conflict"},
		{"no grants", grantdomain.ErrNoGrants, http.StatusNotFound, "not_found"},
		{"bad interval", deduction.ErrInvalidInterval, http.StatusBadRequest, "validation_error"},
		{"missing org", ErrOrgRequired, http.StatusUnauthorized, "unauthorized"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.kind, payload.Type)
		})
	}
}
