package deduction_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/autumn/internal/cache"
	customerdomain "github.com/smallbiznis/autumn/internal/customer/domain"
	"github.com/smallbiznis/autumn/internal/deduction"
	featuredomain "github.com/smallbiznis/autumn/internal/feature/domain"
	grantdomain "github.com/smallbiznis/autumn/internal/grant/domain"
	"github.com/smallbiznis/autumn/internal/orgcontext"
	"github.com/smallbiznis/autumn/internal/testutil/stack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachCreatesGrantsAndInvalidatesCache(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	_, err := s.Customers.CreateEntity(orgcontext.WithScope(ctx, s.Scope), customerdomain.CreateEntityRequest{CustomerID: "cus_1", ExternalID: "seat_1"})
	require.NoError(t, err)

	res, err := s.Deduction.Check(ctx, s.Scope, deduction.CheckRequest{CustomerID: "cus_1", FeatureID: "messages"})
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	attached, err := s.Deduction.Attach(ctx, s.Scope, deduction.AttachRequest{
		CustomerID:        "cus_1",
		CustomerProductID: "cp_pro",
		EntityIDs:         []string{"seat_1"},
		Features: []deduction.AttachFeature{
			{FeatureID: "messages", Amount: decimal.NewFromInt(50), Interval: "month"},
		},
	})
	require.NoError(t, err)
	assert.Len(t, attached.GrantIDs, 1)

	_, ok, err := s.Cache.Get(ctx, cache.CustomerKey(s.Scope, customer.ID))
	require.NoError(t, err)
	assert.False(t, ok)

	agg, err := s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "messages", "seat_1")
	require.NoError(t, err)
	assertDecimal(t, "50", agg.Current)

	agg, err = s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "messages", "")
	require.NoError(t, err)
	assertDecimal(t, "50", agg.Current, "customer level includes entity grants")
}

func TestAttachRejectsUnknownEntity(t *testing.T) {
	s := stack.New(t)
	s.Customer(t, "cus_1")
	s.Feature(t, "messages", featuredomain.FeatureTypeMetered)

	_, err := s.Deduction.Attach(context.Background(), s.Scope, deduction.AttachRequest{
		CustomerID:        "cus_1",
		CustomerProductID: "cp_pro",
		EntityIDs:         []string{"seat_404"},
		Features:          []deduction.AttachFeature{{FeatureID: "messages", Amount: decimal.NewFromInt(5)}},
	})
	assert.ErrorIs(t, err, customerdomain.ErrEntityNotFound)
}

func TestAttachValidation(t *testing.T) {
	s := stack.New(t)
	s.Customer(t, "cus_1")
	s.Feature(t, "messages", featuredomain.FeatureTypeMetered)
	ctx := context.Background()

	_, err := s.Deduction.Attach(ctx, s.Scope, deduction.AttachRequest{CustomerID: "cus_1", CustomerProductID: "cp_1"})
	assert.ErrorIs(t, err, deduction.ErrInvalidAttachment)

	_, err = s.Deduction.Attach(ctx, s.Scope, deduction.AttachRequest{
		CustomerID:        "cus_1",
		CustomerProductID: "cp_1",
		Features:          []deduction.AttachFeature{{FeatureID: "messages", Amount: decimal.NewFromInt(5), Interval: "fortnight"}},
	})
	assert.ErrorIs(t, err, deduction.ErrInvalidInterval)

	_, err = s.Deduction.Attach(ctx, s.Scope, deduction.AttachRequest{
		CustomerID:        "cus_1",
		CustomerProductID: "cp_1",
		Features:          []deduction.AttachFeature{{FeatureID: "messages", Amount: decimal.NewFromInt(-5)}},
	})
	assert.ErrorIs(t, err, deduction.ErrInvalidAmount)
}

func TestTerminateDropsBalances(t *testing.T) {
	s := stack.New(t)
	ctx := context.Background()
	customer := s.Customer(t, "cus_1")
	s.Feature(t, "messages", featuredomain.FeatureTypeMetered)

	_, err := s.Deduction.Attach(ctx, s.Scope, deduction.AttachRequest{
		CustomerID:        "cus_1",
		CustomerProductID: "cp_pro",
		Features:          []deduction.AttachFeature{{FeatureID: "messages", Amount: decimal.NewFromInt(20), Interval: "month"}},
	})
	require.NoError(t, err)

	agg, err := s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "messages", "")
	require.NoError(t, err)
	assertDecimal(t, "20", agg.Current)

	require.NoError(t, s.Deduction.Terminate(ctx, s.Scope, "cp_pro"))
	_, ok, err := s.Cache.Get(ctx, cache.CustomerKey(s.Scope, customer.ID))
	require.NoError(t, err)
	assert.False(t, ok)

	agg, err = s.Deduction.GetBalance(ctx, s.Scope, "cus_1", "messages", "")
	require.NoError(t, err)
	assertDecimal(t, "0", agg.Current)

	assert.ErrorIs(t, s.Deduction.Terminate(ctx, s.Scope, "cp_pro"), grantdomain.ErrAttachmentNotFound)
}
