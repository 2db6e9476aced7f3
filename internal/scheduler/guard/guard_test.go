package guard

import (
	"testing"
	"time"

	"github.com/smallbiznis/autumn/internal/balance"
	grantdomain "github.com/smallbiznis/autumn/internal/grant/domain"
	"github.com/stretchr/testify/assert"
)

func TestEnsureGrantCanReset(t *testing.T) {
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	cases := []struct {
		name  string
		grant grantdomain.Grant
		want  error
	}{
		{"due", grantdomain.Grant{Status: grantdomain.StatusActive, ResetInterval: string(balance.IntervalMonth), NextResetAt: &past}, nil},
		{"exactly due", grantdomain.Grant{Status: grantdomain.StatusActive, ResetInterval: string(balance.IntervalMonth), NextResetAt: &now}, nil},
		{"terminated", grantdomain.Grant{Status: grantdomain.StatusTerminated, ResetInterval: string(balance.IntervalMonth), NextResetAt: &past}, ErrGrantNotActive},
		{"lifetime", grantdomain.Grant{Status: grantdomain.StatusActive, NextResetAt: &past}, ErrGrantUnbounded},
		{"future", grantdomain.Grant{Status: grantdomain.StatusActive, ResetInterval: string(balance.IntervalMonth), NextResetAt: &future}, ErrGrantNotDue},
		{"no schedule", grantdomain.Grant{Status: grantdomain.StatusActive, ResetInterval: string(balance.IntervalMonth)}, ErrGrantNotDue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, EnsureGrantCanReset(tc.grant, now), tc.want)
		})
	}
}
