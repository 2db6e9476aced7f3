package orgcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

const (
	EnvLive    = "live"
	EnvSandbox = "sandbox"
)

// OrgContextKey is the request context key for the active organization ID.
type OrgContextKey struct{}

// EnvContextKey is the request context key for the active environment.
type EnvContextKey struct{}

// Scope is the tenant namespace every balance operation runs in.
type Scope struct {
	OrgID snowflake.ID
	Env   string
}

func (s Scope) Valid() bool {
	return s.OrgID != 0 && s.Env != ""
}

// WithOrgID stores the org ID in the context.
func WithOrgID(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, OrgContextKey{}, orgID)
}

// WithEnv stores the environment in the context.
func WithEnv(ctx context.Context, env string) context.Context {
	return context.WithValue(ctx, EnvContextKey{}, NormalizeEnv(env))
}

// WithScope stores both org ID and environment in the context.
func WithScope(ctx context.Context, scope Scope) context.Context {
	return WithEnv(WithOrgID(ctx, scope.OrgID.Int64()), scope.Env)
}

// OrgIDFromContext returns the org ID from context, if set.
func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	value := ctx.Value(OrgContextKey{})
	if value == nil {
		return 0, false
	}
	switch typed := value.(type) {
	case int64:
		return snowflake.ID(typed), true
	case snowflake.ID:
		return typed, true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// EnvFromContext returns the environment from context, defaulting to live.
func EnvFromContext(ctx context.Context) string {
	if ctx == nil {
		return EnvLive
	}
	if value, ok := ctx.Value(EnvContextKey{}).(string); ok && value != "" {
		return value
	}
	return EnvLive
}

// ScopeFromContext builds the tenant scope from context values.
func ScopeFromContext(ctx context.Context) (Scope, bool) {
	orgID, ok := OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return Scope{}, false
	}
	return Scope{OrgID: orgID, Env: EnvFromContext(ctx)}, true
}

func NormalizeEnv(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case EnvSandbox, "test", "sandbox_test":
		return EnvSandbox
	default:
		return EnvLive
	}
}
