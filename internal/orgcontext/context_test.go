package orgcontext

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
)

func TestScopeFromContext(t *testing.T) {
	ctx := WithScope(context.Background(), Scope{OrgID: snowflake.ID(42), Env: "sandbox"})

	scope, ok := ScopeFromContext(ctx)
	if !ok {
		t.Fatalf("expected scope")
	}
	if scope.OrgID != 42 || scope.Env != EnvSandbox {
		t.Fatalf("unexpected scope %+v", scope)
	}
}

func TestScopeFromContextMissingOrg(t *testing.T) {
	if _, ok := ScopeFromContext(WithEnv(context.Background(), EnvLive)); ok {
		t.Fatalf("expected missing org to fail")
	}
}

func TestNormalizeEnvDefaultsToLive(t *testing.T) {
	if got := NormalizeEnv(""); got != EnvLive {
		t.Fatalf("expected live, got %q", got)
	}
	if got := NormalizeEnv(" Sandbox "); got != EnvSandbox {
		t.Fatalf("expected sandbox, got %q", got)
	}
}
