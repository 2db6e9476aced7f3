// Package testutil builds the sqlite-backed fixtures shared by service tests.
package testutil

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	customerdomain "github.com/smallbiznis/autumn/internal/customer/domain"
	featuredomain "github.com/smallbiznis/autumn/internal/feature/domain"
	"github.com/smallbiznis/autumn/internal/migration"
	"github.com/smallbiznis/autumn/internal/orgcontext"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a private in-memory database with the balance schema.
// A single connection keeps the in-memory database alive for the test.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.AutoMigrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// NewScope returns a live scope for a fresh organization.
func NewScope(node *snowflake.Node) orgcontext.Scope {
	return orgcontext.Scope{OrgID: node.Generate(), Env: orgcontext.EnvLive}
}

func SeedCustomer(t *testing.T, conn *gorm.DB, node *snowflake.Node, scope orgcontext.Scope, externalID string) customerdomain.Customer {
	t.Helper()
	now := time.Now().UTC()
	customer := customerdomain.Customer{
		ID:         node.Generate(),
		OrgID:      scope.OrgID,
		Env:        scope.Env,
		ExternalID: externalID,
		Name:       externalID,
		Metadata:   datatypes.JSONMap{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := conn.Create(&customer).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return customer
}

func SeedFeature(t *testing.T, conn *gorm.DB, node *snowflake.Node, scope orgcontext.Scope, code string, featureType featuredomain.FeatureType, events ...string) featuredomain.Feature {
	t.Helper()
	now := time.Now().UTC()
	if events == nil {
		events = []string{}
	}
	feature := featuredomain.Feature{
		ID:         node.Generate(),
		OrgID:      scope.OrgID,
		Env:        scope.Env,
		Code:       code,
		Name:       code,
		Type:       featureType,
		EventNames: datatypes.JSONSlice[string](events),
		Active:     true,
		Metadata:   datatypes.JSONMap{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := conn.Create(&feature).Error; err != nil {
		t.Fatalf("seed feature: %v", err)
	}
	return feature
}

// SeedCreditSystem seeds a credit system pricing each metered feature code at
// the given credits per unit.
func SeedCreditSystem(t *testing.T, conn *gorm.DB, node *snowflake.Node, scope orgcontext.Scope, code string, costs ...featuredomain.CreditCost) featuredomain.Feature {
	t.Helper()
	feature := SeedFeature(t, conn, node, scope, code, featuredomain.FeatureTypeCreditSystem)
	feature.CreditSchema = datatypes.JSONSlice[featuredomain.CreditCost](costs)
	if err := conn.Model(&feature).Update("credit_schema", feature.CreditSchema).Error; err != nil {
		t.Fatalf("seed credit schema: %v", err)
	}
	return feature
}
