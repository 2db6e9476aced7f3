package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/autumn/internal/balancesync"
	"github.com/smallbiznis/autumn/internal/cache"
	"github.com/smallbiznis/autumn/internal/clock"
	"github.com/smallbiznis/autumn/internal/config"
	"github.com/smallbiznis/autumn/internal/customer"
	"github.com/smallbiznis/autumn/internal/deduction"
	"github.com/smallbiznis/autumn/internal/feature"
	"github.com/smallbiznis/autumn/internal/grant"
	"github.com/smallbiznis/autumn/internal/migration"
	"github.com/smallbiznis/autumn/internal/observability"
	"github.com/smallbiznis/autumn/internal/ratelimit"
	"github.com/smallbiznis/autumn/internal/scheduler"
	"github.com/smallbiznis/autumn/internal/server"
	"github.com/smallbiznis/autumn/internal/syncqueue"
	"github.com/smallbiznis/autumn/pkg/db"
	"github.com/smallbiznis/autumn/pkg/redisclient"
	"go.uber.org/fx"
)

// Single process: HTTP API, sync worker and scheduler. Runs on the
// in-memory cache backend when redis is not configured.
func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		redisclient.Module,
		cache.Module,
		syncqueue.Module,
		ratelimit.Module,

		// Functional Domains
		feature.Module,
		customer.Module,
		grant.Module,
		deduction.Module,

		// Background
		balancesync.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
