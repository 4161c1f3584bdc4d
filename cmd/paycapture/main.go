package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paycapture/internal/cache"
	"github.com/smallbiznis/paycapture/internal/capture"
	"github.com/smallbiznis/paycapture/internal/clock"
	"github.com/smallbiznis/paycapture/internal/config"
	"github.com/smallbiznis/paycapture/internal/events"
	"github.com/smallbiznis/paycapture/internal/gateway"
	"github.com/smallbiznis/paycapture/internal/invoice"
	"github.com/smallbiznis/paycapture/internal/lock"
	"github.com/smallbiznis/paycapture/internal/migration"
	"github.com/smallbiznis/paycapture/internal/observability"
	"github.com/smallbiznis/paycapture/internal/payment"
	"github.com/smallbiznis/paycapture/internal/providers"
	"github.com/smallbiznis/paycapture/internal/receipt"
	"github.com/smallbiznis/paycapture/internal/scheduler"
	"github.com/smallbiznis/paycapture/internal/server"
	"github.com/smallbiznis/paycapture/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		cache.Module,
		lock.Module,
		events.Module,
		providers.Module,

		// Domains
		gateway.Module,
		capture.Module,
		invoice.Module,
		receipt.Module,
		payment.Module,

		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
