package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/lunahealth/lumen/internal/clock"
	"github.com/lunahealth/lumen/internal/config"
	"github.com/lunahealth/lumen/internal/insight"
	"github.com/lunahealth/lumen/internal/journal"
	"github.com/lunahealth/lumen/internal/ledger"
	"github.com/lunahealth/lumen/internal/migration"
	"github.com/lunahealth/lumen/internal/notification"
	"github.com/lunahealth/lumen/internal/observability"
	"github.com/lunahealth/lumen/internal/providers/email"
	"github.com/lunahealth/lumen/internal/ratelimit"
	"github.com/lunahealth/lumen/internal/scheduler"
	"github.com/lunahealth/lumen/pkg/db"
	"go.uber.org/fx"
)

// Scheduler-only deployment: runs the insight and reconciliation jobs
// without the HTTP surface.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		email.Module,
		ratelimit.Module,
		ledger.Module,
		journal.Module,
		notification.Module,
		insight.Module,

		scheduler.Module,
		migration.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
