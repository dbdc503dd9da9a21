package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/lunahealth/lumen/internal/clock"
	"github.com/lunahealth/lumen/internal/config"
	"github.com/lunahealth/lumen/internal/migration"
	"github.com/lunahealth/lumen/internal/observability"
	"github.com/lunahealth/lumen/internal/scheduler"
	"github.com/lunahealth/lumen/internal/server"
	"github.com/lunahealth/lumen/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		server.Module,
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
