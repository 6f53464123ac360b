package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/ceylonbites/checkout/internal/config"
	"github.com/ceylonbites/checkout/internal/migration"
	"github.com/ceylonbites/checkout/internal/observability"
	"github.com/ceylonbites/checkout/internal/server"
	"github.com/ceylonbites/checkout/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		server.Module,
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
