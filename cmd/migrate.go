package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/JerryLinyx/feedrefresh/config"
)

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:        "migrate",
		Usage:       "Run database migrations",
		Description: `Creates or updates the feed, category, post and enclosure tables.`,
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			db, err := config.OpenDB(ctx.Context, cfg)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			return config.MigrateDB(db)
		},
	}
}
