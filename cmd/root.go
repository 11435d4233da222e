package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/JerryLinyx/feedrefresh/config"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "feedrefresh",
		Usage: "Keep a catalog of RSS and Atom feeds up to date",
		Description: `Periodically refreshes every registered feed, spreading the work
		over a window of the refresh interval so each cycle completes before the
		next one starts. Posts are merged into PostgreSQL and a Redis lock makes
		sure a feed is imported by one worker at a time.

		Settings come from config/config.yaml (or --config) and environment
		variables, e.g.:

		refresh.every => REFRESH_EVERY=10800
		lock.expire => FEED_LOCK_EXPIRE=180
		database.host => DATABASE_HOST=localhost
		`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"FEEDREFRESH_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			refreshCmd(),
			tokenCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return nil, err
	}
	if err := cfg.SetupLogging(); err != nil {
		return nil, err
	}
	return cfg, nil
}
