package cmd

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/JerryLinyx/feedrefresh/models"
	"github.com/JerryLinyx/feedrefresh/tasks"
)

func refreshCmd() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Refresh a single feed now",
		Description: `Imports one feed in the foreground, under the same lock as the
scheduled jobs. A feed given by --url is registered if it is not stored yet.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "url",
				Usage: "Feed URL",
			},
			&cli.UintFlag{
				Name:  "id",
				Usage: "Stored feed id",
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.String("url") == "" && ctx.Uint("id") == 0 {
				return errors.New("one of --url or --id is required")
			}
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			svc, err := newServices(ctx.Context, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			var feed *models.Feed
			if id := ctx.Uint("id"); id != 0 {
				feed, err = svc.feeds.GetFeed(ctx.Context, id)
			} else {
				// registering first keeps the lock key identical to scheduled jobs
				feed, _, err = svc.feeds.AddFeed(ctx.Context, ctx.String("url"), "")
			}
			if err != nil {
				return err
			}

			outcome, err := svc.refresher.Refresh(ctx.Context, feed.Ref())
			if err != nil {
				return err
			}
			log.WithField("outcome", outcome).Info("Refresh finished")
			if outcome == tasks.OutcomeSkipped {
				fmt.Fprintln(ctx.App.ErrWriter, "feed is locked by another worker, try again later")
			}
			return nil
		},
	}
}
