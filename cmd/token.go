package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/JerryLinyx/feedrefresh/utils"
)

func tokenCmd() *cli.Command {
	return &cli.Command{
		Name:        "token",
		Usage:       "Mint an admin API token",
		Description: `Prints a bearer token signed with app.jwt_secret, ready for the Authorization header.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "subject",
				Usage: "Token subject",
				Value: "admin",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 24 * time.Hour,
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			token, err := utils.GenerateJWT(ctx.String("subject"), cfg.App.JWTSecret, ctx.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(ctx.App.Writer, token)
			return nil
		},
	}
}
