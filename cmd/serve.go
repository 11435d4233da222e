package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/JerryLinyx/feedrefresh/config"
	"github.com/JerryLinyx/feedrefresh/controllers"
	"github.com/JerryLinyx/feedrefresh/router"
	"github.com/JerryLinyx/feedrefresh/tasks"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the refresh scheduler, workers and admin API",
		Description: `Migrates the database, starts the job workers and the periodic
trigger, and serves the admin HTTP API until interrupted.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "skip-migrate",
				Usage: "Do not run database migrations on startup",
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			if cfg.App.JWTSecret == "" {
				return errors.New("app.jwt_secret (APP_JWT_SECRET) must be set to serve the admin API")
			}

			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := newServices(runCtx, cfg)
			if err != nil {
				return err
			}
			defer svc.Close()

			if !ctx.Bool("skip-migrate") {
				if err := config.MigrateDB(svc.db); err != nil {
					return err
				}
			}

			if err := svc.dispatcher.Start(runCtx); err != nil {
				return err
			}
			defer svc.dispatcher.Stop()

			trigger := tasks.NewTrigger(cfg.RefreshEvery(), cfg.Refresh.RunOnStart, func(context.Context) {
				svc.dispatcher.Dispatch(svc.scheduler.CycleJob(cfg.Refresh.Iterations), 0)
			})
			if err := trigger.Start(runCtx); err != nil {
				return err
			}
			defer trigger.Stop()

			if cfg.Log.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}
			feedController := &controllers.FeedController{
				Feeds:     svc.feeds,
				Posts:     svc.posts,
				Locks:     svc.locks,
				Jobs:      svc.scheduler,
				Pool:      svc.dispatcher,
				Trigger:   trigger,
				Cache:     svc.cache,
				PostLimit: cfg.Refresh.PostLimit,
			}
			r := router.InitRouter(feedController, router.Options{
				AllowedOrigins: cfg.App.AllowedOrigins,
				JWTSecret:      cfg.App.JWTSecret,
				HealthChecks: map[string]controllers.HealthCheck{
					"database": func(ctx context.Context) error {
						sqlDB, err := svc.db.DB()
						if err != nil {
							return err
						}
						return sqlDB.PingContext(ctx)
					},
					"redis": func(ctx context.Context) error {
						return svc.redis.Ping(ctx).Err()
					},
				},
			})

			srv := &http.Server{
				Addr:    cfg.App.Port,
				Handler: r,
			}

			serveErr := make(chan error, 1)
			go func() {
				log.WithField("addr", cfg.App.Port).Info("Starting admin API")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case <-runCtx.Done():
			case err := <-serveErr:
				if err != nil {
					return err
				}
			}
			log.Info("Shutdown Server ...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			log.Info("Server exiting")
			return nil
		},
	}
}
