package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"agora/api/internal/app"
	"agora/api/internal/config"
	"agora/api/internal/log"
	"agora/api/internal/store"
)

func main() {
	cfg := config.Load()
	log.Init(cfg.LogLevel)

	cliApp := &cli.App{
		Name:  "forum-api",
		Usage: "community forum engine",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "start the http server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Value: cfg.Addr, Usage: "listen address"},
				},
				Action: func(c *cli.Context) error {
					cfg.Addr = c.String("addr")
					return serve(c.Context, cfg)
				},
			},
			{
				Name:  "migrate",
				Usage: "apply database migrations and exit",
				Action: func(c *cli.Context) error {
					return migrate(c.Context, cfg)
				},
			},
		},
		DefaultCommand: "serve",
	}
	if err := cliApp.Run(os.Args); err != nil {
		log.L.Fatal("forum api stopped", zap.Error(err))
	}
}

func serve(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	rt, cleanup, err := initRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := rt.Service.Seed(ctx, rt.Seed); err != nil {
		log.L.Warn("seeding categories failed", zap.Error(err))
	}
	if err := rt.Service.WarmDirectory(ctx); err != nil {
		log.L.Warn("warming mention directory failed", zap.Error(err))
	}
	rt.Sweeper.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		rt.Sweeper.Stop(stopCtx)
	}()

	log.L.Info("forum ready", zap.Strings("tiers", rt.Service.Tiers()))
	server := app.NewHTTPServer(rt.Service, cfg.CORSOrigin)
	return app.Run(ctx, cfg.Addr, server.Handler())
}

func migrate(ctx context.Context, cfg config.Config) error {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return cli.Exit("DATABASE_URL is required for migrate", 1)
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		return err
	}
	log.L.Info("migrations applied", zap.String("dir", cfg.MigrationsDir))
	return nil
}
