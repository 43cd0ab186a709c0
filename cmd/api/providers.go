package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/wire"
	"go.uber.org/zap"

	"agora/api/internal/app"
	"agora/api/internal/attachment"
	"agora/api/internal/auth"
	"agora/api/internal/config"
	"agora/api/internal/log"
	"agora/api/internal/moderation"
	"agora/api/internal/notify"
	"agora/api/internal/rbac"
	"agora/api/internal/search"
	"agora/api/internal/store"
	"agora/api/internal/votes"
)

// runtime is everything serve needs once the graph is built.
type runtime struct {
	Config     config.Config
	Seed       config.Seed
	Service    *app.Service
	Sweeper    *moderation.Sweeper
	Dispatcher *notify.Dispatcher
}

var providerSet = wire.NewSet(
	provideSeed,
	provideLadder,
	provideRepository,
	provideLedger,
	provideVerifier,
	provideIndex,
	provideModeration,
	provideSweeper,
	provideSinks,
	provideDispatcher,
	provideGenerator,
	providePresigner,
	app.New,
	wire.Struct(new(runtime), "*"),
)

func provideSeed(cfg config.Config) (config.Seed, error) {
	if strings.TrimSpace(cfg.SeedFile) == "" {
		return config.Seed{}, nil
	}
	return config.LoadSeed(cfg.SeedFile)
}

// provideLadder prefers the seed file's tiers over FORUM_TIERS.
func provideLadder(cfg config.Config, seed config.Seed) (*rbac.Ladder, error) {
	if len(seed.Tiers) > 0 {
		return rbac.NewLadder(seed.Tiers)
	}
	return rbac.ParseLadder(cfg.Tiers)
}

func provideRepository(ctx context.Context, cfg config.Config) (store.Repositories, func(), error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		log.L.Warn("DATABASE_URL not set, using the in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	}
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	repo, err := store.NewGormStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repo, func() { _ = db.Close() }, nil
}

func provideLedger(cfg config.Config) (votes.Ledger, func(), error) {
	var redisLedger *votes.RedisLedger
	cleanup := func() {}
	if strings.TrimSpace(cfg.RedisURL) != "" && cfg.VoteMode != votes.ModeTally {
		l, err := votes.NewRedisLedger(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		redisLedger = l
		cleanup = func() { _ = l.Close() }
	}
	ledger, err := votes.NewLedger(cfg.VoteMode, redisLedger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	log.L.Info("vote ledger ready", zap.String("mode", cfg.VoteMode), zap.Bool("redis", redisLedger != nil))
	return ledger, cleanup, nil
}

func provideVerifier(cfg config.Config, ladder *rbac.Ladder) *auth.Verifier {
	return auth.NewVerifier(cfg.JWTSecret, ladder)
}

func provideIndex(repo store.Repositories) *search.Index {
	return search.NewIndex(repo)
}

func provideModeration(cfg config.Config, repo store.Repositories) *moderation.Service {
	return moderation.NewService(repo, cfg.ReportAlertThreshold)
}

func provideSweeper(cfg config.Config, svc *moderation.Service) (*moderation.Sweeper, error) {
	return moderation.NewSweeper(svc, cfg.ModerationSweepCron)
}

// provideSinks publishes to RocketMQ when a name server is configured, else logs.
func provideSinks(cfg config.Config) ([]notify.Sink, func(), error) {
	if strings.TrimSpace(cfg.RocketMQNameServer) == "" {
		return []notify.Sink{notify.LogSink{}}, func() {}, nil
	}
	producer, err := notify.NewRocketMQProducer(cfg.RocketMQNameServer, cfg.RocketMQGroup)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := producer.Shutdown(); err != nil {
			log.L.Warn("rocketmq shutdown", zap.Error(err))
		}
	}
	return []notify.Sink{notify.NewRocketMQSink(producer, cfg.RocketMQTopic)}, cleanup, nil
}

func provideDispatcher(cfg config.Config, repo store.Repositories, sinks []notify.Sink) (*notify.Dispatcher, func()) {
	d := notify.NewDispatcher(repo, cfg.NotifyQueueSize, cfg.NotifyWorkers, sinks...)
	return d, d.Close
}

func provideGenerator(cfg config.Config, repo store.Repositories, d *notify.Dispatcher) *notify.Generator {
	return notify.NewGenerator(repo, notify.NewDirectory(), d, cfg.PublicBaseURL)
}

// providePresigner returns a nil Presigner when no S3 endpoint is configured.
func providePresigner(cfg config.Config) (app.Presigner, error) {
	if strings.TrimSpace(cfg.S3Endpoint) == "" {
		return nil, nil
	}
	p, err := attachment.NewPresigner(attachment.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    cfg.S3Bucket,
		Region:    cfg.S3Region,
		UseSSL:    cfg.S3UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("attachment storage: %w", err)
	}
	return p, nil
}
