package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	amqpsink "github.com/user/crawl-orchestrator/internal/adapter/amqp"
	"github.com/user/crawl-orchestrator/internal/adapter/filesink"
	"github.com/user/crawl-orchestrator/internal/adapter/filestate"
	"github.com/user/crawl-orchestrator/internal/adapter/postgres"
	redis_adapter "github.com/user/crawl-orchestrator/internal/adapter/redis"
	"github.com/user/crawl-orchestrator/internal/delivery/http/handler"
	"github.com/user/crawl-orchestrator/internal/repository"
	"github.com/user/crawl-orchestrator/internal/sqlgen"
	"github.com/user/crawl-orchestrator/pkg/config"
)

const (
	connectMaxInterval = 5 * time.Second
	connectMaxElapsed  = time.Minute
)

// resources collects what must be closed on exit and the health checks of backing services.
type resources struct {
	closers []func()
	checks  map[string]handler.HealthCheck
}

func newResources() *resources {
	return &resources{checks: make(map[string]handler.HealthCheck)}
}

func (r *resources) onClose(fn func()) {
	r.closers = append(r.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (r *resources) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// connect retries fn with exponential backoff so the orchestrator survives backing
// services that start after it.
func connect(ctx context.Context, log *zap.Logger, name string, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = connectMaxInterval
	bo.MaxElapsedTime = connectMaxElapsed

	err := backoff.RetryNotify(fn, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		log.Warn("Backing service not ready, retrying",
			zap.String("service", name),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		return fmt.Errorf("connect %s: %w", name, err)
	}
	log.Info("Connected", zap.String("service", name))
	return nil
}

func openPostgres(ctx context.Context, log *zap.Logger, name, url string, res *resources) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	res.onClose(pool.Close)

	if err := connect(ctx, log, name, func() error { return pool.Ping(ctx) }); err != nil {
		return nil, err
	}
	res.checks[name] = pool.Ping
	return pool, nil
}

func openRedis(ctx context.Context, log *zap.Logger, name string, opts *redis.Options, res *resources) (*redis.Client, error) {
	client := redis.NewClient(opts)
	res.onClose(func() { _ = client.Close() })

	if err := connect(ctx, log, name, func() error { return client.Ping(ctx).Err() }); err != nil {
		return nil, err
	}
	res.checks[name] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return client, nil
}

// openRunState builds the run state store selected by state.kind.
func openRunState(ctx context.Context, cfg *config.Config, log *zap.Logger, res *resources) (repository.RunStateRepository, error) {
	switch cfg.State.Kind {
	case "file":
		return filestate.NewRunStateRepo(cfg.State.Path), nil
	case "redis":
		client, err := openRedis(ctx, log, "state_redis", &redis.Options{
			Addr:     cfg.State.RedisAddr,
			Password: cfg.State.RedisPassword,
			DB:       cfg.State.RedisDB,
		}, res)
		if err != nil {
			return nil, err
		}
		return redis_adapter.NewRunStateRepo(client), nil
	case "postgres":
		pool, err := openPostgres(ctx, log, "state_postgres", cfg.State.PostgresURL, res)
		if err != nil {
			return nil, err
		}
		repo := postgres.NewRunStateRepo(pool)
		if err := repo.Migrate(ctx); err != nil {
			return nil, err
		}
		return repo, nil
	}
	return nil, fmt.Errorf("unknown state kind %q", cfg.State.Kind)
}

// openSink builds the statement sink selected by sink.kind.
func openSink(ctx context.Context, cfg *config.Config, gen *sqlgen.Generator, log *zap.Logger, res *resources) (repository.StatementSink, error) {
	switch cfg.Sink.Kind {
	case "file":
		return filesink.NewStatementSink(cfg.Sink.Path), nil
	case "postgres":
		pool, err := openPostgres(ctx, log, "sink_postgres", cfg.Sink.PostgresURL, res)
		if err != nil {
			return nil, err
		}
		sink := postgres.NewStatementSink(pool, gen.CreateTable())
		if err := sink.EnsureTable(ctx); err != nil {
			return nil, err
		}
		return sink, nil
	case "redis":
		client, err := openRedis(ctx, log, "sink_redis", &redis.Options{Addr: cfg.Sink.RedisAddr}, res)
		if err != nil {
			return nil, err
		}
		return redis_adapter.NewStatementSink(client, cfg.Sink.RedisKey), nil
	case "amqp":
		var conn *amqp.Connection
		err := connect(ctx, log, "sink_amqp", func() error {
			var err error
			conn, err = amqp.Dial(cfg.Sink.AMQPURL)
			return err
		})
		if err != nil {
			return nil, err
		}
		res.onClose(func() { _ = conn.Close() })

		ch, err := conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("open amqp channel: %w", err)
		}
		sink, err := amqpsink.NewStatementSink(ch, cfg.Sink.Queue)
		if err != nil {
			return nil, err
		}
		res.onClose(func() { _ = sink.Close() })
		res.checks["sink_amqp"] = func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}
		return sink, nil
	}
	return nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
}
