package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/shaiso/dagflow/internal/api"
	"github.com/shaiso/dagflow/internal/config"
	"github.com/shaiso/dagflow/internal/orchestrator"
	"github.com/shaiso/dagflow/internal/repo"
	"github.com/shaiso/dagflow/internal/scheduler"
)

// runStore — хранилище runs для orchestrator и API.
type runStore interface {
	orchestrator.RunStore
	api.RunLister
}

// stores — выбранные хранилища и их закрытие.
type stores struct {
	runs        runStore
	definitions api.DefinitionCatalog
	history     orchestrator.HistoryStore

	closers []func()
}

// Close закрывает хранилища в обратном порядке.
func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores подключает хранилища по storage.mode и storage.history.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stores, error) {
	st := &stores{}

	switch cfg.Storage.Mode {
	case config.StoragePostgres:
		pool, err := repo.NewPool(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		st.closers = append(st.closers, pool.Close)
		logger.Info("database connected")

		if err := repo.Migrate(ctx, pool); err != nil {
			st.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}

		st.runs = repo.NewRunRepo(pool)
		st.definitions = repo.NewDefinitionRepo(pool)
		if cfg.Storage.History == config.StoragePostgres {
			st.history = repo.NewHistoryRepo(pool)
		}

	default:
		mem := repo.NewMemoryStore()
		st.runs = mem
		st.definitions = mem
		if cfg.Storage.History == config.StorageMemory {
			st.history = mem
		}
		logger.Warn("using in-memory storage, state is lost on restart")
	}

	if cfg.Storage.History == config.StorageBadger {
		badger, err := repo.OpenBadgerHistory(cfg.Storage.BadgerDir)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("open badger history: %w", err)
		}
		st.closers = append(st.closers, func() {
			if err := badger.Close(); err != nil {
				logger.Error("failed to close badger history", "error", err)
			}
		})
		st.history = badger
		logger.Info("badger history opened", "dir", cfg.Storage.BadgerDir)
	}

	if st.history == nil {
		st.Close()
		return nil, fmt.Errorf("unsupported history store %q for storage %q", cfg.Storage.History, cfg.Storage.Mode)
	}
	return st, nil
}

// openRetryQueue выбирает очередь повторов по retry_queue.backend.
func openRetryQueue(ctx context.Context, cfg *config.Config, logger *slog.Logger) (scheduler.RetryQueue, func(), error) {
	if cfg.RetryQueue.Backend != config.QueueRedis {
		return scheduler.NewMemoryRetryQueue(), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RetryQueue.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	logger.Info("redis retry queue connected", "addr", opts.Addr)

	return repo.NewRedisRetryQueue(client, cfg.RetryQueue.KeyPrefix), func() { client.Close() }, nil
}
