package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"selfquiz/internal/app"
	"selfquiz/internal/config"
	"selfquiz/internal/infra/memory"
	"selfquiz/internal/infra/postgres"
	redisinfra "selfquiz/internal/infra/redis"
	"selfquiz/internal/infra/sqlite"
	"selfquiz/internal/localstore"
)

// backends holds the adapters selected by config and closes them in reverse order.
type backends struct {
	redis   *redis.Client
	store   localstore.Store
	remote  app.RemoteSync
	content app.ContentProvider
	closers []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func (b *backends) redisClient(cfg config.Config) *redis.Client {
	if b.redis == nil && cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		client := b.redis
		b.closers = append(b.closers, func() { _ = client.Close() })
	}
	return b.redis
}

// openStore selects the device-local store.
func (b *backends) openStore(ctx context.Context, cfg config.Config) error {
	switch cfg.Store.Driver {
	case config.StoreSQLite, "":
		store, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		b.store = store
		b.closers = append(b.closers, func() { _ = store.Close() })
		log.Info().Str("path", cfg.Store.Path).Msg("using sqlite local store")
	case config.StoreRedis:
		client := b.redisClient(cfg)
		if client == nil {
			return fmt.Errorf("store driver redis needs redis.addr")
		}
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		b.store = redisinfra.NewStore(client, cfg.Store.Prefix)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis local store")
	case config.StoreMemory:
		b.store = memory.NewStore()
		log.Warn().Msg("using in-memory local store, nothing survives a restart")
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return nil
}

// openRemote selects the remote sync client. Without Postgres, account data
// lives in process for the lifetime of the server.
func (b *backends) openRemote(cfg config.Config) {
	if cfg.Postgres.URL == "" {
		b.remote = memory.NewRemoteSync()
		log.Warn().Msg("postgres not configured, remote sync kept in memory")
		return
	}
	remote := postgres.Open(cfg.Postgres.URL)
	b.remote = remote
	b.closers = append(b.closers, func() { _ = remote.Close() })
}

// openContent picks the content source and wraps it in a cache.
func (b *backends) openContent(ctx context.Context, cfg config.Config) error {
	var loader memory.ContentLoader
	switch {
	case cfg.Content.File != "":
		static, err := memory.LoadContentFile(cfg.Content.File)
		if err != nil {
			return err
		}
		loader = static
		log.Info().Str("file", cfg.Content.File).Strs("topics", static.Topics()).Msg("loaded content file")
	case cfg.Postgres.URL != "":
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("connect content pool: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		pg := postgres.NewContentLoader(pool)
		topics, err := pg.Topics(ctx)
		if err != nil {
			return err
		}
		loader = pg
		log.Info().Strs("topics", topics).Msg("using postgres content")
	default:
		static := memory.NewStaticContentLoader(sampleContent())
		loader = static
		log.Info().Strs("topics", static.Topics()).Msg("using built-in sample content")
	}

	contentTTL := config.TTLDuration(cfg.Content.TTL, 10*time.Minute)
	if client := b.redisClient(cfg); client != nil {
		b.content = redisinfra.NewContentRepository(client, loader, contentTTL)
	} else {
		b.content = memory.NewContentRepository(loader, contentTTL)
	}
	return nil
}

// openLedger opens the local store and remote client and loads the ledger.
func openLedger(ctx context.Context, cfg config.Config) (*app.Ledger, *backends, error) {
	b := &backends{}
	if err := b.openStore(ctx, cfg); err != nil {
		b.Close()
		return nil, nil, err
	}
	b.openRemote(cfg)
	ledger, err := app.NewLedger(ctx, b.store, b.remote,
		app.WithRemoteTimeout(config.TTLDuration(cfg.Postgres.RemoteTimeout, 10*time.Second)),
	)
	if err != nil {
		b.Close()
		return nil, nil, err
	}
	return ledger, b, nil
}
