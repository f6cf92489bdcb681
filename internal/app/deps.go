package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/parlance-app/backend/internal/airtable"
	"github.com/parlance-app/backend/internal/api/common"
	"github.com/parlance-app/backend/internal/infrastructure/config"
	"github.com/parlance-app/backend/internal/infrastructure/logging"
	"github.com/parlance-app/backend/internal/infrastructure/monitoring"
	"github.com/parlance-app/backend/internal/infrastructure/resilience"
	"github.com/parlance-app/backend/internal/stats"
	"github.com/parlance-app/backend/internal/storage"
	"github.com/parlance-app/backend/internal/store"
)

const (
	startupTimeout = 15 * time.Second
	redisPrefix    = "parlance:airtable:"
)

// Deps are the collaborators shared by a variant's routes. Each optional
// collaborator is nil when its configuration is absent.
type Deps struct {
	Config  *config.Config
	Logger  *logging.Logger
	Metrics *monitoring.Metrics

	DB       *sql.DB
	Store    *store.Store
	Airtable *airtable.Client
	Redis    *redis.Client
	Cache    *airtable.Cached
	Stats    *stats.Service
	Storage  *storage.Storage

	closers []func() error
}

// Close releases every connection opened by NewDeps.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	d.closers = nil
	return errors.Join(errs...)
}

// NewDeps connects the optional collaborators. A configured collaborator
// that cannot be reached is a startup error, except the bucket check,
// which only warns.
func NewDeps(ctx context.Context, cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) (*Deps, error) {
	d := &Deps{Config: cfg, Logger: logger, Metrics: metrics}

	ctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	if err := d.openStore(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	if err := d.openAirtable(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	if err := d.openStorage(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Deps) openStore(ctx context.Context) error {
	if d.Config.Database.URL == "" {
		d.Logger.Warn("DATABASE_URL not set; user routes will answer 503")
		return nil
	}

	db, err := store.Open(ctx, d.Config.Database.URL)
	if err != nil {
		return err
	}
	d.closers = append(d.closers, db.Close)

	if d.Config.Database.Migrate {
		if err := store.Migrate(db); err != nil {
			return err
		}
		d.Logger.Info("database migrated")
	}

	d.DB = db
	d.Store = store.New(db)
	return nil
}

func (d *Deps) openAirtable(ctx context.Context) error {
	ac := d.Config.Airtable
	if ac.APIKey == "" {
		d.Logger.Info("AIRTABLE_API_KEY not set; internal stats disabled")
		return nil
	}

	client, err := airtable.New(airtable.Config{
		APIKey:            ac.APIKey,
		BaseID:            ac.BaseID,
		RequestsPerSecond: ac.RPS,
		Logger:            d.Logger,
		Metrics:           d.Metrics,
	})
	if err != nil {
		return err
	}
	d.Airtable = client

	tiers := airtable.Tiered{airtable.NewMemoryStore(ac.CacheSize, ac.CacheTTL)}
	if d.Config.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:         d.Config.Redis.Addr,
			Password:     d.Config.Redis.Password,
			DB:           d.Config.Redis.DB,
			MaxRetries:   3,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		})
		d.closers = append(d.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis %s: %w", d.Config.Redis.Addr, err)
		}
		d.Redis = rdb
		tiers = append(tiers, airtable.NewRedisStore(rdb, redisPrefix, ac.CacheTTL))
	}

	d.Cache = airtable.NewCached(client, tiers, d.Metrics, d.Logger)
	d.Stats = &stats.Service{
		Source:     d.Cache,
		Table:      ac.StatsTable,
		DateField:  ac.DateField,
		GroupField: ac.GroupField,
	}
	return nil
}

func (d *Deps) openStorage(ctx context.Context) error {
	sc := d.Config.Storage
	if sc.Endpoint == "" {
		d.Logger.Info("S3_ENDPOINT not set; uploads disabled")
		return nil
	}

	s, err := storage.New(storage.Config{
		Endpoint:   sc.Endpoint,
		AccessKey:  sc.AccessKey,
		SecretKey:  sc.SecretKey,
		Bucket:     sc.Bucket,
		Region:     sc.Region,
		PresignTTL: sc.PresignTTL,
	})
	if err != nil {
		return err
	}
	if err := s.EnsureBucket(ctx); err != nil {
		d.Logger.Warn("bucket not ready", zap.String("bucket", sc.Bucket), zap.Error(err))
	}
	d.Storage = s
	return nil
}

// HealthChecks registers a probe for every connected collaborator.
func (d *Deps) HealthChecks(h *common.Handlers) {
	if d.DB != nil {
		h.AddCheck("postgres", d.Store.Ping)
	}
	if d.Redis != nil {
		h.AddCheck("redis", func(ctx context.Context) error {
			return d.Redis.Ping(ctx).Err()
		})
	}
	if d.Airtable != nil {
		client := d.Airtable
		h.AddCheck("airtable", func(context.Context) error {
			if client.BreakerState() == resilience.StateOpen {
				return errors.New("circuit open")
			}
			return nil
		})
	}
}
