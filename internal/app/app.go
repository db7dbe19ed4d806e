// Package app assembles storage, identity and sync from configuration.
// The binaries under cmd/ stay thin and call into it.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dvloznov/finance-sync/internal/auth"
	"github.com/dvloznov/finance-sync/internal/blobstore"
	"github.com/dvloznov/finance-sync/internal/cloudsync"
	"github.com/dvloznov/finance-sync/internal/config"
	"github.com/dvloznov/finance-sync/internal/jobs"
	"github.com/dvloznov/finance-sync/internal/jobs/inmemory"
	"github.com/dvloznov/finance-sync/internal/kv"
	"github.com/dvloznov/finance-sync/internal/kv/memory"
	"github.com/dvloznov/finance-sync/internal/kv/rediskv"
	"github.com/dvloznov/finance-sync/internal/kv/sqlite"
	"github.com/dvloznov/finance-sync/internal/localstore"
	"github.com/dvloznov/finance-sync/internal/pipeline"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisNamespace prefixes every key finsync writes to Redis.
const RedisNamespace = "finsync:"

// ErrSyncDisabled is returned by Engine when no remote provider is configured.
var ErrSyncDisabled = errors.New("cloud sync is disabled")

// App holds the components shared by every entry point.
type App struct {
	Config   config.Config
	Backend  kv.Store
	Globals  *localstore.Globals
	Provider *auth.Provider

	log     zerolog.Logger
	redis   *redis.Client
	guard   cloudsync.Guard
	closers []func() error
}

// Open connects the configured storage backend and identity provider.
func Open(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, log: log}

	backend, err := a.openBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Backend = backend
	a.Globals = localstore.NewGlobals(backend, log)
	a.Provider = auth.NewProvider(
		cfg.Auth.ClientID,
		cfg.Auth.ClientSecret,
		cfg.Auth.RedirectURL,
		backend,
		auth.WithLogger(log),
	)
	return a, nil
}

func (a *App) openBackend(ctx context.Context) (kv.Store, error) {
	sc := a.Config.Storage
	switch sc.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(sc.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		s, err := sqlite.Open(sc.SQLitePath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		a.log.Debug().Str("path", sc.SQLitePath).Msg("Opened sqlite store")
		return s, nil
	case config.BackendRedis:
		s, err := rediskv.New(ctx, rediskv.Options{
			Addr:      sc.RedisAddr,
			Password:  sc.RedisPassword,
			DB:        sc.RedisDB,
			Namespace: RedisNamespace,
			Channel:   sc.RedisChannel,
		})
		if err != nil {
			return nil, err
		}
		a.redis = s.Client()
		a.closers = append(a.closers, s.Close)
		a.log.Debug().Str("addr", sc.RedisAddr).Msg("Connected to redis store")
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}
}

// Close releases every connection opened by Open.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Logger returns the application logger.
func (a *App) Logger() zerolog.Logger { return a.log }

// Store returns the local store scoped to userID.
func (a *App) Store(userID string) *localstore.Store {
	return localstore.New(a.Backend, userID, a.log)
}

// ImportOptions returns the configured import defaults.
func (a *App) ImportOptions() pipeline.Options {
	return pipeline.Options{
		Year:         a.Config.Import.DefaultYear,
		Payer:        a.Config.Import.DefaultPayer,
		AllowPartial: a.Config.Import.AllowPartial,
	}
}

// SyncEnabled reports whether a remote provider is configured.
func (a *App) SyncEnabled() bool {
	return a.Config.Remote.Provider != config.ProviderNone
}

// Engine builds a sync engine for the user owning store. The Drive provider
// needs a signed-in user; GCS uses application default credentials.
func (a *App) Engine(ctx context.Context, store cloudsync.LocalStore) (*cloudsync.Engine, error) {
	remote, err := a.Remote(ctx)
	if err != nil {
		return nil, err
	}
	return cloudsync.NewEngine(store, remote,
		cloudsync.WithGuard(a.Guard()),
		cloudsync.WithLogger(a.log),
	), nil
}

// Syncers returns a lookup for jobs.SyncHandler. One engine is built per
// user on first use and reused after that.
func (a *App) Syncers(ctx context.Context) func(userID string) jobs.Syncer {
	var mu sync.Mutex
	engines := make(map[string]*cloudsync.Engine)

	return func(userID string) jobs.Syncer {
		mu.Lock()
		defer mu.Unlock()

		if e, ok := engines[userID]; ok {
			return e
		}
		e, err := a.Engine(ctx, a.Store(userID))
		if err != nil {
			a.log.Error().Err(err).Str("user_id", userID).Msg("Cannot build sync engine")
			return nil
		}
		engines[userID] = e
		return e
	}
}

// NewQueue creates the sync job queue sized and retried per configuration.
func (a *App) NewQueue(store jobs.JobStore) *inmemory.Queue {
	return inmemory.NewQueue(a.Config.Sync.QueueSize, store,
		inmemory.WithMaxRetries(a.Config.Sync.MaxRetries),
		inmemory.WithLogger(a.log),
	)
}

// Remote connects the configured remote snapshot store.
func (a *App) Remote(ctx context.Context) (blobstore.Remote, error) {
	rc := a.Config.Remote
	switch rc.Provider {
	case config.ProviderDrive:
		ts, err := a.Provider.TokenSource(ctx)
		if err != nil {
			return nil, err
		}
		files, err := blobstore.NewDriveFiles(ctx, ts)
		if err != nil {
			return nil, err
		}
		return blobstore.NewDriveRemote(files, ts, rc.Folder, rc.File, a.log), nil
	case config.ProviderGCS:
		r, err := blobstore.NewGCSRemote(ctx, rc.GCSBucket, rc.Folder, rc.File, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		return r, nil
	case config.ProviderNone:
		return nil, ErrSyncDisabled
	default:
		return nil, fmt.Errorf("unknown remote provider %q", rc.Provider)
	}
}

// Guard returns the configured in-flight guard, shared by every engine the
// app builds. The Redis guard reuses the storage connection when the backend
// is Redis too.
func (a *App) Guard() cloudsync.Guard {
	if a.guard != nil {
		return a.guard
	}
	if a.Config.Sync.Guard != config.GuardRedis {
		a.guard = cloudsync.NewLocalGuard()
		return a.guard
	}
	if a.redis == nil {
		sc := a.Config.Storage
		a.redis = redis.NewClient(&redis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
		a.closers = append(a.closers, a.redis.Close)
	}
	a.guard = cloudsync.NewRedisGuard(a.redis, a.Config.Sync.LockTTL, a.log)
	return a.guard
}
