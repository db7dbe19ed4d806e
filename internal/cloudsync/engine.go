// Package cloudsync reconciles the local snapshot of a user with the remote
// copy. Every entry point reports success as a bool and never returns an
// error: failures are logged and leave local state untouched.
package cloudsync

import (
	"context"
	"sync"
	"time"

	"github.com/dvloznov/finance-sync/internal/blobstore"
	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/localstore"
	"github.com/rs/zerolog"
)

// Sync directions, also used as guard keys.
const (
	DirectionPush = "push"
	DirectionPull = "pull"
)

// LocalStore is the part of the scoped local store the engine needs.
type LocalStore interface {
	UserID() string
	Snapshot() domain.Snapshot
	ApplySnapshot(snap domain.Snapshot) error
	SyncMeta() localstore.SyncMeta
	SetSyncMeta(meta localstore.SyncMeta) error
}

// Engine runs push, pull and full syncs for one user. A push and a pull may
// run at the same time; their writes to local state are serialised.
type Engine struct {
	store  LocalStore
	remote blobstore.Remote
	guard  Guard
	now    func() time.Time
	log    zerolog.Logger

	// stateMu covers the pull's read-merge-write and the push's metadata
	// update.
	stateMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithGuard replaces the default in-process guard.
func WithGuard(g Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the engine logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// NewEngine creates an engine syncing store with remote.
func NewEngine(store LocalStore, remote blobstore.Remote, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		remote: remote,
		guard:  NewLocalGuard(),
		now:    time.Now,
		log:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With().Str("user_id", store.UserID()).Logger()
	return e
}

// SyncToCloud uploads the full local snapshot stamped with the current time.
// On success the stamped lastSync and version are recorded locally.
func (e *Engine) SyncToCloud(ctx context.Context) bool {
	log := e.log.With().Str("direction", DirectionPush).Logger()

	release, ok := e.begin(ctx, DirectionPush, log)
	if !ok {
		return false
	}
	defer release()

	snap := e.store.Snapshot()
	snap.LastSync = e.now().UTC()

	if err := e.remote.Upload(ctx, snap); err != nil {
		log.Error().Err(err).Msg("Failed to upload snapshot")
		return false
	}

	e.recordPush(snap, log)

	log.Info().Int("version", snap.Version).Int("count", snap.Len()).Msg("Pushed snapshot")
	return true
}

// SyncFromCloud downloads the remote snapshot, merges it with the current
// local snapshot and writes the result locally. It returns false when there
// is no remote data yet; nothing is written in that case.
func (e *Engine) SyncFromCloud(ctx context.Context) bool {
	log := e.log.With().Str("direction", DirectionPull).Logger()

	release, ok := e.begin(ctx, DirectionPull, log)
	if !ok {
		return false
	}
	defer release()

	cloud, err := e.remote.Download(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to download snapshot")
		return false
	}
	if cloud == nil {
		log.Info().Msg("No remote snapshot to pull")
		return false
	}

	e.stateMu.Lock()
	local := e.store.Snapshot()
	merged, winner := merge(local, *cloud, e.now())
	err = e.store.ApplySnapshot(merged)
	e.stateMu.Unlock()
	if err != nil {
		log.Error().Err(err).Msg("Failed to write merged snapshot")
		return false
	}

	log.Info().
		Str("winner", string(winner)).
		Int("version", merged.Version).
		Int("count", merged.Len()).
		Msg("Pulled snapshot")
	return true
}

// FullSync pulls, then pushes regardless of the pull result so local-only
// data reaches the remote. It reports whether either half succeeded.
func (e *Engine) FullSync(ctx context.Context) bool {
	pulled := e.SyncFromCloud(ctx)
	pushed := e.SyncToCloud(ctx)
	return pulled || pushed
}

// recordPush stores the pushed lastSync and version locally, unless a pull
// wrote a newer version while the upload was running.
func (e *Engine) recordPush(snap domain.Snapshot, log zerolog.Logger) {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	if cur := e.store.SyncMeta(); cur.Version > snap.Version {
		log.Info().
			Int("version", snap.Version).
			Int("local_version", cur.Version).
			Msg("Local snapshot changed during push; keeping its sync metadata")
		return
	}

	meta := localstore.SyncMeta{LastSync: snap.LastSync, Version: snap.Version}
	if err := e.store.SetSyncMeta(meta); err != nil {
		// The remote already has the data; the next merge uses stale local
		// metadata and resolves towards the cloud copy.
		log.Warn().Err(err).Msg("Uploaded snapshot but failed to record sync metadata")
	}
}

func (e *Engine) begin(ctx context.Context, direction string, log zerolog.Logger) (func(), bool) {
	if !e.remote.IsAvailable() {
		log.Warn().Msg("Remote store unavailable")
		return nil, false
	}
	release, ok := e.guard.TryAcquire(ctx, e.store.UserID()+":"+direction)
	if !ok {
		log.Info().Msg("Sync already in flight")
		return nil, false
	}
	return release, true
}
