package jobs

import (
	"context"
	"errors"
	"fmt"
)

// ErrSyncFailed marks a sync attempt that reported failure.
var ErrSyncFailed = errors.New("sync failed")

// Syncer runs the three sync directions for one user.
type Syncer interface {
	SyncToCloud(ctx context.Context) bool
	SyncFromCloud(ctx context.Context) bool
	FullSync(ctx context.Context) bool
}

// SyncHandler returns a JobHandler that runs jobs on the Syncer lookup
// returns for the job's user. onPulled, if set, runs after every successful
// pull so in-memory state can be refreshed.
func SyncHandler(lookup func(userID string) Syncer, onPulled func(userID string)) JobHandler {
	return func(ctx context.Context, job *SyncJob) error {
		s := lookup(job.UserID)
		if s == nil {
			return fmt.Errorf("no sync engine for user %s", job.UserID)
		}

		var ok bool
		switch job.Type {
		case JobTypeSyncToCloud:
			ok = s.SyncToCloud(ctx)
		case JobTypeSyncFromCloud:
			ok = s.SyncFromCloud(ctx)
		case JobTypeFullSync:
			ok = s.FullSync(ctx)
		default:
			return fmt.Errorf("unknown job type %q", job.Type)
		}
		if !ok {
			return fmt.Errorf("%s: %w", job.Type, ErrSyncFailed)
		}

		if onPulled != nil && job.Type != JobTypeSyncToCloud {
			onPulled(job.UserID)
		}
		return nil
	}
}
