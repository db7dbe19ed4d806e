package cloudsync

import (
	"time"

	"github.com/dvloznov/finance-sync/internal/domain"
)

// Winner names the side whose collections a merge kept.
type Winner string

const (
	WinnerLocal Winner = "local"
	WinnerCloud Winner = "cloud"
)

// Merge reconciles the local and cloud snapshots at whole-snapshot
// granularity: the side with the strictly later lastSync supplies every
// collection and ties go to local. Records added only on the losing side
// are dropped.
//
// The result's version is one above both inputs and its lastSync is the
// latest of now and both inputs, so it never moves backwards when the
// local clock lags another device.
func Merge(local, cloud domain.Snapshot, now time.Time) domain.Snapshot {
	merged, _ := merge(local, cloud, now)
	return merged
}

func merge(local, cloud domain.Snapshot, now time.Time) (domain.Snapshot, Winner) {
	base, winner := local, WinnerLocal
	if cloud.LastSync.After(local.LastSync) {
		base, winner = cloud, WinnerCloud
	}

	merged := base.Normalize()
	merged.Version = max(local.Version, cloud.Version) + 1
	merged.LastSync = latest(now.UTC(), local.LastSync, cloud.LastSync)
	return merged, winner
}

func latest(first time.Time, rest ...time.Time) time.Time {
	out := first
	for _, t := range rest {
		if t.After(out) {
			out = t
		}
	}
	return out
}
