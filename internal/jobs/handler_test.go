package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeSyncer struct {
	result bool
	calls  []string
}

func (f *fakeSyncer) SyncToCloud(context.Context) bool {
	f.calls = append(f.calls, "push")
	return f.result
}

func (f *fakeSyncer) SyncFromCloud(context.Context) bool {
	f.calls = append(f.calls, "pull")
	return f.result
}

func (f *fakeSyncer) FullSync(context.Context) bool {
	f.calls = append(f.calls, "full")
	return f.result
}

func TestSyncHandler(t *testing.T) {
	tests := []struct {
		name       string
		jobType    JobType
		result     bool
		wantCall   string
		wantErr    bool
		wantPulled bool
	}{
		{"push", JobTypeSyncToCloud, true, "push", false, false},
		{"pull", JobTypeSyncFromCloud, true, "pull", false, true},
		{"full", JobTypeFullSync, true, "full", false, true},
		{"failed pull", JobTypeSyncFromCloud, false, "pull", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &fakeSyncer{result: tt.result}
			var pulled []string
			h := SyncHandler(
				func(string) Syncer { return s },
				func(userID string) { pulled = append(pulled, userID) },
			)

			err := h(context.Background(), &SyncJob{UserID: "u1", Type: tt.jobType})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSyncFailed)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, []string{tt.wantCall}, s.calls)
			assert.Equal(t, tt.wantPulled, len(pulled) == 1)
		})
	}
}

func TestSyncHandler_UnknownUserOrType(t *testing.T) {
	h := SyncHandler(func(string) Syncer { return nil }, nil)
	assert.Error(t, h(context.Background(), &SyncJob{UserID: "ghost", Type: JobTypeFullSync}))

	s := &fakeSyncer{result: true}
	h = SyncHandler(func(string) Syncer { return s }, nil)
	assert.Error(t, h(context.Background(), &SyncJob{UserID: "u1", Type: "bogus"}))
	assert.Empty(t, s.calls)
}
