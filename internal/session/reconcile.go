package session

import (
	"time"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/kv"
)

// ReconcileStorageEvent re-reads the collection stored under key after
// another execution context wrote it. Keys of other users are ignored.
func (s *Session) ReconcileStorageEvent(key string) bool {
	c, ok := s.store.CollectionForKey(key)
	if !ok {
		return false
	}
	return s.reconcile(TriggerStorage, c)
}

// ReconcileFocus re-reads every collection, as when the user comes back
// to the application.
func (s *Session) ReconcileFocus() bool {
	return s.reconcile(TriggerFocus, domain.Collections...)
}

// ReconcilePoll adds stored records missing from memory without
// replacing or removing any in-memory record.
func (s *Session) ReconcilePoll() bool {
	return s.reconcile(TriggerPoll, domain.Collections...)
}

// Reload re-reads every collection after the local store was rewritten
// in bulk, such as by a cloud pull.
func (s *Session) Reload() bool {
	return s.reconcile(TriggerReload, domain.Collections...)
}

// NotifyFocus asks the session to reconcile on its own goroutine.
// Notifications arriving while one is queued collapse into it.
func (s *Session) NotifyFocus() {
	select {
	case s.focusCh <- struct{}{}:
	default:
	}
}

// reconcile runs the shared reconciliation routine for the given
// collections and notifies listeners of those that changed.
func (s *Session) reconcile(trigger Trigger, collections ...domain.Collection) bool {
	var changed []domain.Collection

	s.mu.Lock()
	if s.closed || !s.started {
		s.mu.Unlock()
		return false
	}
	for _, c := range collections {
		h := s.handle(c)
		if h != nil && h.reconcile(trigger) {
			changed = append(changed, c)
		}
	}
	s.mu.Unlock()

	for _, c := range changed {
		s.log.Debug().Str("trigger", string(trigger)).Str("collection", string(c)).Msg("Reconciled external change")
		s.changed(c)
	}
	return len(changed) > 0
}

func (s *Session) handle(c domain.Collection) tracked {
	for _, h := range s.handles {
		if h.Collection() == c {
			return h
		}
	}
	return nil
}

func (s *Session) watchStorage(changes <-chan kv.Change) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ch, ok := <-changes:
			if !ok {
				return
			}
			s.ReconcileStorageEvent(ch.Key)
		}
	}
}

func (s *Session) poll() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.ReconcilePoll()
		}
	}
}

func (s *Session) watchFocus() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.focusCh:
			s.ReconcileFocus()
		}
	}
}
