package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Registry is the process-wide map from call identifier to Session. Callers
// hold keys, not sessions, so a call can swap connections without leaving
// stale references behind.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	onRemove func(key string, reason string)
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// SetRemoveHook registers a callback invoked after every removal.
func (r *Registry) SetRemoveHook(hook func(key string, reason string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = hook
}

// GetOrCreate returns the session for key, creating an empty one on first use.
func (r *Registry) GetOrCreate(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		return s, false
	}
	s := newSession(key)
	r.sessions[key] = s
	return s, true
}

func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

// Remove deletes key. Removing a missing key is a no-op and reports false.
func (r *Registry) Remove(key string) bool {
	return r.remove(key, "removed")
}

func (r *Registry) remove(key, reason string) bool {
	r.mu.Lock()
	_, ok := r.sessions[key]
	delete(r.sessions, key)
	hook := r.onRemove
	r.mu.Unlock()
	if ok && hook != nil {
		hook(key, reason)
	}
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Range calls fn for a snapshot of the registered sessions.
func (r *Registry) Range(fn func(*Session)) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()
	for _, s := range snapshot {
		fn(s)
	}
}

// Sweep removes every session whose peer connections are all closed and
// returns the removed keys.
func (r *Registry) Sweep() []string {
	var orphans []string
	r.Range(func(s *Session) {
		if s.Orphaned() {
			orphans = append(orphans, s.Key())
		}
	})

	removed := make([]string, 0, len(orphans))
	for _, key := range orphans {
		r.mu.Lock()
		s, ok := r.sessions[key]
		r.mu.Unlock()
		// Re-check: a new "start" may have rebound the session since the scan.
		if !ok || !s.Orphaned() {
			continue
		}
		if r.remove(key, "swept") {
			removed = append(removed, key)
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration, onSweep func(removed []string)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := r.Sweep()
				if onSweep != nil {
					onSweep(removed)
				}
			}
		}
	}()
}
