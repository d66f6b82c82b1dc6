package homeassistant

import (
	"context"
	"encoding/json"
	"log/slog"
	"path"
	"sync"
	"time"
)

// EntityFilter selects which entity IDs to record using glob patterns.
// An empty filter matches all entities.
type EntityFilter struct {
	patterns []string
	logger   *slog.Logger
}

// NewEntityFilter creates an entity filter from glob patterns. Patterns
// use [path.Match] syntax (e.g., "light.*", "binary_sensor.*door*").
// An empty pattern list means all entities match.
func NewEntityFilter(globs []string, logger *slog.Logger) *EntityFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntityFilter{patterns: globs, logger: logger}
}

// Match reports whether the entity ID matches at least one pattern.
// If no patterns are configured, Match always returns true.
func (f *EntityFilter) Match(entityID string) bool {
	if len(f.patterns) == 0 {
		return true
	}
	for _, pat := range f.patterns {
		matched, err := path.Match(pat, entityID)
		if err != nil {
			f.logger.Debug("glob match error", "pattern", pat, "entity_id", entityID, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// Change is a single recorded state transition.
type Change struct {
	EntityID string    `json:"entity_id"`
	OldState string    `json:"old_state"`
	NewState string    `json:"new_state"`
	When     time.Time `json:"when"`
}

// ChangeRecorder consumes state_changed events from a WebSocket event
// channel and keeps the most recent transitions in a fixed-size ring.
// Attribute-only updates (state string unchanged) are skipped.
type ChangeRecorder struct {
	events <-chan Event
	filter *EntityFilter
	logger *slog.Logger

	mu   sync.Mutex
	ring []Change
	next int
	full bool
}

// DefaultRecorderCapacity bounds memory for the recent-changes ring.
const DefaultRecorderCapacity = 500

// NewChangeRecorder creates a recorder that consumes events from the
// given channel. A nil filter records all entities. A capacity of zero
// or less uses DefaultRecorderCapacity.
func NewChangeRecorder(events <-chan Event, filter *EntityFilter, capacity int, logger *slog.Logger) *ChangeRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	if filter == nil {
		filter = NewEntityFilter(nil, logger)
	}
	if capacity <= 0 {
		capacity = DefaultRecorderCapacity
	}
	return &ChangeRecorder{
		events: events,
		filter: filter,
		logger: logger,
		ring:   make([]Change, capacity),
	}
}

// Run reads events from the channel until the context is cancelled or
// the channel is closed. It blocks the calling goroutine.
func (r *ChangeRecorder) Run(ctx context.Context) {
	r.logger.Info("change recorder started")
	defer r.logger.Info("change recorder stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.events:
			if !ok {
				return
			}
			r.handleEvent(ev)
		}
	}
}

// handleEvent processes a single event from the channel.
func (r *ChangeRecorder) handleEvent(ev Event) {
	if ev.Type != "state_changed" {
		return
	}

	var data StateChangedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		r.logger.Debug("failed to unmarshal state_changed data", "error", err)
		return
	}

	// Skip entity removals (NewState is nil when an entity is deleted).
	if data.NewState == nil {
		return
	}

	if !r.filter.Match(data.EntityID) {
		return
	}

	oldState := ""
	if data.OldState != nil {
		oldState = data.OldState.State
	}

	// Attribute-only updates carry the same state string. Not interesting
	// for a "what changed recently" view.
	if oldState == data.NewState.State {
		return
	}

	when := ev.TimeFired
	if when.IsZero() {
		when = time.Now()
	}

	r.record(Change{
		EntityID: data.EntityID,
		OldState: oldState,
		NewState: data.NewState.State,
		When:     when,
	})
}

// record appends a change to the ring, overwriting the oldest entry
// when the ring is full.
func (r *ChangeRecorder) record(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ring[r.next] = c
	r.next++
	if r.next == len(r.ring) {
		r.next = 0
		r.full = true
	}
}

// Recent returns up to limit changes, newest first. A limit of zero or
// less returns all recorded changes.
func (r *ChangeRecorder) Recent(limit int) []Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = len(r.ring)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Change, 0, limit)
	for i := 0; i < limit; i++ {
		// Walk backwards from the most recently written slot.
		idx := (r.next - 1 - i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}

// Len returns the number of changes currently recorded.
func (r *ChangeRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.ring)
	}
	return r.next
}
