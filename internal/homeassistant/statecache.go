package homeassistant

import (
	"context"
	"encoding/json"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"
)

// EntityFilter selects which entity IDs to track using glob patterns.
// An empty filter matches all entities.
type EntityFilter struct {
	patterns []string
	logger   *slog.Logger
}

// NewEntityFilter creates an entity filter from glob patterns. Patterns
// use [path.Match] syntax (e.g., "person.*", "binary_sensor.*door*").
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

// StateCache holds a live copy of entity states. It is warmed from a
// full REST snapshot and kept current by consuming state_changed events
// from the WebSocket event channel.
type StateCache struct {
	mu       sync.RWMutex
	states   map[string]State
	warmedAt time.Time

	filter *EntityFilter
	logger *slog.Logger
}

// NewStateCache creates a state cache. A nil filter tracks every
// entity.
func NewStateCache(filter *EntityFilter, logger *slog.Logger) *StateCache {
	if logger == nil {
		logger = slog.Default()
	}
	if filter == nil {
		filter = NewEntityFilter(nil, logger)
	}
	return &StateCache{
		states: make(map[string]State),
		filter: filter,
		logger: logger,
	}
}

// Warm replaces the cache contents with a full state snapshot.
func (c *StateCache) Warm(states []State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states = make(map[string]State, len(states))
	for _, s := range states {
		if c.filter.Match(s.EntityID) {
			c.states[s.EntityID] = s
		}
	}
	c.warmedAt = time.Now()
	c.logger.Info("state cache warmed", "entities", len(c.states))
}

// Get returns the cached state for an entity ID.
func (c *StateCache) Get(entityID string) (State, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.states[entityID]
	return s, ok
}

// List returns cached states, optionally restricted to a domain,
// sorted by entity ID.
func (c *StateCache) List(domain string) []State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]State, 0, len(c.states))
	for _, s := range c.states {
		if domain != "" && s.Domain() != domain {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out
}

// Len returns the number of cached entities.
func (c *StateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.states)
}

// Run consumes events from the channel until the context is cancelled
// or the channel is closed. It blocks the calling goroutine.
func (c *StateCache) Run(ctx context.Context, events <-chan Event) {
	c.logger.Info("state cache started")
	defer c.logger.Info("state cache stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.handleEvent(ev)
		}
	}
}

// handleEvent applies a single state_changed event to the cache.
func (c *StateCache) handleEvent(ev Event) {
	if ev.Type != "state_changed" {
		return
	}

	var data StateChangedData
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		c.logger.Debug("failed to unmarshal state_changed data", "error", err)
		return
	}

	if !c.filter.Match(data.EntityID) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// NewState is nil when an entity is removed.
	if data.NewState == nil {
		delete(c.states, data.EntityID)
		return
	}
	c.states[data.EntityID] = *data.NewState
}
