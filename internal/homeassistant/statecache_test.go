package homeassistant

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestEntityFilter_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		entityID string
		want     bool
	}{
		{"empty patterns match all", nil, "light.kitchen", true},
		{"exact match", []string{"light.kitchen"}, "light.kitchen", true},
		{"glob star", []string{"person.*"}, "person.dan", true},
		{"glob star no match", []string{"person.*"}, "light.kitchen", false},
		{"wildcard in middle", []string{"binary_sensor.*door*"}, "binary_sensor.front_door", true},
		{"wildcard in middle no match", []string{"binary_sensor.*door*"}, "binary_sensor.motion", false},
		{"multiple patterns first match", []string{"person.*", "light.*"}, "person.dan", true},
		{"multiple patterns second match", []string{"person.*", "light.*"}, "light.kitchen", true},
		{"multiple patterns no match", []string{"person.*", "light.*"}, "switch.garage", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewEntityFilter(tt.patterns, nil)
			got := f.Match(tt.entityID)
			if got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.entityID, got, tt.want)
			}
		})
	}
}

func TestStateCache_WarmAndGet(t *testing.T) {
	cache := NewStateCache(nil, nil)

	cache.Warm([]State{
		{EntityID: "light.kitchen", State: "on"},
		{EntityID: "switch.garage", State: "off"},
	})

	if cache.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", cache.Len())
	}

	s, ok := cache.Get("light.kitchen")
	if !ok {
		t.Fatal("light.kitchen not found")
	}
	if s.State != "on" {
		t.Errorf("state = %q, want %q", s.State, "on")
	}

	if _, ok := cache.Get("light.missing"); ok {
		t.Error("unexpected hit for missing entity")
	}
}

func TestStateCache_WarmAppliesFilter(t *testing.T) {
	filter := NewEntityFilter([]string{"light.*"}, nil)
	cache := NewStateCache(filter, nil)

	cache.Warm([]State{
		{EntityID: "light.kitchen", State: "on"},
		{EntityID: "switch.garage", State: "off"},
	})

	if cache.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", cache.Len())
	}
	if _, ok := cache.Get("switch.garage"); ok {
		t.Error("filtered entity should not be cached")
	}
}

func TestStateCache_ListByDomain(t *testing.T) {
	cache := NewStateCache(nil, nil)
	cache.Warm([]State{
		{EntityID: "light.kitchen", State: "on"},
		{EntityID: "light.bedroom", State: "off"},
		{EntityID: "switch.garage", State: "off"},
	})

	lights := cache.List("light")
	if len(lights) != 2 {
		t.Fatalf("List(light) returned %d states, want 2", len(lights))
	}
	// Sorted by entity ID.
	if lights[0].EntityID != "light.bedroom" || lights[1].EntityID != "light.kitchen" {
		t.Errorf("unexpected order: %s, %s", lights[0].EntityID, lights[1].EntityID)
	}

	all := cache.List("")
	if len(all) != 3 {
		t.Fatalf("List(\"\") returned %d states, want 3", len(all))
	}
}

func TestStateCache_Run(t *testing.T) {
	events := make(chan Event, 10)
	cache := NewStateCache(NewEntityFilter([]string{"light.*"}, nil), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		cache.Run(ctx, events)
		close(done)
	}()

	events <- makeStateEvent(t, "light.kitchen", "off", "on")
	events <- makeStateEvent(t, "switch.garage", "off", "on") // filtered out
	events <- Event{Type: "automation_triggered", Data: json.RawMessage(`{}`)}

	waitFor(t, func() bool { return cache.Len() == 1 })

	s, ok := cache.Get("light.kitchen")
	if !ok || s.State != "on" {
		t.Errorf("light.kitchen = %+v (found %v), want state on", s, ok)
	}
	if _, ok := cache.Get("switch.garage"); ok {
		t.Error("filtered entity should not be cached")
	}

	// Entity removal clears the cached state.
	raw, _ := json.Marshal(StateChangedData{
		EntityID: "light.kitchen",
		OldState: &State{EntityID: "light.kitchen", State: "on"},
		NewState: nil,
	})
	events <- Event{Type: "state_changed", Data: raw}

	waitFor(t, func() bool { return cache.Len() == 0 })

	cancel()
	<-done
}

// makeStateEvent creates a state_changed Event for testing.
func makeStateEvent(t *testing.T, entityID, oldState, newState string) Event {
	t.Helper()
	data := StateChangedData{
		EntityID: entityID,
		OldState: &State{EntityID: entityID, State: oldState},
		NewState: &State{EntityID: entityID, State: newState},
	}
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal state data: %v", err)
	}
	return Event{Type: "state_changed", Data: raw}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
