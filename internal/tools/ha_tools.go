package tools

import (
	"context"
	"fmt"

	"github.com/nugget/ember-agent/internal/homeassistant"
)

// HAClient is the Home Assistant surface the builtin tools need.
// Satisfied by *homeassistant.Client.
type HAClient interface {
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
	GetStates(ctx context.Context) ([]homeassistant.State, error)
	CallService(ctx context.Context, domain, service string, data map[string]any) ([]homeassistant.State, error)
}

// RegisterHomeAssistant registers the builtin Home Assistant tools.
// The cache is optional; when present, list_entities and get_state are
// served from it instead of hitting the REST API.
func RegisterHomeAssistant(r *Registry, ha HAClient, cache *homeassistant.StateCache) {
	registerGetState(r, ha, cache)
	registerListEntities(r, ha, cache)
	registerCallService(r, ha)
}

func registerGetState(r *Registry, ha HAClient, cache *homeassistant.StateCache) {
	r.Register(&Tool{
		Name:        "get_state",
		Description: "Get the current state of a Home Assistant entity, including its attributes. Use this to check whether a light is on, read a sensor value, or inspect any entity by entity_id.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"entity_id": map[string]any{
					"type":        "string",
					"description": "Entity ID, e.g., 'light.kitchen' or 'sensor.outdoor_temperature'",
				},
			},
			"required": []string{"entity_id"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			entityID, _ := args["entity_id"].(string)
			if entityID == "" {
				return nil, fmt.Errorf("entity_id is required")
			}

			var state homeassistant.State
			if cache != nil {
				if s, ok := cache.Get(entityID); ok {
					state = s
				}
			}
			if state.EntityID == "" {
				s, err := ha.GetState(ctx, entityID)
				if err != nil {
					return nil, fmt.Errorf("get state %s: %w", entityID, err)
				}
				state = *s
			}

			return map[string]any{
				"entity_id":     state.EntityID,
				"state":         state.State,
				"friendly_name": state.FriendlyName(),
				"attributes":    state.Attributes,
				"last_changed":  state.LastChanged,
			}, nil
		},
	})
}

func registerListEntities(r *Registry, ha HAClient, cache *homeassistant.StateCache) {
	r.Register(&Tool{
		Name:        "list_entities",
		Description: "List Home Assistant entities with their current states, optionally filtered by domain. Use this to discover entity IDs when the user refers to a device by name.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"domain": map[string]any{
					"type":        "string",
					"description": "Entity domain to filter by, e.g., 'light', 'switch', 'sensor'. Omit for all domains.",
				},
			},
			"required": []string{},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			domain, _ := args["domain"].(string)

			var states []homeassistant.State
			if cache != nil && cache.Len() > 0 {
				states = cache.List(domain)
			} else {
				all, err := ha.GetStates(ctx)
				if err != nil {
					return nil, fmt.Errorf("get states: %w", err)
				}
				for _, s := range all {
					if domain == "" || s.Domain() == domain {
						states = append(states, s)
					}
				}
			}

			entities := make([]map[string]any, 0, len(states))
			for _, s := range states {
				entities = append(entities, map[string]any{
					"entity_id":     s.EntityID,
					"state":         s.State,
					"friendly_name": s.FriendlyName(),
				})
			}

			return map[string]any{
				"count":    len(entities),
				"entities": entities,
			}, nil
		},
	})
}

func registerCallService(r *Registry, ha HAClient) {
	r.Register(&Tool{
		Name:        "call_service",
		Description: "Call a Home Assistant service to control a device, e.g., turn a light on or off, set a thermostat, or lock a door. Specify the domain, service, and service data including entity_id.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"domain": map[string]any{
					"type":        "string",
					"description": "Service domain, e.g., 'light', 'switch', 'climate'",
				},
				"service": map[string]any{
					"type":        "string",
					"description": "Service name, e.g., 'turn_on', 'turn_off', 'set_temperature'",
				},
				"data": map[string]any{
					"type":        "object",
					"description": "Service data, typically including 'entity_id' plus service-specific fields like 'brightness' or 'temperature'",
				},
			},
			"required": []string{"domain", "service"},
		},
		Handler: func(ctx context.Context, args map[string]any) (any, error) {
			domain, _ := args["domain"].(string)
			service, _ := args["service"].(string)
			if domain == "" || service == "" {
				return nil, fmt.Errorf("domain and service are required")
			}
			data, _ := args["data"].(map[string]any)

			changed, err := ha.CallService(ctx, domain, service, data)
			if err != nil {
				return nil, fmt.Errorf("call %s.%s: %w", domain, service, err)
			}

			changedIDs := make([]string, 0, len(changed))
			for _, s := range changed {
				changedIDs = append(changedIDs, s.EntityID)
			}

			return map[string]any{
				"success":          true,
				"service":          domain + "." + service,
				"changed_entities": changedIDs,
			}, nil
		},
	})
}
