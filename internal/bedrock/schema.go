package bedrock

// Nova-family models reject tool schemas carrying JSON-schema metadata
// ($schema, title, additionalProperties, ...). CleanSchema reduces a
// schema to the shape those models accept. The normalization is lossy
// and one-way; it is also idempotent, so re-cleaning an already-clean
// schema is a no-op.

// Key whitelists. A schema with a properties mapping is treated as an
// object schema; anything else is a property schema and may carry the
// wider nested set.
var (
	objectSchemaKeys   = []string{"type", "properties", "required"}
	propertySchemaKeys = []string{"type", "items", "enum", "description"}
)

// CleanSchema returns a copy of schema restricted to the fields the
// constrained Bedrock model families support. Non-mapping input is
// returned unchanged. The input is never mutated.
func CleanSchema(schema any) any {
	m, ok := schema.(map[string]any)
	if !ok {
		return schema
	}

	props, isObject := m["properties"].(map[string]any)

	allowed := propertySchemaKeys
	if isObject {
		allowed = objectSchemaKeys
	}

	out := make(map[string]any, len(allowed))
	for _, key := range allowed {
		value, present := m[key]
		if !present {
			continue
		}

		switch key {
		case "properties":
			cleanedProps := make(map[string]any, len(props))
			for name, sub := range props {
				cleaned := CleanSchema(sub)
				// A property reduced to nothing is dropped entirely.
				if cm, ok := cleaned.(map[string]any); ok && len(cm) == 0 {
					continue
				}
				cleanedProps[name] = cleaned
			}
			out[key] = cleanedProps

		case "items":
			cleaned := CleanSchema(value)
			if cm, ok := cleaned.(map[string]any); ok && len(cm) == 0 {
				continue
			}
			out[key] = cleaned

		default:
			out[key] = value
		}
	}

	// Object schemas must always carry required, and every required
	// entry must name an existing property.
	if out["type"] == "object" || hasKey(out, "properties") {
		cleanedProps, _ := out["properties"].(map[string]any)
		required := make([]string, 0)
		for _, name := range stringSlice(out["required"]) {
			if _, ok := cleanedProps[name]; ok {
				required = append(required, name)
			}
		}
		out["required"] = required
	}

	return out
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// stringSlice normalizes a required list, which arrives as []string
// from Go callers or []any from decoded JSON.
func stringSlice(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
