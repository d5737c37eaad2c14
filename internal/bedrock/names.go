package bedrock

import (
	"fmt"
	"strings"
)

// Tool names on the Converse wire must match [0-9A-Za-z_]+ and must
// not start with a digit. Host tool names (e.g. "my.domain.my-tool")
// routinely violate both, so every request carries a bidirectional
// mapping between host names and wire-safe names.

// SanitizeToolName converts a host tool name into a wire-safe
// candidate: every character outside [0-9A-Za-z_] becomes "_", a
// leading digit gains a "t_" prefix, and an empty result falls back to
// the literal "tool".
func SanitizeToolName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	s := b.String()
	if s == "" {
		return "tool"
	}
	if s[0] >= '0' && s[0] <= '9' {
		return "t_" + s
	}
	return s
}

// BuildToolNameMaps builds the host→wire and wire→host name mappings
// for an ordered tool list. The two maps are exact inverses over the
// input set. When two host names sanitize to the same candidate, the
// first tool in input order claims the unsuffixed name and later ones
// get the first free numeric suffix ("_2", "_3", ...). Deterministic
// for a fixed input order.
func BuildToolNameMaps(hostNames []string) (hostToWire, wireToHost map[string]string) {
	hostToWire = make(map[string]string, len(hostNames))
	wireToHost = make(map[string]string, len(hostNames))

	for _, host := range hostNames {
		candidate := SanitizeToolName(host)

		if claimed, ok := wireToHost[candidate]; ok && claimed != host {
			base := candidate
			for n := 2; ; n++ {
				candidate = fmt.Sprintf("%s_%d", base, n)
				if owner, taken := wireToHost[candidate]; !taken || owner == host {
					break
				}
			}
		}

		hostToWire[host] = candidate
		wireToHost[candidate] = host
	}

	return hostToWire, wireToHost
}

// IsNovaModel reports whether the model identifier names an Amazon
// Nova family model, which needs schema cleaning and deterministic
// decoding overrides when tools are present.
func IsNovaModel(modelID string) bool {
	return strings.Contains(strings.ToLower(modelID), "nova")
}

// Slugify lowercases a name and sanitizes it for use as a wire tool
// name (used for the structured-output pseudo-tool).
func Slugify(name string) string {
	return SanitizeToolName(strings.ToLower(name))
}
