package bedrock

import "testing"

func TestSanitizeToolName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"get_weather", "get_weather"},
		{"get-weather!", "get_weather_"},
		{"my.domain.tool", "my_domain_tool"},
		{"123bad", "t_123bad"},
		{"", "tool"},
		{"---", "___"},
		{"HassTurnOn", "HassTurnOn"},
		{"tool name", "tool_name"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := SanitizeToolName(tt.in); got != tt.want {
				t.Errorf("SanitizeToolName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildToolNameMaps_NoCollisions(t *testing.T) {
	hostToWire, wireToHost := BuildToolNameMaps([]string{"get_weather", "set-thermostat"})

	if hostToWire["get_weather"] != "get_weather" {
		t.Errorf("get_weather → %q", hostToWire["get_weather"])
	}
	if hostToWire["set-thermostat"] != "set_thermostat" {
		t.Errorf("set-thermostat → %q", hostToWire["set-thermostat"])
	}
	if wireToHost["set_thermostat"] != "set-thermostat" {
		t.Errorf("reverse mapping = %q", wireToHost["set_thermostat"])
	}
}

func TestBuildToolNameMaps_CollisionSuffix(t *testing.T) {
	// "test.tool" sanitizes to "test_tool", colliding with the literal
	// "test_tool". First in input order keeps the clean name.
	hostToWire, wireToHost := BuildToolNameMaps([]string{"test.tool", "test_tool"})

	if hostToWire["test.tool"] != "test_tool" {
		t.Errorf("test.tool → %q, want test_tool", hostToWire["test.tool"])
	}
	if hostToWire["test_tool"] != "test_tool_2" {
		t.Errorf("test_tool → %q, want test_tool_2", hostToWire["test_tool"])
	}
	if wireToHost["test_tool"] != "test.tool" || wireToHost["test_tool_2"] != "test_tool" {
		t.Errorf("reverse mappings = %v", wireToHost)
	}
}

func TestBuildToolNameMaps_ThreeWayCollision(t *testing.T) {
	hostToWire, _ := BuildToolNameMaps([]string{"a.b", "a-b", "a_b"})

	seen := map[string]bool{}
	for _, host := range []string{"a.b", "a-b", "a_b"} {
		wire := hostToWire[host]
		if seen[wire] {
			t.Errorf("wire name %q assigned twice", wire)
		}
		seen[wire] = true
	}
	if !seen["a_b"] || !seen["a_b_2"] || !seen["a_b_3"] {
		t.Errorf("wire names = %v", hostToWire)
	}
}

func TestBuildToolNameMaps_Bijection(t *testing.T) {
	names := []string{"get_weather", "get-weather!", "123start", "", "dup_tool", "dup.tool"}
	hostToWire, wireToHost := BuildToolNameMaps(names)

	if len(hostToWire) != len(names) {
		t.Fatalf("hostToWire has %d entries, want %d", len(hostToWire), len(names))
	}
	for host, wire := range hostToWire {
		if wireToHost[wire] != host {
			t.Errorf("round trip broken: %q → %q → %q", host, wire, wireToHost[wire])
		}
	}
}

func TestIsNovaModel(t *testing.T) {
	tests := []struct {
		model string
		want  bool
	}{
		{"amazon.nova-pro-v1:0", true},
		{"us.amazon.nova-lite-v1:0", true},
		{"Amazon.NOVA-micro-v1:0", true},
		{"anthropic.claude-3-5-sonnet-20240620-v1:0", false},
		{"meta.llama3-70b-instruct-v1:0", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsNovaModel(tt.model); got != tt.want {
			t.Errorf("IsNovaModel(%q) = %v, want %v", tt.model, got, tt.want)
		}
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"PersonInfo", "personinfo"},
		{"Weather Report", "weather_report"},
		{"2ndOutput", "t_2ndoutput"},
	}

	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
