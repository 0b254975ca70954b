package registry

import (
	"sort"
	"testing"
)

func TestModelMapper_Resolve(t *testing.T) {
	mapper := NewModelMapper(nil, "")

	tests := []struct {
		name     string
		external string
		want     string
	}{
		{"sonnet alias", "claude-4-sonnet", "claude-sonnet-4"},
		{"opus alias", "claude-4-opus", "claude-opus-4"},
		{"3.5 sonnet maps to v2", "claude-3-5-sonnet", "claude-3-5-sonnet-v2"},
		{"haiku", "claude-3-haiku", "claude-3-haiku"},
		{"surrounding whitespace", "  claude-3-7-sonnet ", "claude-3-7-sonnet"},
		{"unknown model falls back", "unknown-model", "claude-sonnet-4"},
		{"empty name falls back", "", "claude-sonnet-4"},
		{"openai name falls back", "gpt-4o", "claude-sonnet-4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapper.Resolve(tt.external); got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.external, got, tt.want)
			}
		})
	}
}

func TestModelMapper_Overrides(t *testing.T) {
	mapper := NewModelMapper(map[string]string{
		"gpt-4o":          "claude-opus-4",
		"claude-4-sonnet": "claude-sonnet-4@20250514",
		"":                "ignored",
		"blank-target":    "  ",
	}, "claude-3-5-haiku")

	tests := []struct {
		external string
		want     string
	}{
		{"gpt-4o", "claude-opus-4"},
		{"claude-4-sonnet", "claude-sonnet-4@20250514"},
		{"blank-target", "claude-3-5-haiku"},
		{"something-else", "claude-3-5-haiku"},
	}
	for _, tt := range tests {
		if got := mapper.Resolve(tt.external); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.external, got, tt.want)
		}
	}
	if mapper.DefaultModel() != "claude-3-5-haiku" {
		t.Errorf("DefaultModel() = %q", mapper.DefaultModel())
	}
}

func TestModelMapper_NilReceiver(t *testing.T) {
	var mapper *ModelMapper
	if got := mapper.Resolve("claude-4-opus"); got != DefaultBackendModel {
		t.Errorf("nil Resolve() = %q, want %q", got, DefaultBackendModel)
	}
	if mapper.Models() != nil {
		t.Error("nil Models() should be nil")
	}
}

func TestModelMapper_Models(t *testing.T) {
	mapper := NewModelMapper(map[string]string{"gpt-4o": "claude-opus-4"}, "")
	models := mapper.Models()

	if !sort.StringsAreSorted(models) {
		t.Errorf("Models() not sorted: %v", models)
	}
	want := len(GetVertexClaudeModels()) + 1
	if len(models) != want {
		t.Errorf("len(Models()) = %d, want %d", len(models), want)
	}
}

func TestGetVertexClaudeModels_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for _, info := range GetVertexClaudeModels() {
		if info.ID == "" || info.Backend == "" {
			t.Errorf("model definition missing id or backend: %+v", info)
		}
		if seen[info.ID] {
			t.Errorf("duplicate model id %q", info.ID)
		}
		seen[info.ID] = true
	}
	if !seen["claude-4-sonnet"] {
		t.Error("claude-4-sonnet must be defined")
	}
}
