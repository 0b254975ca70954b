package registry

import (
	"sort"
	"strings"
)

// ModelMapper resolves client-facing model names to Vertex publisher model ids.
// It is immutable after construction and safe for concurrent use.
type ModelMapper struct {
	mapping      map[string]string
	defaultModel string
}

// NewModelMapper builds a mapper from the built-in definitions, then applies overrides.
// Entries with an empty key or value are ignored. An empty defaultModel selects
// DefaultBackendModel.
func NewModelMapper(overrides map[string]string, defaultModel string) *ModelMapper {
	mapping := make(map[string]string)
	for _, info := range GetVertexClaudeModels() {
		mapping[info.ID] = info.Backend
	}
	for external, backend := range overrides {
		external = strings.TrimSpace(external)
		backend = strings.TrimSpace(backend)
		if external == "" || backend == "" {
			continue
		}
		mapping[external] = backend
	}
	defaultModel = strings.TrimSpace(defaultModel)
	if defaultModel == "" {
		defaultModel = DefaultBackendModel
	}
	return &ModelMapper{mapping: mapping, defaultModel: defaultModel}
}

// Resolve returns the backend model for name. Unknown names degrade to the default
// backend model; Resolve never fails.
func (m *ModelMapper) Resolve(name string) string {
	if m == nil {
		return DefaultBackendModel
	}
	if backend, ok := m.mapping[strings.TrimSpace(name)]; ok {
		return backend
	}
	return m.defaultModel
}

// DefaultModel returns the fallback backend model.
func (m *ModelMapper) DefaultModel() string {
	if m == nil {
		return DefaultBackendModel
	}
	return m.defaultModel
}

// Models returns the mapped client-facing names in sorted order.
func (m *ModelMapper) Models() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.mapping))
	for external := range m.mapping {
		out = append(out, external)
	}
	sort.Strings(out)
	return out
}
