// Package registry provides the static model definitions served by the proxy and the
// resolver mapping client-facing model names onto Vertex AI publisher model ids.
package registry

// DefaultBackendModel is the balanced tier used for any unmapped model name.
const DefaultBackendModel = "claude-sonnet-4"

// ModelInfo describes a client-facing model and the Vertex model it is served by.
type ModelInfo struct {
	// ID is the client-facing model name.
	ID string `json:"id"`
	// Object is always "model".
	Object string `json:"object"`
	// Created is a unix timestamp.
	Created int64 `json:"created"`
	// OwnedBy is the model publisher.
	OwnedBy string `json:"owned_by"`
	// DisplayName is a human readable label.
	DisplayName string `json:"display_name,omitempty"`
	// Backend is the Vertex publisher model id.
	Backend string `json:"-"`
}

// GetVertexClaudeModels returns the built-in Claude model definitions.
func GetVertexClaudeModels() []*ModelInfo {
	return []*ModelInfo{
		{
			ID:          "claude-4-opus",
			Object:      "model",
			Created:     1747699200, // 2025-05-20
			OwnedBy:     "anthropic",
			DisplayName: "Claude Opus 4",
			Backend:     "claude-opus-4",
		},
		{
			ID:          "claude-opus-4",
			Object:      "model",
			Created:     1747699200,
			OwnedBy:     "anthropic",
			DisplayName: "Claude Opus 4",
			Backend:     "claude-opus-4",
		},
		{
			ID:          "claude-4-sonnet",
			Object:      "model",
			Created:     1747699200,
			OwnedBy:     "anthropic",
			DisplayName: "Claude Sonnet 4",
			Backend:     "claude-sonnet-4",
		},
		{
			ID:          "claude-sonnet-4",
			Object:      "model",
			Created:     1747699200,
			OwnedBy:     "anthropic",
			DisplayName: "Claude Sonnet 4",
			Backend:     "claude-sonnet-4",
		},
		{
			ID:          "claude-3-7-sonnet",
			Object:      "model",
			Created:     1740355200, // 2025-02-24
			OwnedBy:     "anthropic",
			DisplayName: "Claude 3.7 Sonnet",
			Backend:     "claude-3-7-sonnet",
		},
		{
			ID:          "claude-3-5-sonnet",
			Object:      "model",
			Created:     1729555200, // 2024-10-22
			OwnedBy:     "anthropic",
			DisplayName: "Claude 3.5 Sonnet v2",
			Backend:     "claude-3-5-sonnet-v2",
		},
		{
			ID:          "claude-3-5-haiku",
			Object:      "model",
			Created:     1729555200,
			OwnedBy:     "anthropic",
			DisplayName: "Claude 3.5 Haiku",
			Backend:     "claude-3-5-haiku",
		},
		{
			ID:          "claude-3-opus",
			Object:      "model",
			Created:     1709164800, // 2024-02-29
			OwnedBy:     "anthropic",
			DisplayName: "Claude 3 Opus",
			Backend:     "claude-3-opus",
		},
		{
			ID:          "claude-3-haiku",
			Object:      "model",
			Created:     1709769600, // 2024-03-07
			OwnedBy:     "anthropic",
			DisplayName: "Claude 3 Haiku",
			Backend:     "claude-3-haiku",
		},
	}
}
