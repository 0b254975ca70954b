// Package chat_completions translates between OpenAI Chat Completions payloads and the
// Anthropic Messages payloads accepted by Vertex AI's rawPredict endpoint.
// Only non-streaming exchanges are supported.
package chat_completions

import (
	"strings"

	apperrors "github.com/router-for-me/vertex-proxy/internal/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// AnthropicVersion is the API version Vertex expects in every rawPredict body.
	AnthropicVersion = "vertex-2023-10-16"

	DefaultMaxTokens   = 4096
	MinMaxTokens       = 1
	MaxMaxTokens       = 8192
	DefaultTemperature = 0.7
)

// ConvertOpenAIRequestToVertex converts an OpenAI Chat Completions request body into a
// Vertex Anthropic body. The backend model is not part of the body; it travels in the URL.
//
// It fails with a client input error when the body is not JSON or when messages is
// missing or not an array. Numeric parameters are clamped rather than rejected:
//   - max_tokens (or max_completion_tokens): default 4096, range [1, 8192]
//   - temperature: default 0.7, range [0, 1]
//   - top_p: forwarded when present, range [0, 1]
func ConvertOpenAIRequestToVertex(rawJSON []byte) ([]byte, error) {
	if !gjson.ValidBytes(rawJSON) {
		return nil, apperrors.NewClientInput("request body must be valid JSON")
	}
	root := gjson.ParseBytes(rawJSON)
	if !root.IsObject() {
		return nil, apperrors.NewClientInput("request body must be a JSON object")
	}
	messages := root.Get("messages")
	if !messages.Exists() {
		return nil, apperrors.NewClientInput("messages is required")
	}
	if !messages.IsArray() {
		return nil, apperrors.NewClientInput("messages must be an array")
	}

	out := `{"anthropic_version":"","max_tokens":0,"temperature":0,"messages":[]}`
	out, _ = sjson.Set(out, "anthropic_version", AnthropicVersion)
	out, _ = sjson.Set(out, "max_tokens", resolveMaxTokens(root))
	out, _ = sjson.Set(out, "temperature", clampFloat(numberOr(root.Get("temperature"), DefaultTemperature), 0, 1))

	var systemParts []string
	messages.ForEach(func(_, message gjson.Result) bool {
		role := strings.ToLower(strings.TrimSpace(message.Get("role").String()))
		content := contentText(message.Get("content"))
		switch role {
		case "system", "developer":
			if content != "" {
				systemParts = append(systemParts, content)
			}
			return true
		case "assistant":
		default:
			role = "user"
		}
		msg := `{"role":"","content":""}`
		msg, _ = sjson.Set(msg, "role", role)
		msg, _ = sjson.Set(msg, "content", content)
		out, _ = sjson.SetRaw(out, "messages.-1", msg)
		return true
	})
	if len(systemParts) > 0 {
		out, _ = sjson.Set(out, "system", strings.Join(systemParts, "\n\n"))
	}

	if topP := root.Get("top_p"); topP.Type == gjson.Number {
		out, _ = sjson.Set(out, "top_p", clampFloat(topP.Float(), 0, 1))
	}
	if stops := stopSequences(root.Get("stop")); len(stops) > 0 {
		out, _ = sjson.Set(out, "stop_sequences", stops)
	}

	return []byte(out), nil
}

func resolveMaxTokens(root gjson.Result) int64 {
	value := root.Get("max_tokens")
	if value.Type != gjson.Number {
		value = root.Get("max_completion_tokens")
	}
	if value.Type != gjson.Number {
		return DefaultMaxTokens
	}
	// Clamp as float so values beyond the int64 range cannot wrap.
	f := value.Float()
	if f >= MaxMaxTokens {
		return MaxMaxTokens
	}
	if f < MinMaxTokens {
		return MinMaxTokens
	}
	return int64(f)
}

// contentText flattens message content to the plain string the backend receives.
// Non-string values are forwarded as their raw JSON text.
func contentText(content gjson.Result) string {
	switch content.Type {
	case gjson.String:
		return content.String()
	case gjson.Null:
		return ""
	default:
		return content.Raw
	}
}

func stopSequences(stop gjson.Result) []string {
	switch {
	case stop.Type == gjson.String:
		if stop.String() == "" {
			return nil
		}
		return []string{stop.String()}
	case stop.IsArray():
		var out []string
		stop.ForEach(func(_, value gjson.Result) bool {
			if value.Type == gjson.String && value.String() != "" {
				out = append(out, value.String())
			}
			return true
		})
		return out
	default:
		return nil
	}
}

func numberOr(value gjson.Result, fallback float64) float64 {
	if value.Type != gjson.Number {
		return fallback
	}
	return value.Float()
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
