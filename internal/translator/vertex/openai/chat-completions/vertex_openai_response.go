package chat_completions

import (
	"time"

	"github.com/google/uuid"
	"github.com/router-for-me/vertex-proxy/internal/usage"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// EmptyResponseText is returned as the assistant message when the backend reply has no content.
const EmptyResponseText = "No response generated."

// ConvertVertexResponseToOpenAINonStream converts a Vertex Anthropic response into an OpenAI
// chat.completion object. modelName is echoed back as given by the caller.
//
// Parameters:
//   - modelName: The model name from the original client request
//   - rawJSON: The backend response body
//
// Returns:
//   - []byte: An OpenAI-compatible chat.completion JSON document
func ConvertVertexResponseToOpenAINonStream(modelName string, rawJSON []byte) []byte {
	return convertVertexResponse(modelName, rawJSON, "chatcmpl-"+uuid.NewString(), time.Now().Unix())
}

func convertVertexResponse(modelName string, rawJSON []byte, id string, created int64) []byte {
	out := `{"id":"","object":"chat.completion","created":0,"model":"","choices":[{"index":0,"message":{"role":"assistant","content":""},"finish_reason":"stop"}],"usage":{"prompt_tokens":0,"completion_tokens":0,"total_tokens":0}}`
	out, _ = sjson.Set(out, "id", id)
	out, _ = sjson.Set(out, "created", created)
	out, _ = sjson.Set(out, "model", modelName)

	text := EmptyResponseText
	if first := gjson.GetBytes(rawJSON, "content.0.text"); first.Exists() {
		text = first.String()
	}
	out, _ = sjson.Set(out, "choices.0.message.content", text)

	detail := ParseVertexUsage(rawJSON)
	out, _ = sjson.Set(out, "usage.prompt_tokens", detail.InputTokens)
	out, _ = sjson.Set(out, "usage.completion_tokens", detail.OutputTokens)
	out, _ = sjson.Set(out, "usage.total_tokens", detail.TotalTokens)

	return []byte(out)
}

// ParseVertexUsage extracts token counters from a Vertex Anthropic response.
// Missing counters count as zero and TotalTokens is always their sum.
func ParseVertexUsage(rawJSON []byte) usage.Detail {
	node := gjson.GetBytes(rawJSON, "usage")
	if !node.Exists() {
		return usage.Detail{}
	}
	detail := usage.Detail{
		InputTokens:  node.Get("input_tokens").Int(),
		OutputTokens: node.Get("output_tokens").Int(),
		CachedTokens: node.Get("cache_read_input_tokens").Int(),
	}
	detail.TotalTokens = detail.InputTokens + detail.OutputTokens
	return detail
}
