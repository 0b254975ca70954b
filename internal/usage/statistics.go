// Package usage keeps in-memory request and token statistics for the proxy.
// Nothing is persisted; counters reset when the process exits.
package usage

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// maxDetailsPerModel bounds the per-request history kept for each model.
const maxDetailsPerModel = 200

var statisticsEnabled atomic.Bool

func init() {
	statisticsEnabled.Store(true)
}

// SetStatisticsEnabled toggles whether in-memory statistics are recorded.
func SetStatisticsEnabled(enabled bool) { statisticsEnabled.Store(enabled) }

// StatisticsEnabled reports the current recording state.
func StatisticsEnabled() bool { return statisticsEnabled.Load() }

// Detail is the token accounting of a single backend call.
type Detail struct {
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	TotalTokens  int64
}

// Record describes one completed chat completion request.
type Record struct {
	// Model is the client-facing model name.
	Model string
	// BackendModel is the Vertex model that served the request.
	BackendModel string
	// Source identifies the caller, usually the route.
	Source      string
	RequestedAt time.Time
	Latency     time.Duration
	Detail      Detail
	Failed      bool
}

// RequestStatistics maintains aggregated request metrics in memory.
type RequestStatistics struct {
	mu sync.RWMutex

	totalRequests     int64
	successCount      int64
	failureCount      int64
	totalTokens       int64
	totalInputTokens  int64
	totalOutputTokens int64

	models map[string]*modelStats

	requestsByDay  map[string]int64
	requestsByHour map[int]int64
	tokensByDay    map[string]int64
	tokensByHour   map[int]int64
}

// modelStats holds aggregated metrics for a client-facing model.
type modelStats struct {
	BackendModel  string
	TotalRequests int64
	FailureCount  int64
	InputTokens   int64
	OutputTokens  int64
	CachedTokens  int64
	TotalTokens   int64
	Details       []RequestDetail
}

// RequestDetail stores the timestamp and token usage for a single request.
type RequestDetail struct {
	Timestamp time.Time  `json:"timestamp"`
	Source    string     `json:"source"`
	LatencyMs int64      `json:"latency_ms"`
	Tokens    TokenStats `json:"tokens"`
	Failed    bool       `json:"failed"`
}

// TokenStats captures the token usage breakdown for a request.
type TokenStats struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	CachedTokens int64 `json:"cached_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// StatisticsSnapshot represents an immutable view of the aggregated metrics.
type StatisticsSnapshot struct {
	TotalRequests     int64 `json:"total_requests"`
	SuccessCount      int64 `json:"success_count"`
	FailureCount      int64 `json:"failure_count"`
	TotalTokens       int64 `json:"total_tokens"`
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`

	EstimatedCostUSD float64 `json:"estimated_cost_usd"`

	Models map[string]ModelSnapshot `json:"models"`

	RequestsByDay  map[string]int64 `json:"requests_by_day"`
	RequestsByHour map[string]int64 `json:"requests_by_hour"`
	TokensByDay    map[string]int64 `json:"tokens_by_day"`
	TokensByHour   map[string]int64 `json:"tokens_by_hour"`
}

// ModelSnapshot summarises metrics for a specific model.
type ModelSnapshot struct {
	BackendModel     string          `json:"backend_model"`
	TotalRequests    int64           `json:"total_requests"`
	FailureCount     int64           `json:"failure_count"`
	InputTokens      int64           `json:"input_tokens"`
	OutputTokens     int64           `json:"output_tokens"`
	TotalTokens      int64           `json:"total_tokens"`
	EstimatedCostUSD float64         `json:"estimated_cost_usd"`
	Details          []RequestDetail `json:"details"`
}

var defaultRequestStatistics = NewRequestStatistics()

// GetRequestStatistics returns the shared statistics store.
func GetRequestStatistics() *RequestStatistics { return defaultRequestStatistics }

// NewRequestStatistics constructs an empty statistics store.
func NewRequestStatistics() *RequestStatistics {
	return &RequestStatistics{
		models:         make(map[string]*modelStats),
		requestsByDay:  make(map[string]int64),
		requestsByHour: make(map[int]int64),
		tokensByDay:    make(map[string]int64),
		tokensByHour:   make(map[int]int64),
	}
}

// Record ingests a new usage record and updates the aggregates.
func (s *RequestStatistics) Record(record Record) {
	if s == nil || !statisticsEnabled.Load() {
		return
	}
	timestamp := record.RequestedAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	tokens := normaliseDetail(record.Detail)
	modelName := record.Model
	if modelName == "" {
		modelName = "unknown"
	}
	dayKey := timestamp.Format("2006-01-02")
	hourKey := timestamp.Hour()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRequests++
	if record.Failed {
		s.failureCount++
	} else {
		s.successCount++
	}
	s.totalTokens += tokens.TotalTokens
	s.totalInputTokens += tokens.InputTokens
	s.totalOutputTokens += tokens.OutputTokens

	stats, ok := s.models[modelName]
	if !ok {
		stats = &modelStats{}
		s.models[modelName] = stats
	}
	if record.BackendModel != "" {
		stats.BackendModel = record.BackendModel
	}
	stats.TotalRequests++
	if record.Failed {
		stats.FailureCount++
	}
	stats.InputTokens += tokens.InputTokens
	stats.OutputTokens += tokens.OutputTokens
	stats.CachedTokens += tokens.CachedTokens
	stats.TotalTokens += tokens.TotalTokens
	stats.Details = append(stats.Details, RequestDetail{
		Timestamp: timestamp,
		Source:    record.Source,
		LatencyMs: record.Latency.Milliseconds(),
		Tokens:    tokens,
		Failed:    record.Failed,
	})
	if len(stats.Details) > maxDetailsPerModel {
		stats.Details = append([]RequestDetail(nil), stats.Details[len(stats.Details)-maxDetailsPerModel:]...)
	}

	s.requestsByDay[dayKey]++
	s.requestsByHour[hourKey]++
	s.tokensByDay[dayKey] += tokens.TotalTokens
	s.tokensByHour[hourKey] += tokens.TotalTokens
}

// Snapshot returns a copy of the aggregated metrics for external consumption.
func (s *RequestStatistics) Snapshot() StatisticsSnapshot {
	result := StatisticsSnapshot{}
	if s == nil {
		return result
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result.TotalRequests = s.totalRequests
	result.SuccessCount = s.successCount
	result.FailureCount = s.failureCount
	result.TotalTokens = s.totalTokens
	result.TotalInputTokens = s.totalInputTokens
	result.TotalOutputTokens = s.totalOutputTokens

	result.Models = make(map[string]ModelSnapshot, len(s.models))
	for modelName, stats := range s.models {
		details := make([]RequestDetail, len(stats.Details))
		copy(details, stats.Details)
		pricedAs := stats.BackendModel
		if pricedAs == "" {
			pricedAs = modelName
		}
		cost := EstimateCost(pricedAs, stats.InputTokens, stats.OutputTokens, stats.CachedTokens)
		result.EstimatedCostUSD += cost
		result.Models[modelName] = ModelSnapshot{
			BackendModel:     stats.BackendModel,
			TotalRequests:    stats.TotalRequests,
			FailureCount:     stats.FailureCount,
			InputTokens:      stats.InputTokens,
			OutputTokens:     stats.OutputTokens,
			TotalTokens:      stats.TotalTokens,
			EstimatedCostUSD: cost,
			Details:          details,
		}
	}

	result.RequestsByDay = make(map[string]int64, len(s.requestsByDay))
	for k, v := range s.requestsByDay {
		result.RequestsByDay[k] = v
	}
	result.RequestsByHour = make(map[string]int64, len(s.requestsByHour))
	for hour, v := range s.requestsByHour {
		result.RequestsByHour[formatHour(hour)] = v
	}
	result.TokensByDay = make(map[string]int64, len(s.tokensByDay))
	for k, v := range s.tokensByDay {
		result.TokensByDay[k] = v
	}
	result.TokensByHour = make(map[string]int64, len(s.tokensByHour))
	for hour, v := range s.tokensByHour {
		result.TokensByHour[formatHour(hour)] = v
	}

	return result
}

func normaliseDetail(detail Detail) TokenStats {
	tokens := TokenStats{
		InputTokens:  detail.InputTokens,
		OutputTokens: detail.OutputTokens,
		CachedTokens: detail.CachedTokens,
		TotalTokens:  detail.TotalTokens,
	}
	if tokens.TotalTokens == 0 {
		tokens.TotalTokens = detail.InputTokens + detail.OutputTokens
	}
	return tokens
}

func formatHour(hour int) string {
	if hour < 0 {
		hour = 0
	}
	hour = hour % 24
	return fmt.Sprintf("%02d", hour)
}
