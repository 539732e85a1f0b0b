// Package monitoring - metrics.go provides simple counters.
//
// DESIGN: Lightweight in-memory counters for operational metrics:
//   - connections:        Active and lifetime WebSocket connections
//   - requests:           Started, completed, cancelled, failed generations
//   - chunks:             Streamed fragment count
//   - rate_limited:       Requests rejected by the sliding-window limiter
//   - retrieval:          Vector index queries and surfaced results
//   - tokens:             Prompt tokens assembled and history turns trimmed
//
// For production, export these to Prometheus or similar.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational metrics.
type MetricsCollector struct {
	startedAt time.Time

	// Connection counters
	connectionsOpened atomic.Int64
	connectionsActive atomic.Int64

	// Generation counters
	requestsStarted   atomic.Int64
	requestsCompleted atomic.Int64
	requestsCancelled atomic.Int64
	requestsFailed    atomic.Int64
	chunksStreamed    atomic.Int64
	rateLimited       atomic.Int64

	// Retrieval counters
	retrievalQueries atomic.Int64
	retrievalHits    atomic.Int64

	// Prompt assembly counters
	promptTokens atomic.Int64
	turnsTrimmed atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		startedAt: time.Now(),
	}
}

// ConnectionOpened records a new WebSocket connection.
func (mc *MetricsCollector) ConnectionOpened() {
	mc.connectionsOpened.Add(1)
	mc.connectionsActive.Add(1)
}

// ConnectionClosed records a connection going away.
func (mc *MetricsCollector) ConnectionClosed() { mc.connectionsActive.Add(-1) }

// RecordStart records an admitted generation request.
func (mc *MetricsCollector) RecordStart() { mc.requestsStarted.Add(1) }

// RecordCompletion records a generation reaching its terminal event.
func (mc *MetricsCollector) RecordCompletion(outcome string) {
	switch outcome {
	case "done":
		mc.requestsCompleted.Add(1)
	case "cancelled":
		mc.requestsCancelled.Add(1)
	default:
		mc.requestsFailed.Add(1)
	}
}

// RecordChunk records one streamed fragment.
func (mc *MetricsCollector) RecordChunk() { mc.chunksStreamed.Add(1) }

// RecordRateLimited records a request rejected by the limiter.
func (mc *MetricsCollector) RecordRateLimited() { mc.rateLimited.Add(1) }

// RecordRetrieval records a vector index query and how many results it
// surfaced.
func (mc *MetricsCollector) RecordRetrieval(results int) {
	mc.retrievalQueries.Add(1)
	mc.retrievalHits.Add(int64(results))
}

// RecordPromptAssembly records the token size of an assembled prompt and
// how many history turns were trimmed to fit the budget.
func (mc *MetricsCollector) RecordPromptAssembly(tokens, trimmed int) {
	mc.promptTokens.Add(int64(tokens))
	mc.turnsTrimmed.Add(int64(trimmed))
}

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// FullStats returns all metrics in a structured format for the /stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Connections: ConnectionStats{
			Active: mc.connectionsActive.Load(),
			Total:  mc.connectionsOpened.Load(),
		},
		Requests: RequestStats{
			Started:     mc.requestsStarted.Load(),
			Completed:   mc.requestsCompleted.Load(),
			Cancelled:   mc.requestsCancelled.Load(),
			Failed:      mc.requestsFailed.Load(),
			RateLimited: mc.rateLimited.Load(),
			Chunks:      mc.chunksStreamed.Load(),
		},
		Retrieval: RetrievalStats{
			Queries: mc.retrievalQueries.Load(),
			Results: mc.retrievalHits.Load(),
		},
		Prompt: PromptStats{
			TokensAssembled: mc.promptTokens.Load(),
			TurnsTrimmed:    mc.turnsTrimmed.Load(),
		},
	}
}

// StatsResponse is the structured response for the /stats endpoint.
type StatsResponse struct {
	Uptime        string          `json:"uptime"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	StartedAt     string          `json:"started_at"`
	Connections   ConnectionStats `json:"connections"`
	Requests      RequestStats    `json:"requests"`
	Retrieval     RetrievalStats  `json:"retrieval"`
	Prompt        PromptStats     `json:"prompt"`
}

// ConnectionStats holds WebSocket connection metrics.
type ConnectionStats struct {
	Active int64 `json:"active"`
	Total  int64 `json:"total"`
}

// RequestStats holds generation lifecycle metrics.
type RequestStats struct {
	Started     int64 `json:"started"`
	Completed   int64 `json:"completed"`
	Cancelled   int64 `json:"cancelled"`
	Failed      int64 `json:"failed"`
	RateLimited int64 `json:"rate_limited"`
	Chunks      int64 `json:"chunks"`
}

// RetrievalStats holds vector index query metrics.
type RetrievalStats struct {
	Queries int64 `json:"queries"`
	Results int64 `json:"results"`
}

// PromptStats holds prompt assembly metrics.
type PromptStats struct {
	TokensAssembled int64 `json:"tokens_assembled"`
	TurnsTrimmed    int64 `json:"turns_trimmed"`
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
