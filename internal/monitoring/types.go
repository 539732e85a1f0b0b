// Package monitoring - types.go defines shared types.
//
// DESIGN: These types are used by both gateway/ and monitoring/ packages.
// Defined here ONCE to avoid duplication and circular imports.
//
// TYPES:
//   - GenerationEvent: Telemetry data for each generation request
//   - InitEvent:       Gateway startup record
//   - TelemetryConfig: Tracker configuration
package monitoring

import "time"

// GenerationEvent captures one generation request through the gateway.
type GenerationEvent struct {
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
	ClientIP     string    `json:"client_ip"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model,omitempty"`
	Tool         string    `json:"tool,omitempty"`
	Outcome      string    `json:"outcome"` // done, cancelled, error
	ErrorCode    string    `json:"error_code,omitempty"`
	Chunks       int       `json:"chunks"`
	PromptTokens int       `json:"prompt_tokens"`
	TurnsTrimmed int       `json:"turns_trimmed"`
	DurationMs   int64     `json:"duration_ms"`
}

// InitEvent captures a gateway startup.
type InitEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Providers []string  `json:"providers"`
	Retrieval bool      `json:"retrieval"`
}

// TelemetryConfig configures the JSONL tracker.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`
	LogToStdout bool   `yaml:"log_to_stdout"`
}
