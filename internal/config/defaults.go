// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// SERVER
// =============================================================================

// DefaultHost is the listen address when none is configured.
const DefaultHost = "127.0.0.1"

// DefaultPort is the gateway listen port.
const DefaultPort = 8080

// DefaultReadHeaderTimeout bounds how long the server waits for request headers.
const DefaultReadHeaderTimeout = 10 * time.Second

// DefaultServerWriteTimeout for HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// DefaultShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM.
const DefaultShutdownTimeout = 10 * time.Second

// MaxInboundMessageSize caps a single WebSocket frame from a client (1MB).
const MaxInboundMessageSize = 1 << 20

// =============================================================================
// CONTEXT WINDOW
// =============================================================================

// DefaultMaxContextTokens is the prompt token budget when none is configured.
const DefaultMaxContextTokens = 8192

// DefaultEncoding is the tokenizer encoding used for budget accounting.
const DefaultEncoding = "cl100k_base"

// =============================================================================
// RETRIEVAL
// =============================================================================

// DefaultRetrievalTopK is the result count for vector index queries.
const DefaultRetrievalTopK = 5

// =============================================================================
// PROVIDERS
// =============================================================================

// DefaultProviderTimeout bounds a blocking (non-streaming) provider call.
const DefaultProviderTimeout = 30 * time.Second

// DefaultProviderRetries is the retry budget for rate-limited blocking calls.
const DefaultProviderRetries = 3
