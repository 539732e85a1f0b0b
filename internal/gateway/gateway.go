// Package gateway composes the streaming request gateway.
//
// DESIGN: Main request flow:
//   - handleWS():     WebSocket entry point, one session per connection
//   - readLoop():     Parses inbound frames, admission control, prompt assembly
//   - writeLoop():    Single writer relaying session events to the socket
//
// Also includes health check, stats, and embedding index endpoints.
package gateway

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/windowchat/stream-gateway/internal/config"
	"github.com/windowchat/stream-gateway/internal/invoker"
	"github.com/windowchat/stream-gateway/internal/monitoring"
	"github.com/windowchat/stream-gateway/internal/prompt"
	"github.com/windowchat/stream-gateway/internal/ratelimit"
	"github.com/windowchat/stream-gateway/internal/vectorindex"
)

// Gateway owns the shared state behind every connection: the limiter, the
// prompt builder, the similarity index, and the provider registry. Each
// WebSocket connection gets its own session; nothing else is per-connection.
type Gateway struct {
	cfg      *config.Config
	limiter  *ratelimit.Limiter
	builder  *prompt.Builder
	index    vectorindex.Store
	embedder vectorindex.Embedder
	registry *invoker.Registry
	metrics  *monitoring.MetricsCollector
	tracker  *monitoring.Tracker
}

// New wires a gateway from explicitly constructed dependencies. index and
// embedder may be nil when retrieval is disabled; tracker may be nil.
func New(
	cfg *config.Config,
	limiter *ratelimit.Limiter,
	builder *prompt.Builder,
	index vectorindex.Store,
	embedder vectorindex.Embedder,
	registry *invoker.Registry,
	metrics *monitoring.MetricsCollector,
	tracker *monitoring.Tracker,
) *Gateway {
	return &Gateway{
		cfg:      cfg,
		limiter:  limiter,
		builder:  builder,
		index:    index,
		embedder: embedder,
		registry: registry,
		metrics:  metrics,
		tracker:  tracker,
	}
}

// Routes returns the gateway's HTTP mux.
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.handleWS)
	mux.HandleFunc("/healthz", g.handleHealth)
	mux.HandleFunc("/stats", g.handleStats)
	mux.HandleFunc("/index", g.handleIndex)
	return mux
}

// handleHealth reports liveness and the registered providers.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Status    string   `json:"status"`
		Providers []string `json:"providers"`
	}{
		Status:    "ok",
		Providers: g.registry.Names(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleStats returns aggregated metrics as JSON.
// Restricted to localhost to prevent external access to operational metrics.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(g.metrics.FullStats())
}

// handleIndex upserts one embedding record, vectorizing the content with the
// gateway's embedder. Localhost-only: indexing is an operational concern.
func (g *Gateway) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if g.index == nil || g.embedder == nil {
		http.Error(w, "retrieval disabled", http.StatusConflict)
		return
	}

	var req indexRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, config.MaxInboundMessageSize)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Ref == "" || req.Content == "" {
		http.Error(w, "ref and content are required", http.StatusBadRequest)
		return
	}
	if req.Owner == "" {
		req.Owner = defaultOwner
	}
	if req.Namespace == "" {
		req.Namespace = defaultNamespace
	}

	vec, err := g.embedder.Embed(r.Context(), req.Content)
	if err != nil {
		log.Error().Err(err).Str("ref", req.Ref).Msg("index: embedding failed")
		http.Error(w, "embedding failed", http.StatusInternalServerError)
		return
	}
	rec := vectorindex.Record{
		Owner:     req.Owner,
		Namespace: req.Namespace,
		Ref:       req.Ref,
		Content:   req.Content,
		Vector:    vec,
		Dims:      len(vec),
	}
	if err := g.index.Upsert(r.Context(), rec); err != nil {
		log.Error().Err(err).Str("ref", req.Ref).Msg("index: upsert failed")
		http.Error(w, "upsert failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "indexed", "ref": req.Ref})
}

// InitEvent builds the startup telemetry record.
func (g *Gateway) InitEvent(version string) *monitoring.InitEvent {
	return &monitoring.InitEvent{
		Timestamp: time.Now(),
		Version:   version,
		Providers: g.registry.Names(),
		Retrieval: g.index != nil && g.embedder != nil,
	}
}

// isLoopback reports whether remoteAddr is a loopback address.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// clientIP derives the rate-limit identity key for a request. Trusts
// X-Forwarded-For's first hop when present (gateway behind a proxy),
// otherwise the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
