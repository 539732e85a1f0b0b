// Package gateway - conn.go runs one WebSocket connection.
//
// DESIGN: Two goroutines per connection. The reader parses inbound frames
// and drives admission control, retrieval, prompt assembly, and the session.
// The writer is the sole owner of outbound socket writes: it relays session
// events and reader-side rejections (notices) in a single select loop, and
// records telemetry when a generation reaches its terminal event.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/windowchat/stream-gateway/internal/config"
	"github.com/windowchat/stream-gateway/internal/monitoring"
	"github.com/windowchat/stream-gateway/internal/prompt"
	"github.com/windowchat/stream-gateway/internal/session"
)

// Default partition for retrieval lookups and /index writes.
const (
	defaultOwner     = "global"
	defaultNamespace = "context"
)

// genMeta accumulates per-generation telemetry until the terminal event.
type genMeta struct {
	startedAt    time.Time
	clientIP     string
	provider     string
	model        string
	tool         string
	chunks       int
	promptTokens int
	turnsTrimmed int
}

// wsConn is the per-connection state.
type wsConn struct {
	g       *Gateway
	sock    *websocket.Conn
	sess    *session.Session
	notices chan session.Event
	ip      string

	mu   sync.Mutex
	meta map[string]*genMeta
}

// handleWS upgrades the connection and runs it to completion.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.cfg.Server.AllowedOrigins,
	})
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket accept failed")
		return
	}
	sock.SetReadLimit(config.MaxInboundMessageSize)

	g.metrics.ConnectionOpened()
	defer g.metrics.ConnectionClosed()

	c := &wsConn{
		g:       g,
		sock:    sock,
		sess:    session.New(),
		notices: make(chan session.Event, 8),
		ip:      clientIP(r),
		meta:    make(map[string]*genMeta),
	}
	defer c.sess.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	log.Info().Str("client", c.ip).Msg("connection opened")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		c.writeLoop(ctx)
	}()

	c.readLoop(ctx)

	c.sess.Close()
	cancel()
	wg.Wait()
	_ = sock.CloseNow()
	log.Info().Str("client", c.ip).Msg("connection closed")
}

// readLoop parses inbound frames until the socket or context dies.
func (c *wsConn) readLoop(ctx context.Context) {
	for {
		_, data, err := c.sock.Read(ctx)
		if err != nil {
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.notify(ctx, session.Event{
				Type: session.EventError, Code: codeInvalidRequest,
				Message: "malformed JSON frame",
			})
			continue
		}

		switch msg.Type {
		case msgStart:
			c.handleStart(ctx, msg)
		case msgCancel:
			c.sess.Cancel(msg.RequestID)
		default:
			c.notify(ctx, session.Event{
				Type: session.EventError, RequestID: msg.RequestID,
				Code: codeInvalidRequest, Message: fmt.Sprintf("unknown message type %q", msg.Type),
			})
		}
	}
}

// handleStart performs admission and assembly, then hands off to the session.
// Rejections bypass the session entirely.
func (c *wsConn) handleStart(ctx context.Context, msg inboundMessage) {
	if strings.TrimSpace(msg.Message) == "" {
		c.notify(ctx, session.Event{
			Type: session.EventError, RequestID: msg.RequestID,
			Code: codeInvalidRequest, Message: "message is required",
		})
		return
	}

	admitted, remaining, resetIn := c.g.limiter.Allow(c.ip)
	if !admitted {
		c.g.metrics.RecordRateLimited()
		c.notify(ctx, session.Event{
			Type: session.EventError, RequestID: msg.RequestID,
			Code:    codeRateLimited,
			Message: fmt.Sprintf("rate limit exceeded, retry in %ds", resetIn),
		})
		return
	}

	inv, ok := c.g.registry.Get(msg.Model)
	if !ok {
		c.notify(ctx, session.Event{
			Type: session.EventError, RequestID: msg.RequestID,
			Code: codeInvalidRequest, Message: fmt.Sprintf("unknown model %q", msg.Model),
		})
		return
	}

	requestID := msg.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	message := msg.Message
	if msg.Tool != "" {
		message = prompt.ForTool(msg.Tool, msg.Message)
	}

	history := msg.History
	if retrieved := c.retrievedContext(ctx, msg.Message); retrieved != "" {
		history = append(append([]prompt.Turn(nil), history...), prompt.Turn{
			Role:    prompt.RoleSystem,
			Content: retrieved,
		})
	}

	turns := c.g.builder.Build(history, message, prompt.Budget{MaxTokens: c.g.cfg.Context.MaxTokens})
	promptTokens := c.g.builder.EstimateTokens(turns)
	trimmed := len(history) + 1 - len(turns)
	if trimmed < 0 {
		trimmed = 0
	}

	c.g.metrics.RecordStart()
	c.g.metrics.RecordPromptAssembly(promptTokens, trimmed)

	c.mu.Lock()
	c.meta[requestID] = &genMeta{
		startedAt:    time.Now(),
		clientIP:     c.ip,
		provider:     inv.Name(),
		model:        msg.Model,
		tool:         msg.Tool,
		promptTokens: promptTokens,
		turnsTrimmed: trimmed,
	}
	c.mu.Unlock()

	log.Debug().
		Str("request_id", requestID).
		Str("provider", inv.Name()).
		Int("prompt_tokens", promptTokens).
		Int("turns_trimmed", trimmed).
		Int("remaining", remaining).
		Msg("generation admitted")

	c.sess.Start(requestID, inv, turns)
}

// retrievedContext queries the similarity index for content related to the
// user's message. Failures degrade to no context, never to a user error.
func (c *wsConn) retrievedContext(ctx context.Context, query string) string {
	g := c.g
	if !g.cfg.Retrieval.Enabled || g.index == nil || g.embedder == nil {
		return ""
	}

	vec, err := g.embedder.Embed(ctx, query)
	if err != nil {
		log.Warn().Err(err).Msg("retrieval: embedding failed")
		return ""
	}
	results, err := g.index.Search(ctx, defaultOwner, defaultNamespace, vec, g.cfg.Retrieval.TopK)
	if err != nil {
		log.Warn().Err(err).Msg("retrieval: search failed")
		return ""
	}
	g.metrics.RecordRetrieval(len(results))
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Relevant context:\n")
	for _, res := range results {
		b.WriteString("- ")
		b.WriteString(res.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

// notify queues a reader-side event for the writer.
func (c *wsConn) notify(ctx context.Context, ev session.Event) {
	select {
	case c.notices <- ev:
	case <-ctx.Done():
	}
}

// writeLoop is the single socket writer. It relays session events and
// notices in arrival order and closes out telemetry on terminal events.
func (c *wsConn) writeLoop(ctx context.Context) {
	for {
		var ev session.Event
		select {
		case ev = <-c.sess.Events():
		case ev = <-c.notices:
		case <-c.sess.Done():
			return
		case <-ctx.Done():
			return
		}

		c.observe(ev)

		data, err := json.Marshal(ev)
		if err != nil {
			log.Error().Err(err).Msg("marshal outbound event")
			continue
		}
		if err := c.sock.Write(ctx, websocket.MessageText, data); err != nil {
			return
		}
	}
}

// observe updates metrics and telemetry for one outbound event.
func (c *wsConn) observe(ev session.Event) {
	switch ev.Type {
	case session.EventChunk:
		c.g.metrics.RecordChunk()
		c.mu.Lock()
		if m := c.meta[ev.RequestID]; m != nil {
			m.chunks++
		}
		c.mu.Unlock()
	case session.EventDone, session.EventCancelled, session.EventError:
		c.finish(ev)
	}
}

// finish records the terminal outcome of a generation.
func (c *wsConn) finish(ev session.Event) {
	outcome := "error"
	switch ev.Type {
	case session.EventDone:
		outcome = "done"
	case session.EventCancelled:
		outcome = "cancelled"
	}

	c.mu.Lock()
	m := c.meta[ev.RequestID]
	delete(c.meta, ev.RequestID)
	c.mu.Unlock()

	if m == nil {
		// Reader-side rejection with no admitted generation behind it.
		if ev.Code == codeRateLimited || ev.Code == codeInvalidRequest {
			return
		}
		c.g.metrics.RecordCompletion(outcome)
		return
	}

	c.g.metrics.RecordCompletion(outcome)
	if c.g.tracker != nil {
		c.g.tracker.RecordGeneration(&monitoring.GenerationEvent{
			RequestID:    ev.RequestID,
			Timestamp:    time.Now(),
			ClientIP:     m.clientIP,
			Provider:     m.provider,
			Model:        m.model,
			Tool:         m.tool,
			Outcome:      outcome,
			ErrorCode:    ev.Code,
			Chunks:       m.chunks,
			PromptTokens: m.promptTokens,
			TurnsTrimmed: m.turnsTrimmed,
			DurationMs:   time.Since(m.startedAt).Milliseconds(),
		})
	}
}
