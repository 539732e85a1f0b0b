package invoker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/windowchat/stream-gateway/internal/prompt"
)

// DefaultDeepSeekEndpoint is the chat completions URL of the DeepSeek API,
// which speaks the OpenAI wire format.
const DefaultDeepSeekEndpoint = "https://api.deepseek.com/chat/completions"

// DefaultDeepSeekModel is used when the config names no model.
const DefaultDeepSeekModel = "deepseek-chat"

// maxSSELineSize bounds a single SSE line read from the provider (1MB).
const maxSSELineSize = 1024 * 1024

// OpenAIInvoker drives any OpenAI-compatible chat completions endpoint
// (DeepSeek, OpenAI, local inference servers).
type OpenAIInvoker struct {
	name   string
	cfg    Config
	http   *http.Client
	stream *http.Client
}

// NewOpenAIInvoker creates an invoker named name against an
// OpenAI-compatible endpoint. An empty endpoint/model falls back to the
// DeepSeek defaults.
func NewOpenAIInvoker(name string, cfg Config) *OpenAIInvoker {
	cfg.applyDefaults()
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultDeepSeekEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultDeepSeekModel
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return &OpenAIInvoker{
		name: name,
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		// No overall timeout on the streaming client: a generation may
		// legitimately outlive cfg.Timeout. Cancellation comes from ctx.
		stream: &http.Client{Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		}},
	}
}

func (o *OpenAIInvoker) Name() string { return o.name }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (o *OpenAIInvoker) requestBody(turns []prompt.Turn, stream bool) ([]byte, error) {
	msgs := make([]chatMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, chatMessage{Role: string(t.Role), Content: t.Content})
	}
	return json.Marshal(map[string]any{
		"model":    o.cfg.Model,
		"messages": msgs,
		"stream":   stream,
	})
}

func (o *OpenAIInvoker) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	}
	return req, nil
}

// Generate runs a non-streaming completion, retrying rate-limit-class
// failures with exponential backoff plus jitter.
func (o *OpenAIInvoker) Generate(ctx context.Context, turns []prompt.Turn) (string, error) {
	body, err := o.requestBody(turns, false)
	if err != nil {
		return "", &Error{Code: CodeProviderError, Message: err.Error()}
	}

	var lastErr error
	for attempt := 0; attempt < o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(o.cfg.RetryBaseDelay, attempt-1)
			log.Debug().Str("provider", o.name).Int("attempt", attempt).Dur("delay", delay).Msg("rate limited, backing off")
			if err := sleepCtx(ctx, delay); err != nil {
				return "", &Error{Code: CodeProviderError, Message: err.Error()}
			}
		}

		text, err := o.generateOnce(ctx, body)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !retryable(err) {
			return "", err
		}
	}
	return "", lastErr
}

func (o *OpenAIInvoker) generateOnce(ctx context.Context, body []byte) (string, error) {
	req, err := o.newRequest(ctx, body)
	if err != nil {
		return "", &Error{Code: CodeProviderError, Message: err.Error()}
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return "", &Error{Code: CodeProviderError, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxSSELineSize))
	if err != nil {
		return "", &Error{Code: CodeProviderError, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode, respBody)
	}
	return gjson.GetBytes(respBody, "choices.0.message.content").String(), nil
}

// StreamGenerate starts a streaming completion. The returned stream is
// blocking and must be drained or closed by the caller.
func (o *OpenAIInvoker) StreamGenerate(ctx context.Context, turns []prompt.Turn) (Stream, error) {
	body, err := o.requestBody(turns, true)
	if err != nil {
		return nil, &Error{Code: CodeProviderError, Message: err.Error()}
	}
	req, err := o.newRequest(ctx, body)
	if err != nil {
		return nil, &Error{Code: CodeProviderError, Message: err.Error()}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := o.stream.Do(req)
	if err != nil {
		return nil, &Error{Code: CodeProviderError, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxSSELineSize))
		_ = resp.Body.Close()
		return nil, statusError(resp.StatusCode, respBody)
	}
	return newSSEStream(resp.Body, "choices.0.delta.content"), nil
}

// statusError builds the uniform error for a non-200 provider response,
// pulling the provider's own message out of the body when present.
func statusError(status int, body []byte) *Error {
	msg := gjson.GetBytes(body, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	} else {
		msg = fmt.Sprintf("HTTP %d: %s", status, msg)
	}
	return &Error{Code: classifyStatus(status), Message: msg}
}

// =============================================================================
// SSE STREAM
// =============================================================================

// sseStream pulls text fragments out of an SSE body. textPath is the gjson
// path of the fragment within each data payload.
type sseStream struct {
	body     io.ReadCloser
	scanner  *bufio.Scanner
	textPath string
	done     bool
}

func newSSEStream(body io.ReadCloser, textPath string) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxSSELineSize)
	return &sseStream{body: body, scanner: scanner, textPath: textPath}
}

// Next blocks until the next non-empty fragment, io.EOF at end of stream, or
// a provider failure.
func (s *sseStream) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.done = true
			return "", io.EOF
		}
		if errMsg := gjson.Get(payload, "error.message").String(); errMsg != "" {
			s.done = true
			return "", &Error{Code: CodeProviderError, Message: errMsg}
		}
		if text := gjson.Get(payload, s.textPath).String(); text != "" {
			return text, nil
		}
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		return "", &Error{Code: CodeProviderError, Message: err.Error()}
	}
	return "", io.EOF
}

func (s *sseStream) Close() error {
	s.done = true
	return s.body.Close()
}

var _ Invoker = (*OpenAIInvoker)(nil)
