package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/windowchat/stream-gateway/internal/prompt"
)

// DefaultGeminiEndpoint is the Gemini API base; the model and method are
// appended per request.
const DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"

// DefaultGeminiModel is used when the config names no model.
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiInvoker drives the Gemini generateContent API.
type GeminiInvoker struct {
	name   string
	cfg    Config
	http   *http.Client
	stream *http.Client
}

// NewGeminiInvoker creates an invoker named name backed by the Gemini API.
func NewGeminiInvoker(name string, cfg Config) *GeminiInvoker {
	cfg.applyDefaults()
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultGeminiEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return &GeminiInvoker{
		name: name,
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		stream: &http.Client{Transport: &http.Transport{
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
		}},
	}
}

func (g *GeminiInvoker) Name() string { return g.name }

// requestBody maps turns onto Gemini's contents/systemInstruction shape.
// Assistant turns become role "model".
func (g *GeminiInvoker) requestBody(turns []prompt.Turn) ([]byte, error) {
	type part struct {
		Text string `json:"text"`
	}
	type content struct {
		Role  string `json:"role,omitempty"`
		Parts []part `json:"parts"`
	}

	req := map[string]any{}
	var contents []content
	for _, t := range turns {
		switch t.Role {
		case prompt.RoleSystem:
			req["systemInstruction"] = content{Parts: []part{{Text: t.Content}}}
		case prompt.RoleAssistant:
			contents = append(contents, content{Role: "model", Parts: []part{{Text: t.Content}}})
		default:
			contents = append(contents, content{Role: "user", Parts: []part{{Text: t.Content}}})
		}
	}
	req["contents"] = contents
	return json.Marshal(req)
}

func (g *GeminiInvoker) newRequest(ctx context.Context, method string, body []byte) (*http.Request, error) {
	url := g.cfg.Endpoint + "/" + g.cfg.Model + ":" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)
	return req, nil
}

// Generate runs a non-streaming generation, retrying rate-limit-class
// failures with exponential backoff plus jitter.
func (g *GeminiInvoker) Generate(ctx context.Context, turns []prompt.Turn) (string, error) {
	body, err := g.requestBody(turns)
	if err != nil {
		return "", &Error{Code: CodeProviderError, Message: err.Error()}
	}

	var lastErr error
	for attempt := 0; attempt < g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(g.cfg.RetryBaseDelay, attempt-1)
			log.Debug().Str("provider", "gemini").Int("attempt", attempt).Dur("delay", delay).Msg("rate limited, backing off")
			if err := sleepCtx(ctx, delay); err != nil {
				return "", &Error{Code: CodeProviderError, Message: err.Error()}
			}
		}

		text, err := g.generateOnce(ctx, body)
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

func (g *GeminiInvoker) generateOnce(ctx context.Context, body []byte) (string, error) {
	req, err := g.newRequest(ctx, "generateContent", body)
	if err != nil {
		return "", &Error{Code: CodeProviderError, Message: err.Error()}
	}
	resp, err := g.http.Do(req)
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
	text := gjson.GetBytes(respBody, "candidates.0.content.parts.0.text").String()
	if text == "" {
		// Safety-filtered responses come back with no parts.
		reason := gjson.GetBytes(respBody, "candidates.0.finishReason").String()
		if reason != "" && reason != "STOP" {
			return "", &Error{Code: CodeProviderError, Message: "response blocked: " + reason}
		}
	}
	return text, nil
}

// StreamGenerate starts a streaming generation over SSE.
func (g *GeminiInvoker) StreamGenerate(ctx context.Context, turns []prompt.Turn) (Stream, error) {
	body, err := g.requestBody(turns)
	if err != nil {
		return nil, &Error{Code: CodeProviderError, Message: err.Error()}
	}
	req, err := g.newRequest(ctx, "streamGenerateContent?alt=sse", body)
	if err != nil {
		return nil, &Error{Code: CodeProviderError, Message: err.Error()}
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := g.stream.Do(req)
	if err != nil {
		return nil, &Error{Code: CodeProviderError, Message: err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxSSELineSize))
		_ = resp.Body.Close()
		return nil, statusError(resp.StatusCode, respBody)
	}
	return newSSEStream(resp.Body, "candidates.0.content.parts.0.text"), nil
}

var _ Invoker = (*GeminiInvoker)(nil)
