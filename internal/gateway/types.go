// Package gateway - types.go defines the inbound wire types.
//
// DESIGN: Clients speak JSON text frames over a WebSocket. Two inbound
// shapes (start, cancel); outbound frames are session.Event. Error codes
// shared across handlers live here so the taxonomy stays in one place.
package gateway

import "github.com/windowchat/stream-gateway/internal/prompt"

// Inbound message types.
const (
	msgStart  = "start"
	msgCancel = "cancel"
)

// Wire error codes.
const (
	codeRateLimited    = "rate_limited"
	codeInvalidRequest = "invalid_request"
	codeInternalError  = "internal_error"
)

// inboundMessage is one client frame.
type inboundMessage struct {
	Type      string        `json:"type"`
	RequestID string        `json:"requestId,omitempty"`
	Message   string        `json:"message,omitempty"`
	Model     string        `json:"model,omitempty"`
	History   []prompt.Turn `json:"history,omitempty"`
	Tool      string        `json:"tool,omitempty"`
}

// indexRequest is the payload for POST /index.
type indexRequest struct {
	Owner     string `json:"owner"`
	Namespace string `json:"namespace"`
	Ref       string `json:"ref"`
	Content   string `json:"content"`
}
