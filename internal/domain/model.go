package domain

import (
	"io"
	"time"
)

// CredentialType distinguishes the shape of a credential produced by an
// adapter's refresh operation.
type CredentialType string

const (
	CredentialAccess  CredentialType = "access"
	CredentialRefresh CredentialType = "refresh"
	CredentialJWT     CredentialType = "jwt"
	CredentialCookie  CredentialType = "cookie"
)

// Credential is an in-memory projection returned by an adapter's
// RefreshToken operation.
type Credential struct {
	Type         CredentialType
	Value        string
	RefreshToken string
	ExpiresAt    *time.Time
}

// ModelMapping resolves a requested model name to the actual upstream model
// name, optionally pinning a preferred provider/account.
type ModelMapping struct {
	RequestModel        string `yaml:"request_model" json:"request_model"`
	ActualModel         string `yaml:"actual_model" json:"actual_model"`
	PreferredProviderID string `yaml:"preferred_provider_id" json:"preferred_provider_id,omitempty"`
	PreferredAccountID  string `yaml:"preferred_account_id" json:"preferred_account_id,omitempty"`
}

// AccountSelection is the ephemeral result of one load-balancer call: the
// whole interface between the balancer and the forwarder.
type AccountSelection struct {
	Account     *Account
	Provider    *Provider
	ActualModel string
}

// SSEEvent is one parsed server-sent event.
type SSEEvent struct {
	Event string
	Data  string
	ID    string
	Retry string
}

// ToolCall is a structured function invocation extracted from upstream text
// or native tool-call deltas.
type ToolCall struct {
	Index   int          `json:"index"`
	ID      string       `json:"id"`
	Type    string       `json:"type"`
	Function ToolFunction `json:"function"`
	RawText string       `json:"-"`
}

// ToolFunction is the {name, arguments} pair inside a ToolCall.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ForwardResult is the tagged union returned by an adapter's
// ForwardChatCompletion: either a buffered body or a readable stream, never
// both, never a bare nil in place of either.
type ForwardResult struct {
	Success       bool
	Status        int
	Headers       map[string]string
	Body          []byte
	Stream        io.ReadCloser
	SkipTransform bool
	Err           error
	Latency       time.Duration
}
