// Package types holds the shared data model for one request/response
// cycle. Nothing in this package outlives a single call: the server is
// stateless and all conversational context travels with the request.
package types

import "time"

// PersonaID identifies one of the fixed reasoning personas. The set is
// closed; there is no runtime registration of new personas.
type PersonaID string

const (
	// PersonaExpert answers theory questions with authoritative depth.
	PersonaExpert PersonaID = "expert"
	// PersonaAssistant gives operational guidance and study coaching.
	PersonaAssistant PersonaID = "assistant"
	// PersonaPeer is the peer-level companion for open discussion.
	PersonaPeer PersonaID = "peer"
	// PersonaRouter is the classification persona. It never responds to
	// the learner directly; it only picks who does.
	PersonaRouter PersonaID = "router"
)

// ResponderPersonas lists the personas that may speak to the learner,
// in the fixed collaboration order.
var ResponderPersonas = []PersonaID{PersonaExpert, PersonaAssistant, PersonaPeer}

// IsResponder reports whether id names a persona that can produce turns.
func (id PersonaID) IsResponder() bool {
	for _, p := range ResponderPersonas {
		if p == id {
			return true
		}
	}
	return false
}

// RoleUser marks learner-authored messages. Persona-authored messages
// carry the persona id as their role.
const RoleUser = "user"

// Message is one utterance in a conversation. Messages are immutable
// once constructed; history arrives from the caller and is treated as
// opaque (the server never verifies or stores it).
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Mode selects how a request is orchestrated.
type Mode string

const (
	// ModeDirect routes to exactly one responder persona.
	ModeDirect Mode = "direct"
	// ModeCollaborate convenes the full persona set.
	ModeCollaborate Mode = "collaborate"
)

// Strategy selects the collaboration interaction pattern.
type Strategy string

const (
	// StrategySequential runs personas in order; each sees the turns
	// produced earlier in the same round.
	StrategySequential Strategy = "sequential"
	// StrategyParallel fans all personas out against the same pre-round
	// transcript and joins before continuing.
	StrategyParallel Strategy = "parallel"
)

// Request carries everything needed to answer one call. It exists only
// for the lifetime of that call.
type Request struct {
	// Message is the learner's current utterance.
	Message string
	// Mode selects direct or collaborate orchestration.
	Mode Mode
	// Override, when set, skips classification and sends the request
	// straight to the named persona. Direct mode only.
	Override PersonaID
	// History is the caller-supplied transcript of prior exchanges.
	History []Message
	// Subject and Difficulty are optional hints forwarded verbatim into
	// the persona context block. Never validated.
	Subject    string
	Difficulty string
	// Strategy picks the collaboration pattern (collaborate mode only).
	Strategy Strategy
	// Rounds bounds collaboration rounds; 0 means the configured default.
	Rounds int
	// Deadline bounds the whole request; 0 means the configured default.
	Deadline time.Duration
}

// FailureKind classifies a generation failure. Kinds propagate verbatim
// into response metadata; they are never collapsed into a generic error.
type FailureKind string

const (
	// FailureAuth is a non-retryable upstream credential failure.
	FailureAuth FailureKind = "auth_error"
	// FailureRateLimited is an upstream 429.
	FailureRateLimited FailureKind = "rate_limited"
	// FailureTimeout covers per-call and request-deadline expiry.
	FailureTimeout FailureKind = "timeout"
	// FailureNetwork covers transport errors and upstream 5xx.
	FailureNetwork FailureKind = "transient_network_error"
	// FailureInvalidResponse means the reply violated a requested
	// structured-output schema.
	FailureInvalidResponse FailureKind = "invalid_response"
)

// Retryable reports whether the retry policy may re-attempt this kind.
// Invalid responses have their own single-retry handling inside the
// client, so they are not retryable at this level.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureRateLimited, FailureTimeout, FailureNetwork:
		return true
	default:
		return false
	}
}

// Turn is one persona's contribution within a collaboration round.
// Appended to the transcript exactly once and never mutated afterwards.
type Turn struct {
	Persona   PersonaID   `json:"persona"`
	Round     int         `json:"round"`
	Content   string      `json:"content,omitempty"`
	Failure   FailureKind `json:"failure_kind,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitempty"`
}

// OK reports whether the turn carries content rather than a failure.
func (t Turn) OK() bool { return t.Failure == "" }

// Usage reports upstream token accounting for one generation call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Reply is a successful generation result.
type Reply struct {
	Text  string
	Usage Usage
}

// Status summarizes an assembled response.
type Status string

const (
	// StatusOK means every requested persona produced a turn.
	StatusOK Status = "ok"
	// StatusDegraded means some personas failed but at least one spoke.
	StatusDegraded Status = "degraded"
	// StatusFailed means no persona produced content.
	StatusFailed Status = "failed"
)
