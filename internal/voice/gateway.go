package voice

import (
	"context"
	"time"
)

// Gateway is the provider-agnostic contract for the outbound voice-agent
// platform.
//
// Rules:
// - No provider HTTP calls outside gateway adapters.
// - A gateway never touches negotiation state; callers record the result.
// - Every failure is a *GatewayError.
type Gateway interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// ConfigureAgent creates or updates the remote agent. Repeated calls with
	// different prompts reuse the same agent identity.
	ConfigureAgent(ctx context.Context, cfg AgentConfig) (Agent, error)
	// PlaceCall is a single round trip; it is never retried.
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)
	EndCall(ctx context.Context, callID string) error

	GetCall(ctx context.Context, callID string) (Call, error)
	GetTranscript(ctx context.Context, callID string) (Transcript, error)
	// GetRecording returns an empty Recording, not an error, while the
	// provider has not produced one yet.
	GetRecording(ctx context.Context, callID string) (Recording, error)
	GetEvents(ctx context.Context, callID string) ([]Event, error)
	ListCalls(ctx context.Context, req ListCallsRequest) ([]Call, error)
	ListPhoneNumbers(ctx context.Context) ([]PhoneNumber, error)
}

// AgentConfig is the persona and instruction payload for the remote agent.
type AgentConfig struct {
	Name           string
	SystemPrompt   string
	FirstMessage   string
	EndCallMessage string
}

type Agent struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PlaceCallRequest struct {
	// PhoneNumber is the E.164 number to dial.
	PhoneNumber string
	// AgentID overrides the configured agent when set.
	AgentID string

	// FirstMessage and SystemPrompt are sent as per-call overrides so that
	// concurrent calls sharing one agent each speak their own script.
	FirstMessage string
	SystemPrompt string

	// Metadata is echoed back by the provider in its callbacks.
	Metadata map[string]string
}

type PlaceCallResult struct {
	CallID string `json:"callId"`
	Status string `json:"status"`
}

// Call is a provider call snapshot.
type Call struct {
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Type        string            `json:"type,omitempty"`
	PhoneNumber string            `json:"phoneNumber,omitempty"`
	EndedReason string            `json:"endedReason,omitempty"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	EndedAt     *time.Time        `json:"endedAt,omitempty"`
	Cost        float64           `json:"cost,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

type Transcript struct {
	CallID   string    `json:"callId"`
	Text     string    `json:"text"`
	Messages []Message `json:"messages"`
}

type Message struct {
	Role             string  `json:"role"`
	Text             string  `json:"text"`
	SecondsFromStart float64 `json:"secondsFromStart"`
}

// Recording is empty (URL == "") until the provider has one.
type Recording struct {
	CallID    string `json:"callId,omitempty"`
	URL       string `json:"url,omitempty"`
	StereoURL string `json:"stereoUrl,omitempty"`
}

func (r Recording) Available() bool { return r.URL != "" }

type Event struct {
	Type             string  `json:"type"`
	Role             string  `json:"role,omitempty"`
	Message          string  `json:"message,omitempty"`
	SecondsFromStart float64 `json:"secondsFromStart"`
}

type ListCallsRequest struct {
	Limit  int
	Offset int
}

type PhoneNumber struct {
	ID       string `json:"id"`
	Number   string `json:"number"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
	Status   string `json:"status,omitempty"`
}
