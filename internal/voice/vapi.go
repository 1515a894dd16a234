package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"negotiator/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultVapiBaseURL = "https://api.vapi.ai"
	maxResponseBytes   = 4 << 20

	defaultAgentName      = "Customer Service Negotiator"
	defaultEndCallMessage = "Thank you for your time. Have a great day!"
)

// VapiConfig configures the Vapi adapter.
type VapiConfig struct {
	APIKey        string
	BaseURL       string
	AssistantID   string
	PhoneNumberID string

	// ServerURL receives end-of-call reports; ServerSecret is echoed in the
	// X-Vapi-Secret header so the webhook can authenticate them.
	ServerURL    string
	ServerSecret string

	ModelProvider string
	Model         string
	VoiceProvider string
	VoiceID       string

	MaxDuration    time.Duration
	SilenceTimeout time.Duration

	Timeout              time.Duration
	MaxRetries           int
	RetryInitialInterval time.Duration

	HTTPClient *http.Client
}

func (c VapiConfig) withDefaults() VapiConfig {
	out := c
	if strings.TrimSpace(out.BaseURL) == "" {
		out.BaseURL = defaultVapiBaseURL
	}
	out.BaseURL = strings.TrimRight(out.BaseURL, "/")
	if out.ModelProvider == "" {
		out.ModelProvider = "openai"
	}
	if out.Model == "" {
		out.Model = "gpt-4"
	}
	if out.VoiceProvider == "" {
		out.VoiceProvider = "11labs"
	}
	if out.VoiceID == "" {
		out.VoiceID = "21m00Tcm4TlvDq8ikWAM"
	}
	if out.MaxDuration <= 0 {
		out.MaxDuration = 5 * time.Minute
	}
	if out.SilenceTimeout <= 0 {
		out.SilenceTimeout = 30 * time.Second
	}
	if out.Timeout <= 0 {
		out.Timeout = 30 * time.Second
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.RetryInitialInterval <= 0 {
		out.RetryInitialInterval = 250 * time.Millisecond
	}
	return out
}

// VapiClient is the Gateway adapter for the Vapi voice-agent API.
type VapiClient struct {
	cfg        VapiConfig
	httpClient *http.Client

	// mu guards assistantID only; createMu serializes assistant creation.
	mu          sync.Mutex
	assistantID string
	createMu    sync.Mutex
}

var _ Gateway = (*VapiClient)(nil)

func NewVapiClient(cfg VapiConfig) (*VapiClient, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("vapi: api key required")
	}
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, fmt.Errorf("vapi: phone number id required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &VapiClient{
		cfg:         cfg,
		httpClient:  hc,
		assistantID: strings.TrimSpace(cfg.AssistantID),
	}, nil
}

func (c *VapiClient) Name() string { return "vapi" }

func (c *VapiClient) HealthCheck(ctx context.Context) error {
	q := url.Values{}
	q.Set("limit", "1")
	return c.do(ctx, "health_check", http.MethodGet, "/phone-number", q, nil, nil)
}

// AssistantID returns the agent currently used for calls.
func (c *VapiClient) AssistantID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assistantID
}

// ConfigureAgent updates the known assistant, or creates one when none is
// known or the provider no longer has it. Updates run concurrently; creation
// is serialized so concurrent negotiations never create duplicate assistants.
func (c *VapiClient) ConfigureAgent(ctx context.Context, cfg AgentConfig) (Agent, error) {
	body := c.assistantBody(cfg)
	if id := c.AssistantID(); id != "" {
		out, err := c.updateAssistant(ctx, id, body)
		if err == nil || !IsNotFound(err) {
			return out, err
		}
		logger.From(ctx).Warn("vapi assistant missing, recreating", "assistant_id", id)
		c.forgetAssistant(id)
	}
	return c.createAssistant(ctx, body)
}

func (c *VapiClient) updateAssistant(ctx context.Context, id string, body vapiAssistant) (Agent, error) {
	var out Agent
	if err := c.do(ctx, "configure_agent", http.MethodPatch, "/assistant/"+url.PathEscape(id), nil, body, &out); err != nil {
		return Agent{}, err
	}
	if out.ID == "" {
		out.ID = id
	}
	return out, nil
}

func (c *VapiClient) createAssistant(ctx context.Context, body vapiAssistant) (Agent, error) {
	const op = "configure_agent"
	c.createMu.Lock()
	defer c.createMu.Unlock()

	// Another dispatch may have created it while we waited. The per-call
	// script still travels as assistant overrides.
	if id := c.AssistantID(); id != "" {
		return Agent{ID: id}, nil
	}

	var out Agent
	if err := c.do(ctx, op, http.MethodPost, "/assistant", nil, body, &out); err != nil {
		return Agent{}, err
	}
	if out.ID == "" {
		return Agent{}, gatewayErr(op, 0, errors.New("provider returned no assistant id"))
	}
	c.mu.Lock()
	c.assistantID = out.ID
	c.mu.Unlock()
	return out, nil
}

// forgetAssistant drops id unless another dispatch already replaced it.
func (c *VapiClient) forgetAssistant(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.assistantID == id {
		c.assistantID = ""
	}
}

func (c *VapiClient) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	const op = "place_call"
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		agentID = c.AssistantID()
	}
	if agentID == "" {
		return PlaceCallResult{}, gatewayErr(op, 0, errors.New("no assistant configured"))
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		return PlaceCallResult{}, gatewayErr(op, 0, errors.New("customer number required"))
	}

	body := vapiCallRequest{
		AssistantID:   agentID,
		PhoneNumberID: c.cfg.PhoneNumberID,
		Customer:      vapiCustomer{Number: req.PhoneNumber},
		Metadata:      req.Metadata,
	}
	if req.FirstMessage != "" || req.SystemPrompt != "" || len(req.Metadata) > 0 {
		ov := &vapiAssistantOverrides{FirstMessage: req.FirstMessage, VariableValues: req.Metadata}
		if req.SystemPrompt != "" {
			m := c.model(req.SystemPrompt)
			ov.Model = &m
		}
		body.AssistantOverrides = ov
	}

	var out vapiCall
	if err := c.do(ctx, op, http.MethodPost, "/call", nil, body, &out); err != nil {
		return PlaceCallResult{}, err
	}
	if out.ID == "" {
		return PlaceCallResult{}, gatewayErr(op, 0, errors.New("provider returned no call id"))
	}
	return PlaceCallResult{CallID: out.ID, Status: out.Status}, nil
}

func (c *VapiClient) EndCall(ctx context.Context, callID string) error {
	return c.do(ctx, "end_call", http.MethodPost, "/call/"+url.PathEscape(callID)+"/end", nil, struct{}{}, nil)
}

func (c *VapiClient) GetCall(ctx context.Context, callID string) (Call, error) {
	vc, err := c.fetchCall(ctx, "get_call", callID)
	if err != nil {
		return Call{}, err
	}
	return vc.toCall(), nil
}

func (c *VapiClient) GetTranscript(ctx context.Context, callID string) (Transcript, error) {
	vc, err := c.fetchCall(ctx, "get_transcript", callID)
	if err != nil {
		return Transcript{}, err
	}
	text, msgs := vc.Transcript, vc.Messages
	if vc.Artifact != nil {
		if text == "" {
			text = vc.Artifact.Transcript
		}
		if len(msgs) == 0 {
			msgs = vc.Artifact.Messages
		}
	}
	out := Transcript{CallID: vc.ID, Text: text, Messages: make([]Message, 0, len(msgs))}
	for _, m := range msgs {
		if m.Role == "system" {
			continue
		}
		out.Messages = append(out.Messages, Message{Role: m.Role, Text: m.Message, SecondsFromStart: m.SecondsFromStart})
	}
	return out, nil
}

func (c *VapiClient) GetRecording(ctx context.Context, callID string) (Recording, error) {
	vc, err := c.fetchCall(ctx, "get_recording", callID)
	if err != nil {
		if IsNotFound(err) {
			return Recording{}, nil
		}
		return Recording{}, err
	}
	rec := Recording{URL: vc.RecordingURL, StereoURL: vc.StereoRecordingURL}
	if rec.URL == "" && vc.Artifact != nil {
		rec.URL = vc.Artifact.RecordingURL
		rec.StereoURL = vc.Artifact.StereoRecordingURL
	}
	if !rec.Available() {
		return Recording{}, nil
	}
	rec.CallID = vc.ID
	return rec, nil
}

func (c *VapiClient) GetEvents(ctx context.Context, callID string) ([]Event, error) {
	vc, err := c.fetchCall(ctx, "get_events", callID)
	if err != nil {
		return nil, err
	}
	msgs := vc.Messages
	if len(msgs) == 0 && vc.Artifact != nil {
		msgs = vc.Artifact.Messages
	}
	out := make([]Event, 0, len(msgs)+1)
	for _, m := range msgs {
		out = append(out, Event{Type: "message", Role: m.Role, Message: m.Message, SecondsFromStart: m.SecondsFromStart})
	}
	if vc.EndedReason != "" {
		ev := Event{Type: "ended", Message: vc.EndedReason}
		if vc.StartedAt != nil && vc.EndedAt != nil {
			ev.SecondsFromStart = vc.EndedAt.Sub(*vc.StartedAt).Seconds()
		}
		out = append(out, ev)
	}
	return out, nil
}

// ListCalls pages newest-first. The provider only supports a limit, so the
// offset is applied client-side.
func (c *VapiClient) ListCalls(ctx context.Context, req ListCallsRequest) ([]Call, error) {
	limit, offset := req.Limit, req.Offset
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit+offset))

	var raw []vapiCall
	err := c.retry(ctx, func() error {
		return c.do(ctx, "list_calls", http.MethodGet, "/call", q, nil, &raw)
	})
	if err != nil {
		return nil, err
	}
	if offset >= len(raw) {
		return []Call{}, nil
	}
	raw = raw[offset:]
	if len(raw) > limit {
		raw = raw[:limit]
	}
	out := make([]Call, 0, len(raw))
	for _, vc := range raw {
		out = append(out, vc.toCall())
	}
	return out, nil
}

func (c *VapiClient) ListPhoneNumbers(ctx context.Context) ([]PhoneNumber, error) {
	var out []PhoneNumber
	err := c.retry(ctx, func() error {
		return c.do(ctx, "list_phone_numbers", http.MethodGet, "/phone-number", nil, nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *VapiClient) fetchCall(ctx context.Context, op, callID string) (vapiCall, error) {
	if strings.TrimSpace(callID) == "" {
		return vapiCall{}, gatewayErr(op, 0, errors.New("call id required"))
	}
	var vc vapiCall
	err := c.retry(ctx, func() error {
		return c.do(ctx, op, http.MethodGet, "/call/"+url.PathEscape(callID), nil, nil, &vc)
	})
	return vc, err
}

// retry re-runs a read on retryable gateway errors with exponential backoff.
// Mutating calls never go through here.
func (c *VapiClient) retry(ctx context.Context, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryInitialInterval
	eb.MaxElapsedTime = c.cfg.Timeout
	var b backoff.BackOff = backoff.WithMaxRetries(eb, uint64(c.cfg.MaxRetries))
	b = backoff.WithContext(b, ctx)

	return backoff.Retry(func() error {
		err := fn()
		var gerr *GatewayError
		if err != nil && errors.As(err, &gerr) && !gerr.Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

func (c *VapiClient) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return gatewayErr(op, 0, fmt.Errorf("encode request: %w", err))
		}
		rdr = bytes.NewReader(b)
	}

	u := c.cfg.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return gatewayErr(op, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gatewayErr(op, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gatewayErr(op, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gatewayErr(op, resp.StatusCode, errors.New(apiErrorMessage(raw, resp.StatusCode)))
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return gatewayErr(op, resp.StatusCode, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func apiErrorMessage(raw []byte, status int) string {
	var body struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		var s string
		if json.Unmarshal(body.Message, &s) == nil && s != "" {
			return s
		}
		var list []string
		if json.Unmarshal(body.Message, &list) == nil && len(list) > 0 {
			return strings.Join(list, "; ")
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && len(text) <= 200 {
		return text
	}
	return http.StatusText(status)
}

func (c *VapiClient) model(systemPrompt string) vapiModel {
	return vapiModel{
		Provider: c.cfg.ModelProvider,
		Model:    c.cfg.Model,
		Messages: []vapiModelMessage{{Role: "system", Content: systemPrompt}},
	}
}

func (c *VapiClient) assistantBody(cfg AgentConfig) vapiAssistant {
	name := cfg.Name
	if name == "" {
		name = defaultAgentName
	}
	endMsg := cfg.EndCallMessage
	if endMsg == "" {
		endMsg = defaultEndCallMessage
	}
	a := vapiAssistant{
		Name:                  name,
		Model:                 c.model(cfg.SystemPrompt),
		Voice:                 vapiVoice{Provider: c.cfg.VoiceProvider, VoiceID: c.cfg.VoiceID},
		FirstMessage:          cfg.FirstMessage,
		EndCallMessage:        endMsg,
		EndCallPhrases:        []string{"goodbye", "have a good day", "bye"},
		MaxDurationSeconds:    int(c.cfg.MaxDuration.Seconds()),
		SilenceTimeoutSeconds: int(c.cfg.SilenceTimeout.Seconds()),
	}
	if c.cfg.ServerURL != "" {
		a.Server = &vapiServer{URL: c.cfg.ServerURL, Secret: c.cfg.ServerSecret}
	}
	return a
}
