package voice

import (
	"fmt"
	"time"
)

// Wire shapes for the Vapi REST API. Only the fields the adapter reads or
// writes are declared.

type vapiAssistant struct {
	Name                  string      `json:"name"`
	Model                 vapiModel   `json:"model"`
	Voice                 vapiVoice   `json:"voice"`
	FirstMessage          string      `json:"firstMessage,omitempty"`
	EndCallMessage        string      `json:"endCallMessage,omitempty"`
	EndCallPhrases        []string    `json:"endCallPhrases,omitempty"`
	MaxDurationSeconds    int         `json:"maxDurationSeconds,omitempty"`
	SilenceTimeoutSeconds int         `json:"silenceTimeoutSeconds,omitempty"`
	Server                *vapiServer `json:"server,omitempty"`
}

type vapiModel struct {
	Provider string             `json:"provider"`
	Model    string             `json:"model"`
	Messages []vapiModelMessage `json:"messages"`
}

type vapiModelMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type vapiVoice struct {
	Provider string `json:"provider"`
	VoiceID  string `json:"voiceId"`
}

type vapiServer struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

type vapiCustomer struct {
	Number string `json:"number"`
}

type vapiAssistantOverrides struct {
	FirstMessage   string            `json:"firstMessage,omitempty"`
	Model          *vapiModel        `json:"model,omitempty"`
	VariableValues map[string]string `json:"variableValues,omitempty"`
}

type vapiCallRequest struct {
	AssistantID        string                  `json:"assistantId"`
	PhoneNumberID      string                  `json:"phoneNumberId"`
	Customer           vapiCustomer            `json:"customer"`
	Metadata           map[string]string       `json:"metadata,omitempty"`
	AssistantOverrides *vapiAssistantOverrides `json:"assistantOverrides,omitempty"`
}

type vapiMessage struct {
	Role             string  `json:"role"`
	Message          string  `json:"message"`
	SecondsFromStart float64 `json:"secondsFromStart"`
}

type vapiArtifact struct {
	Transcript         string        `json:"transcript"`
	RecordingURL       string        `json:"recordingUrl"`
	StereoRecordingURL string        `json:"stereoRecordingUrl"`
	Messages           []vapiMessage `json:"messages"`
}

type vapiCall struct {
	ID                 string         `json:"id"`
	Type               string         `json:"type"`
	Status             string         `json:"status"`
	EndedReason        string         `json:"endedReason"`
	StartedAt          *time.Time     `json:"startedAt"`
	EndedAt            *time.Time     `json:"endedAt"`
	CreatedAt          time.Time      `json:"createdAt"`
	Cost               float64        `json:"cost"`
	Customer           vapiCustomer   `json:"customer"`
	Metadata           map[string]any `json:"metadata"`
	Transcript         string         `json:"transcript"`
	RecordingURL       string         `json:"recordingUrl"`
	StereoRecordingURL string         `json:"stereoRecordingUrl"`
	Messages           []vapiMessage  `json:"messages"`
	Artifact           *vapiArtifact  `json:"artifact"`
}

func (vc vapiCall) toCall() Call {
	c := Call{
		ID:          vc.ID,
		Status:      vc.Status,
		Type:        vc.Type,
		PhoneNumber: vc.Customer.Number,
		EndedReason: vc.EndedReason,
		StartedAt:   vc.StartedAt,
		EndedAt:     vc.EndedAt,
		Cost:        vc.Cost,
		CreatedAt:   vc.CreatedAt,
	}
	if len(vc.Metadata) > 0 {
		c.Metadata = make(map[string]string, len(vc.Metadata))
		for k, v := range vc.Metadata {
			if s, ok := v.(string); ok {
				c.Metadata[k] = s
				continue
			}
			c.Metadata[k] = fmt.Sprint(v)
		}
	}
	return c
}
