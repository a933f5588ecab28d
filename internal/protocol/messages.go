package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientControl    MessageType = "client_control"
	TypeCallStarted      MessageType = "call_started"
	TypeVoiceState       MessageType = "voice_state"
	TypeMicLevel         MessageType = "mic_level"
	TypeAssistantAudio   MessageType = "assistant_audio_chunk"
	TypeAssistantText    MessageType = "assistant_text"
	TypeSystemEvent      MessageType = "system_event"
	TypeErrorEvent       MessageType = "error_event"
)

// Client control actions.
const (
	ActionStart     = "start"
	ActionEnd       = "end"
	ActionMicDenied = "mic_denied"
)

// AudioFormatPCM16 is the only wire audio format in both directions.
const AudioFormatPCM16 = "pcm_s16le"

// Accepted client capture rates.
const (
	MinSampleRate = 8000
	MaxSampleRate = 48000
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
	Detail string      `json:"detail,omitempty"`
}

type CallStarted struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
}

type VoiceState struct {
	Type       MessageType `json:"type"`
	CallID     string      `json:"call_id"`
	Connection string      `json:"connection"`
	Voice      string      `json:"voice"`
}

type MicLevel struct {
	Type  MessageType `json:"type"`
	Level float64     `json:"level"`
}

// AssistantAudioChunk carries one model buffer with its position on the call
// clock. Consecutive chunks satisfy start_ms(n+1) >= start_ms(n)+duration_ms(n).
type AssistantAudioChunk struct {
	Type        MessageType `json:"type"`
	CallID      string      `json:"call_id"`
	Seq         int         `json:"seq"`
	Format      string      `json:"format"`
	SampleRate  int         `json:"sample_rate"`
	StartMS     float64     `json:"start_ms"`
	DurationMS  float64     `json:"duration_ms"`
	AudioBase64 string      `json:"audio_base64"`
}

type AssistantText struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
	Text   string      `json:"text"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	CallID string      `json:"call_id"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	CallID    string      `json:"call_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" {
			return nil, errors.New("invalid client_audio_chunk")
		}
		if msg.SampleRate < MinSampleRate || msg.SampleRate > MaxSampleRate {
			return nil, fmt.Errorf("invalid client_audio_chunk: sample_rate %d outside [%d, %d]", msg.SampleRate, MinSampleRate, MaxSampleRate)
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionStart, ActionEnd, ActionMicDenied:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
