package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseClientMessageAudioChunk(t *testing.T) {
	raw := []byte(`{"type":"client_audio_chunk","seq":1,"pcm16_base64":"AQID","sample_rate":16000}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	audio, ok := msg.(ClientAudioChunk)
	if !ok {
		t.Fatalf("message type = %T, want ClientAudioChunk", msg)
	}
	if audio.Seq != 1 || audio.SampleRate != 16000 || audio.PCM16Base64 != "AQID" {
		t.Fatalf("unexpected audio chunk: %+v", audio)
	}
}

func TestParseClientMessageRejectsEmptyAudio(t *testing.T) {
	for _, raw := range []string{
		`{"type":"client_audio_chunk","pcm16_base64":"","sample_rate":16000}`,
		`{"type":"client_audio_chunk","pcm16_base64":"AQID","sample_rate":0}`,
	} {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) error = nil, want error", raw)
		}
	}
}

func TestParseClientMessageRejectsOutOfRangeSampleRate(t *testing.T) {
	for _, rate := range []int{1, MinSampleRate - 1, MaxSampleRate + 1, 1 << 30} {
		raw, _ := json.Marshal(ClientAudioChunk{Type: TypeClientAudioChunk, PCM16Base64: "AQID", SampleRate: rate})
		if _, err := ParseClientMessage(raw); err == nil {
			t.Fatalf("ParseClientMessage(sample_rate=%d) error = nil, want error", rate)
		}
	}
	for _, rate := range []int{MinSampleRate, 44100, MaxSampleRate} {
		raw, _ := json.Marshal(ClientAudioChunk{Type: TypeClientAudioChunk, PCM16Base64: "AQID", SampleRate: rate})
		if _, err := ParseClientMessage(raw); err != nil {
			t.Fatalf("ParseClientMessage(sample_rate=%d) error = %v", rate, err)
		}
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsInvalidJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{`)); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want error")
	}
}

func TestParseClientMessageControl(t *testing.T) {
	for _, action := range []string{ActionStart, ActionEnd, ActionMicDenied} {
		raw, _ := json.Marshal(ClientControl{Type: TypeClientControl, Action: action, Detail: "NotAllowedError"})
		msg, err := ParseClientMessage(raw)
		if err != nil {
			t.Fatalf("ParseClientMessage(%s) error = %v", action, err)
		}
		control, ok := msg.(ClientControl)
		if !ok {
			t.Fatalf("message type = %T, want ClientControl", msg)
		}
		if control.Action != action || control.Detail != "NotAllowedError" {
			t.Fatalf("unexpected client control: %+v", control)
		}
	}
}

func TestParseClientMessageRejectsUnknownAction(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"client_control","action":"approve_task_step"}`)); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want error")
	}
}
