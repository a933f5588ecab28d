package voice

import (
	"context"
	"time"

	"github.com/ent0n29/folio/internal/token"
)

// Microphone grants access to a capture stream.
type Microphone interface {
	Open(ctx context.Context) (Capture, error)
}

// Capture delivers mono float32 frames at the capture rate. Frames is
// closed when the capture ends. Stop may be called more than once.
type Capture interface {
	Frames() <-chan []float32
	Stop()
}

// Chunk is one model audio buffer placed on the call clock.
type Chunk struct {
	PCM        []byte
	SampleRate int
	StartAt    time.Duration
	Duration   time.Duration
}

// Speaker plays scheduled chunks. Close releases the output device.
type Speaker interface {
	Play(chunk Chunk)
	Close() error
}

// CredentialSource issues a realtime credential for one session.
type CredentialSource interface {
	Issue(ctx context.Context) (token.Grant, error)
}

// Dialer opens a provider session with a credential.
type Dialer interface {
	Dial(ctx context.Context, grant token.Grant) (LiveSession, error)
}

// LiveSession is an open provider session. Receive blocks and is called
// from a single goroutine; it returns ErrSessionClosed on a normal close.
// Close may be called more than once.
type LiveSession interface {
	SendText(text string) error
	SendAudio(pcm []byte, sampleRate int) error
	Receive() (ServerEvent, error)
	Close() error
}

type ServerAudio struct {
	PCM        []byte
	SampleRate int
}

// ServerEvent is one provider message reduced to what the bridge uses.
type ServerEvent struct {
	Audio        []ServerAudio
	Text         []string
	TurnComplete bool
	// GoAway means the provider will close the session soon.
	GoAway bool
}

// Observer receives UI-facing updates. Calls come from the bridge loop and
// must not block.
type Observer interface {
	StateChanged(conn ConnState, voice VoiceState)
	MicLevel(level float64)
	Advisory(text string)
	AssistantText(text string)
}

type NopObserver struct{}

func (NopObserver) StateChanged(ConnState, VoiceState) {}
func (NopObserver) MicLevel(float64)                   {}
func (NopObserver) Advisory(string)                    {}
func (NopObserver) AssistantText(string)               {}
