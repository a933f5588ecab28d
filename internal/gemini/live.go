package gemini

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"
)

const DefaultOutputSampleRate = 24000

// ErrSessionClosed reports that the live session ended normally.
var ErrSessionClosed = errors.New("gemini: live session closed")

// AudioPart is one inline PCM16LE chunk from the model.
type AudioPart struct {
	PCM        []byte
	SampleRate int
}

// LiveEvent is the part of a server message the voice bridge acts on.
type LiveEvent struct {
	Audio        []AudioPart
	Text         []string
	TurnComplete bool
	// GoAway is set when the provider announces it will end the session.
	GoAway bool
}

// LiveSession wraps one SDK session. Sends are serialized; Receive must be
// called from a single goroutine.
type LiveSession struct {
	session *genai.Session

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// DialLive opens a live session authenticated with an ephemeral token.
func (c *Client) DialLive(ctx context.Context, token, model string) (*LiveSession, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("gemini: live token is empty")
	}
	if model == "" {
		model = c.cfg.LiveModel
	}
	sdk, err := genai.NewClient(ctx, c.clientConfig(token, liveAPIVersion))
	if err != nil {
		return nil, fmt.Errorf("gemini: create live client: %w", err)
	}
	session, err := sdk.Live.Connect(ctx, model, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
	})
	if err != nil {
		return nil, wrapProviderError("live_connect", err)
	}
	return &LiveSession{session: session}, nil
}

// SendText sends a realtime text input.
func (s *LiveSession) SendText(text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{Text: text})
}

// SendAudio sends one PCM16LE frame tagged with its sample rate.
func (s *LiveSession) SendAudio(pcm []byte, sampleRate int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{
			MIMEType: "audio/pcm;rate=" + strconv.Itoa(sampleRate),
			Data:     pcm,
		},
	})
}

// Receive blocks for the next server message. A normal websocket close is
// reported as ErrSessionClosed.
func (s *LiveSession) Receive() (LiveEvent, error) {
	msg, err := s.session.Receive()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return LiveEvent{}, ErrSessionClosed
		}
		return LiveEvent{}, wrapProviderError("live_receive", err)
	}
	return convertMessage(msg), nil
}

func (s *LiveSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.session.Close()
	})
	return s.closeErr
}

func convertMessage(msg *genai.LiveServerMessage) LiveEvent {
	var ev LiveEvent
	if msg == nil {
		return ev
	}
	ev.GoAway = msg.GoAway != nil
	sc := msg.ServerContent
	if sc == nil {
		return ev
	}
	ev.TurnComplete = sc.TurnComplete
	if sc.ModelTurn == nil {
		return ev
	}
	for _, part := range sc.ModelTurn.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			ev.Audio = append(ev.Audio, AudioPart{
				PCM:        part.InlineData.Data,
				SampleRate: sampleRateFromMIME(part.InlineData.MIMEType),
			})
		}
		if part.Text != "" && !part.Thought {
			ev.Text = append(ev.Text, part.Text)
		}
	}
	return ev
}

// sampleRateFromMIME reads the rate parameter of "audio/pcm;rate=24000".
func sampleRateFromMIME(mime string) int {
	for _, param := range strings.Split(mime, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
			return rate
		}
	}
	return DefaultOutputSampleRate
}
