package voice

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/ent0n29/folio/internal/audio"
	"github.com/ent0n29/folio/internal/token"
)

// MockCredentials issues a fixed grant without calling the provider.
type MockCredentials struct {
	Instruction string
}

func (m MockCredentials) Issue(context.Context) (token.Grant, error) {
	return token.Grant{
		Token:             "auth_tokens/mock",
		Model:             "mock",
		ExpiresAt:         time.Now().Add(30 * time.Minute),
		SystemInstruction: m.Instruction,
	}, nil
}

// MockDialer opens offline sessions that answer every text turn, and every
// ReplyEvery of captured audio, with a short tone.
type MockDialer struct {
	ReplyEvery time.Duration
}

func (d MockDialer) Dial(context.Context, token.Grant) (LiveSession, error) {
	every := d.ReplyEvery
	if every <= 0 {
		every = 4 * time.Second
	}
	return &mockSession{
		events:     make(chan ServerEvent, 64),
		closed:     make(chan struct{}),
		replyEvery: every,
	}, nil
}

type mockSession struct {
	mu         sync.Mutex
	events     chan ServerEvent
	closed     chan struct{}
	closeOnce  sync.Once
	replyEvery time.Duration
	heard      time.Duration
}

func (s *mockSession) SendText(text string) error {
	return s.reply("Hi, thanks for calling. Ask me anything about my work.")
}

func (s *mockSession) SendAudio(pcm []byte, sampleRate int) error {
	s.mu.Lock()
	s.heard += audio.Duration(pcm, sampleRate)
	due := s.heard >= s.replyEvery
	if due {
		s.heard = 0
	}
	s.mu.Unlock()
	if !due {
		return nil
	}
	return s.reply("That is a good question.")
}

func (s *mockSession) reply(text string) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}
	for _, chunk := range mockTone(3, 200*time.Millisecond) {
		s.push(ServerEvent{Audio: []ServerAudio{{PCM: chunk, SampleRate: audio.PlaybackSampleRate}}})
	}
	s.push(ServerEvent{Text: []string{text}})
	s.push(ServerEvent{TurnComplete: true})
	return nil
}

func (s *mockSession) push(ev ServerEvent) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

func (s *mockSession) Receive() (ServerEvent, error) {
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.closed:
		return ServerEvent{}, ErrSessionClosed
	}
}

func (s *mockSession) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

// mockTone returns n chunks of a quiet 440 Hz tone at the playback rate.
func mockTone(n int, each time.Duration) [][]byte {
	samples := int(each.Seconds() * audio.PlaybackSampleRate)
	out := make([][]byte, 0, n)
	for c := 0; c < n; c++ {
		buf := make([]float32, samples)
		for i := range buf {
			t := float64(c*samples+i) / audio.PlaybackSampleRate
			buf[i] = float32(0.2 * math.Sin(2*math.Pi*440*t))
		}
		out = append(out, audio.Float32ToPCM16LE(buf))
	}
	return out
}
