package voice

import (
	"context"
	"errors"

	"github.com/ent0n29/folio/internal/gemini"
	"github.com/ent0n29/folio/internal/token"
)

// GeminiDialer opens live sessions with the provider SDK.
type GeminiDialer struct {
	Client *gemini.Client
}

func (d GeminiDialer) Dial(ctx context.Context, grant token.Grant) (LiveSession, error) {
	s, err := d.Client.DialLive(ctx, grant.Token, grant.Model)
	if err != nil {
		return nil, err
	}
	return geminiSession{s: s}, nil
}

type geminiSession struct {
	s *gemini.LiveSession
}

func (g geminiSession) SendText(text string) error { return g.s.SendText(text) }

func (g geminiSession) SendAudio(pcm []byte, sampleRate int) error {
	return g.s.SendAudio(pcm, sampleRate)
}

func (g geminiSession) Close() error { return g.s.Close() }

func (g geminiSession) Receive() (ServerEvent, error) {
	ev, err := g.s.Receive()
	if err != nil {
		if errors.Is(err, gemini.ErrSessionClosed) {
			return ServerEvent{}, ErrSessionClosed
		}
		return ServerEvent{}, err
	}
	out := ServerEvent{Text: ev.Text, TurnComplete: ev.TurnComplete, GoAway: ev.GoAway}
	for _, a := range ev.Audio {
		out.Audio = append(out.Audio, ServerAudio{PCM: a.PCM, SampleRate: a.SampleRate})
	}
	return out, nil
}
