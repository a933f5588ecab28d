package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/folio/internal/audio"
	"github.com/ent0n29/folio/internal/gemini"
	"github.com/ent0n29/folio/internal/observability"
	"github.com/ent0n29/folio/internal/policy"
	"github.com/ent0n29/folio/internal/protocol"
	"github.com/ent0n29/folio/internal/reliability"
	"github.com/ent0n29/folio/internal/session"
	"github.com/ent0n29/folio/internal/token"
	"github.com/ent0n29/folio/internal/voice"
)

// closeCall tells the writer to send a normal close frame and stop.
type closeCall struct{}

// handleVoiceWS hosts one voice bridge per websocket connection. The browser
// streams microphone PCM in and receives scheduled playback chunks out.
func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	if s.newBridge == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "voice relay not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rc := &relayCall{
		ctx:     ctx,
		out:     make(chan any, 256),
		mic:     newRelayMicrophone(),
		metrics: s.metrics,
		calls:   s.calls,
	}
	call := s.calls.Create(r.RemoteAddr, rc.hangup)
	rc.id = call.ID
	rc.log = observability.WithCallID(s.log, call.ID)
	bridge := s.newBridge(rc.mic, rc, rc, rc.log)
	rc.bridge.Store(bridge)

	s.metrics.ObserveCallEvent("ws_connected")
	s.metrics.SetActiveCalls(s.calls.ActiveCount())
	rc.log.Info().Str("remote_addr", r.RemoteAddr).Msg("voice relay connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-rc.out:
				if _, ok := msg.(closeCall); ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call ended"),
						time.Now().Add(time.Second))
					// Give the client a moment to answer the close.
					_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					s.metrics.ObserveWSMessage("write_error", "write_json")
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.ObserveWSMessage("outbound", string(t))
				}
			}
		}
	}()

	rc.enqueue(protocol.CallStarted{Type: protocol.TypeCallStarted, CallID: rc.id}, true)

	go func() {
		select {
		case <-bridge.Done():
			rc.enqueue(closeCall{}, true)
		case <-ctx.Done():
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = s.calls.Touch(rc.id)
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			rc.enqueue(protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				CallID:    rc.id,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}, false)
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.ObserveWSMessage("inbound", string(t))
		}
		rc.handleClient(parsed)
	}

	bridge.End()
	_, _ = s.calls.End(rc.id)
	cancel()
	<-writerDone
	s.metrics.ObserveCallEvent("ws_disconnected")
	s.metrics.SetActiveCalls(s.calls.ActiveCount())
	rc.log.Info().Msg("voice relay disconnected")
}

// relayCall adapts one websocket connection to the bridge's speaker and
// observer.
type relayCall struct {
	ctx     context.Context
	id      string
	out     chan any
	mic     *relayMicrophone
	bridge  atomic.Pointer[voice.Bridge]
	log     zerolog.Logger
	metrics *observability.Metrics
	calls   *session.Manager

	startOnce sync.Once
	seq       atomic.Int64
}

func (c *relayCall) hangup() {
	if b := c.bridge.Load(); b != nil {
		b.End()
	}
}

func (c *relayCall) handleClient(msg any) {
	switch m := msg.(type) {
	case protocol.ClientControl:
		switch m.Action {
		case protocol.ActionStart:
			c.start()
		case protocol.ActionMicDenied:
			c.mic.deny(m.Detail)
			c.start()
		case protocol.ActionEnd:
			c.hangup()
		}
	case protocol.ClientAudioChunk:
		pcm, err := audio.DecodeBase64(m.PCM16Base64)
		if err != nil {
			c.enqueue(c.errorEvent("invalid_audio", "gateway", false, err.Error()), false)
			return
		}
		samples, err := audio.PCM16LEToFloat32(pcm)
		if err != nil {
			c.enqueue(c.errorEvent("invalid_audio", "gateway", false, err.Error()), false)
			return
		}
		frame := audio.Resample(samples, m.SampleRate, audio.CaptureSampleRate)
		if len(frame) == 0 {
			c.enqueue(c.errorEvent("invalid_audio", "gateway", false, "unsupported sample rate"), false)
			return
		}
		if !c.mic.push(frame) {
			c.metrics.ObserveWSMessage("dropped", string(protocol.TypeClientAudioChunk))
		}
	}
}

func (c *relayCall) start() {
	first := false
	c.startOnce.Do(func() { first = true })
	if !first {
		c.enqueue(c.errorEvent("call_already_started", "gateway", false, "call already started"), false)
		return
	}
	b := c.bridge.Load()
	go func() {
		err := b.Start(c.ctx)
		if err == nil || errors.Is(err, voice.ErrCallEnded) {
			return
		}
		code, retryable := classifyCallError(err)
		c.enqueue(c.errorEvent(code, "provider", retryable, policy.RedactSecrets(err.Error())), true)
	}()
}

func (c *relayCall) errorEvent(code, source string, retryable bool, detail string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		CallID:    c.id,
		Code:      code,
		Source:    source,
		Retryable: retryable,
		Detail:    detail,
	}
}

// enqueue hands msg to the writer. Critical messages wait for room; others
// are dropped when the queue is full.
func (c *relayCall) enqueue(msg any, critical bool) {
	if critical {
		select {
		case c.out <- msg:
		case <-c.ctx.Done():
		}
		return
	}
	select {
	case c.out <- msg:
	default:
		if t, ok := messageTypeOf(msg); ok {
			c.metrics.ObserveWSMessage("dropped", string(t))
		}
	}
}

func (c *relayCall) Play(chunk voice.Chunk) {
	_ = c.calls.CountAudio(c.id)
	c.enqueue(protocol.AssistantAudioChunk{
		Type:        protocol.TypeAssistantAudio,
		CallID:      c.id,
		Seq:         int(c.seq.Add(1)),
		Format:      protocol.AudioFormatPCM16,
		SampleRate:  chunk.SampleRate,
		StartMS:     millis(chunk.StartAt),
		DurationMS:  millis(chunk.Duration),
		AudioBase64: audio.EncodeBase64(chunk.PCM),
	}, true)
}

// Close is a no-op: the browser owns the output device.
func (c *relayCall) Close() error { return nil }

func (c *relayCall) StateChanged(conn voice.ConnState, v voice.VoiceState) {
	_ = c.calls.SetState(c.id, string(conn), string(v))
	c.metrics.ObserveCallEvent(string(conn))
	c.enqueue(protocol.VoiceState{
		Type:       protocol.TypeVoiceState,
		CallID:     c.id,
		Connection: string(conn),
		Voice:      string(v),
	}, true)
}

func (c *relayCall) MicLevel(level float64) {
	c.enqueue(protocol.MicLevel{Type: protocol.TypeMicLevel, Level: level}, false)
}

func (c *relayCall) Advisory(text string) {
	c.enqueue(protocol.SystemEvent{
		Type:   protocol.TypeSystemEvent,
		CallID: c.id,
		Code:   "advisory",
		Detail: policy.RedactSecrets(text),
	}, false)
}

func (c *relayCall) AssistantText(text string) {
	c.enqueue(protocol.AssistantText{Type: protocol.TypeAssistantText, CallID: c.id, Text: text}, true)
}

func classifyCallError(err error) (code string, retryable bool) {
	switch {
	case errors.Is(err, voice.ErrMicrophoneUnavailable):
		return "microphone_unavailable", false
	case errors.Is(err, token.ErrUnconfigured):
		return "unconfigured", false
	case errors.Is(err, voice.ErrBridgeUsed):
		return "call_already_started", false
	}
	f := reliability.ClassifyError(err, gemini.StatusCode(err))
	return f.Code, f.Retryable
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// relayMicrophone is fed by client_audio_chunk messages. Frames that arrive
// before the bridge opens it, or after it stops, are dropped.
type relayMicrophone struct {
	mu      sync.Mutex
	denied  error
	capture *relayCapture
}

func newRelayMicrophone() *relayMicrophone {
	return &relayMicrophone{}
}

func (m *relayMicrophone) deny(detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if detail == "" {
		detail = "permission denied"
	}
	m.denied = fmt.Errorf("browser: %s", detail)
}

func (m *relayMicrophone) Open(context.Context) (voice.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied != nil {
		return nil, m.denied
	}
	if m.capture == nil {
		m.capture = &relayCapture{frames: make(chan []float32, 64)}
	}
	return m.capture, nil
}

func (m *relayMicrophone) push(frame []float32) bool {
	m.mu.Lock()
	c := m.capture
	m.mu.Unlock()
	if c == nil {
		return false
	}
	return c.push(frame)
}

type relayCapture struct {
	mu      sync.Mutex
	frames  chan []float32
	stopped bool
}

func (c *relayCapture) Frames() <-chan []float32 { return c.frames }

func (c *relayCapture) push(frame []float32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	select {
	case c.frames <- frame:
		return true
	default:
		return false
	}
}

func (c *relayCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.frames)
}
