package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/folio/internal/audio"
	"github.com/ent0n29/folio/internal/observability"
	"github.com/ent0n29/folio/internal/persona"
	"github.com/ent0n29/folio/internal/token"
)

type Config struct {
	GuardInterval     time.Duration
	ErrorResetDelay   time.Duration
	CaptureSampleRate int
	Clock             Clock
	Observer          Observer
	Logger            zerolog.Logger
	Metrics           *observability.Metrics
}

// Bridge runs one voice call. All call state is owned by a single loop
// goroutine; capture, provider and timer goroutines only post to it.
// A Bridge is single-use.
type Bridge struct {
	creds   CredentialSource
	dialer  Dialer
	mic     Microphone
	speaker Speaker

	machine  Machine
	clock    Clock
	observer Observer
	log      zerolog.Logger
	metrics  *observability.Metrics
	rate     int

	startOnce sync.Once
	started   bool
	events    chan any
	done      chan struct{}

	setupCtx    context.Context
	cancelSetup context.CancelFunc

	mu    sync.RWMutex
	state Snapshot

	// Owned by the loop goroutine.
	session      LiveSession
	capture      Capture
	listenTimer  Timer
	resetTimer   Timer
	speakerOnce  sync.Once
	ready        chan error
	openedAt     time.Time
	firstAudio   bool
	lastReported Snapshot
}

// Internal loop messages, distinct from reducer events.
type (
	captureReady struct{ capture Capture }
	sessionReady struct {
		session LiveSession
		grant   token.Grant
	}
	captureFrame struct{ samples []float32 }
	fromSession  struct {
		session LiveSession
		event   Event
	}
	serverMessage struct {
		session LiveSession
		msg     ServerEvent
	}
)

func NewBridge(creds CredentialSource, dialer Dialer, mic Microphone, speaker Speaker, cfg Config) *Bridge {
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.CaptureSampleRate <= 0 {
		cfg.CaptureSampleRate = audio.CaptureSampleRate
	}
	setupCtx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		creds:       creds,
		dialer:      dialer,
		mic:         mic,
		speaker:     speaker,
		machine:     Machine{GuardInterval: cfg.GuardInterval, ErrorResetDelay: cfg.ErrorResetDelay},
		clock:       cfg.Clock,
		observer:    cfg.Observer,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
		rate:        cfg.CaptureSampleRate,
		events:      make(chan any, 256),
		done:        make(chan struct{}),
		setupCtx:    setupCtx,
		cancelSetup: cancel,
		state:       Initial(),
		ready:       make(chan error, 1),
	}
}

// Snapshot returns the current call state.
func (b *Bridge) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Done is closed once the call has been torn down.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Start acquires the microphone, a credential and a provider session, sends
// the opening turn, then starts streaming capture. It returns once audio is
// flowing or setup has failed. On failure the bridge is left in the error
// state and tears itself down after the configured delay.
func (b *Bridge) Start(ctx context.Context) error {
	first := false
	b.startOnce.Do(func() { first = true })
	if !first {
		return ErrBridgeUsed
	}

	go b.loop()
	b.post(Connecting{})

	stop := context.AfterFunc(ctx, b.cancelSetup)
	defer stop()
	setupStart := time.Now()

	capture, err := b.mic.Open(b.setupCtx)
	if err != nil {
		return b.fail(fmt.Errorf("%w: %w", ErrMicrophoneUnavailable, err), nil)
	}
	if !b.post(captureReady{capture: capture}) {
		capture.Stop()
		return ErrCallEnded
	}

	grant, err := b.creds.Issue(b.setupCtx)
	if err != nil {
		return b.fail(fmt.Errorf("voice: fetch credential: %w", err), capture)
	}

	session, err := b.dialer.Dial(b.setupCtx, grant)
	if err != nil {
		return b.fail(fmt.Errorf("voice: open session: %w", err), capture)
	}
	if !b.post(sessionReady{session: session, grant: grant}) {
		capture.Stop()
		_ = session.Close()
		return ErrCallEnded
	}

	select {
	case err := <-b.ready:
		if err == nil {
			b.metrics.ObserveStage(observability.StageVoiceConnect, time.Since(setupStart))
		}
		return err
	case <-b.done:
		// The loop may have exited before taking ownership.
		capture.Stop()
		_ = session.Close()
		return ErrCallEnded
	}
}

// End hangs up. It is safe to call at any time and any number of times.
func (b *Bridge) End() {
	first := false
	b.startOnce.Do(func() { first = true })
	if first {
		// Never started: nothing to release beyond the speaker.
		b.mu.Lock()
		b.state, _ = b.machine.Reduce(b.state, EndRequested{})
		b.mu.Unlock()
		b.cancelSetup()
		b.closeSpeaker()
		close(b.done)
		return
	}
	b.post(EndRequested{})
}

func (b *Bridge) fail(err error, capture Capture) error {
	if b.ended() {
		if capture != nil {
			capture.Stop()
		}
		return ErrCallEnded
	}
	b.log.Error().Err(err).Msg("voice call setup failed")
	b.post(Failed{Err: err})
	return err
}

func (b *Bridge) ended() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// post hands msg to the loop. It reports false once the call has ended.
func (b *Bridge) post(msg any) bool {
	select {
	case <-b.done:
		return false
	case b.events <- msg:
		return true
	}
}

func (b *Bridge) loop() {
	for {
		select {
		case msg := <-b.events:
			if b.handle(msg) {
				return
			}
		case <-b.done:
			return
		}
	}
}

// handle returns true after teardown.
func (b *Bridge) handle(msg any) bool {
	switch m := msg.(type) {
	case captureReady:
		if b.Snapshot().Ended {
			m.capture.Stop()
			return false
		}
		b.capture = m.capture
		return false

	case sessionReady:
		return b.attachSession(m.session, m.grant)

	case captureFrame:
		b.forwardFrame(m.samples)
		return false

	case serverMessage:
		if m.session != b.session || b.session == nil {
			return false
		}
		if m.msg.GoAway {
			b.log.Info().Msg("provider announced session end")
			b.observer.Advisory("Provider is ending the session")
		}
		for _, ev := range b.serverEvents(m.msg) {
			if b.apply(ev) {
				return true
			}
		}
		return false

	case fromSession:
		if m.session != b.session || b.session == nil {
			return false
		}
		return b.apply(m.event)

	case Event:
		return b.apply(m)
	}
	return false
}

func (b *Bridge) attachSession(session LiveSession, grant token.Grant) bool {
	if b.Snapshot().Ended {
		_ = session.Close()
		return false
	}
	b.session = session
	b.openedAt = time.Now()
	if b.apply(Opened{Now: b.clock.Now()}) {
		return true
	}
	go b.receive(session)

	opening := persona.Instruction(grant.SystemInstruction).OpeningTurn()
	b.observer.Advisory("Sending context and greeting...")
	if err := session.SendText(opening); err != nil {
		err = fmt.Errorf("voice: send opening turn: %w", err)
		b.ready <- err
		return b.apply(Failed{Err: err})
	}

	if b.capture != nil {
		go b.pump(b.capture)
	}
	b.ready <- nil
	return false
}

// pump forwards capture frames to the loop in capture order.
func (b *Bridge) pump(c Capture) {
	for frame := range c.Frames() {
		b.post(captureFrame{samples: frame})
	}
}

func (b *Bridge) receive(session LiveSession) {
	for {
		msg, err := session.Receive()
		if err != nil {
			if errors.Is(err, ErrSessionClosed) {
				b.post(fromSession{session: session, event: Closed{}})
			} else {
				b.post(fromSession{session: session, event: Failed{Err: err}})
			}
			return
		}
		b.post(serverMessage{session: session, msg: msg})
	}
}

func (b *Bridge) forwardFrame(samples []float32) {
	if b.session == nil || b.Snapshot().Conn != ConnConnected {
		return
	}
	b.observer.MicLevel(audio.Level(samples))
	if err := b.session.SendAudio(audio.Float32ToPCM16LE(samples), b.rate); err != nil {
		b.log.Debug().Err(err).Msg("dropping capture frame")
	}
}

func (b *Bridge) serverEvents(msg ServerEvent) []Event {
	var out []Event
	for _, a := range msg.Audio {
		rate := a.SampleRate
		if rate <= 0 {
			rate = audio.PlaybackSampleRate
		}
		out = append(out, AudioChunk{
			Now:        b.clock.Now(),
			PCM:        a.PCM,
			SampleRate: rate,
			Duration:   audio.Duration(a.PCM, rate),
		})
	}
	for _, t := range msg.Text {
		out = append(out, TextChunk{Text: t})
	}
	if msg.TurnComplete {
		out = append(out, TurnComplete{Now: b.clock.Now()})
	}
	return out
}

// apply runs the reducer and executes its effects. It returns true after teardown.
func (b *Bridge) apply(ev Event) bool {
	b.mu.RLock()
	next, effects := b.machine.Reduce(b.state, ev)
	b.mu.RUnlock()

	torn := false
	for _, eff := range effects {
		switch e := eff.(type) {
		case Play:
			if !b.firstAudio {
				b.firstAudio = true
				b.metrics.ObserveFirstAudioLatency(time.Since(b.openedAt))
			}
			b.speaker.Play(e.Chunk)
		case ScheduleListen:
			b.stopTimer(&b.listenTimer)
			gen := e.Gen
			b.listenTimer = b.clock.AfterFunc(e.After, func() { b.post(ListenDue{Gen: gen}) })
		case CancelListen:
			b.stopTimer(&b.listenTimer)
		case Advisory:
			b.observer.Advisory(e.Text)
		case Transcript:
			b.observer.AssistantText(e.Text)
		case ScheduleReset:
			b.stopTimer(&b.resetTimer)
			b.resetTimer = b.clock.AfterFunc(e.After, func() { b.post(ResetDue{}) })
		case Teardown:
			b.teardown()
			torn = true
		}
	}
	// Readers observe the state only after its timers are armed.
	b.mu.Lock()
	b.state = next
	b.mu.Unlock()
	b.report(next)
	if torn {
		close(b.done)
	}
	return torn
}

func (b *Bridge) report(s Snapshot) {
	if s.Conn == b.lastReported.Conn && s.Voice == b.lastReported.Voice {
		return
	}
	b.lastReported = s
	b.observer.StateChanged(s.Conn, s.Voice)
	if s.Ended {
		b.observer.MicLevel(0)
	}
}

func (b *Bridge) teardown() {
	b.stopTimer(&b.listenTimer)
	b.stopTimer(&b.resetTimer)
	b.cancelSetup()
	if b.session != nil {
		if err := b.session.Close(); err != nil {
			b.log.Debug().Err(err).Msg("closing provider session")
		}
		b.session = nil
	}
	if b.capture != nil {
		b.capture.Stop()
		b.capture = nil
	}
	b.closeSpeaker()
	b.log.Info().Msg("voice call torn down")
}

func (b *Bridge) closeSpeaker() {
	b.speakerOnce.Do(func() {
		if b.speaker == nil {
			return
		}
		if err := b.speaker.Close(); err != nil {
			b.log.Debug().Err(err).Msg("closing speaker")
		}
	})
}

func (b *Bridge) stopTimer(t *Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
