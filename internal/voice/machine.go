package voice

import (
	"errors"
	"time"
)

type ConnState string

const (
	ConnDisconnected ConnState = "disconnected"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnError        ConnState = "error"
)

type VoiceState string

const (
	VoiceIdle      VoiceState = "idle"
	VoiceListening VoiceState = "listening"
	VoiceSpeaking  VoiceState = "speaking"
)

// Snapshot is the complete state of one call. NextPlayback is the playback
// cursor on the call clock; it is written only by audio scheduling.
type Snapshot struct {
	Conn         ConnState
	Voice        VoiceState
	NextPlayback time.Duration

	// ListenGen identifies the pending deferred listen transition, 0 if none.
	ListenGen uint64
	lastGen   uint64

	ResetPending bool
	Ended        bool
}

// Initial is the state of a call that has not started.
func Initial() Snapshot {
	return Snapshot{Conn: ConnDisconnected, Voice: VoiceIdle}
}

// Event is an input to Machine.Reduce.
type Event interface{ event() }

type (
	// Connecting starts setup.
	Connecting struct{}
	// Opened reports the provider session is open; Now is the call clock.
	Opened struct{ Now time.Duration }
	// AudioChunk is one decoded model audio buffer.
	AudioChunk struct {
		Now        time.Duration
		PCM        []byte
		SampleRate int
		Duration   time.Duration
	}
	// TextChunk is model text. It is advisory only.
	TextChunk struct{ Text string }
	// TurnComplete marks the end of a model turn.
	TurnComplete struct{ Now time.Duration }
	// ListenDue fires when a deferred listen transition expires.
	ListenDue struct{ Gen uint64 }
	// Failed reports a setup or provider error.
	Failed struct{ Err error }
	// Closed reports the provider ended the session.
	Closed struct{}
	// EndRequested is an explicit hang-up.
	EndRequested struct{}
	// ResetDue fires when the post-error delay expires.
	ResetDue struct{}
)

func (Connecting) event()   {}
func (Opened) event()       {}
func (AudioChunk) event()   {}
func (TextChunk) event()    {}
func (TurnComplete) event() {}
func (ListenDue) event()    {}
func (Failed) event()       {}
func (Closed) event()       {}
func (EndRequested) event() {}
func (ResetDue) event()     {}

// Effect is an instruction from the reducer to its host.
type Effect interface{ effect() }

type (
	// Play schedules a buffer at StartAt on the call clock.
	Play struct{ Chunk Chunk }
	// ScheduleListen arms the deferred listen timer for Gen.
	ScheduleListen struct {
		Gen   uint64
		After time.Duration
	}
	// CancelListen disarms the deferred listen timer.
	CancelListen struct{}
	// Advisory is a log line for the UI.
	Advisory struct{ Text string }
	// Transcript is model text, shown but never spoken.
	Transcript struct{ Text string }
	// ScheduleReset arms the post-error teardown timer.
	ScheduleReset struct{ After time.Duration }
	// Teardown releases every resource of the call.
	Teardown struct{}
)

func (Play) effect()           {}
func (ScheduleListen) effect() {}
func (CancelListen) effect()   {}
func (Advisory) effect()       {}
func (Transcript) effect()     {}
func (ScheduleReset) effect()  {}
func (Teardown) effect()       {}

// Machine is the call state machine. It is pure; timing parameters are the
// only configuration.
type Machine struct {
	GuardInterval   time.Duration
	ErrorResetDelay time.Duration
}

// Reduce applies ev to s. Events that do not apply to the current state,
// including everything after teardown, leave s unchanged and yield no effects.
func (m Machine) Reduce(s Snapshot, ev Event) (Snapshot, []Effect) {
	if s.Ended {
		return s, nil
	}

	switch e := ev.(type) {
	case Connecting:
		if s.Conn != ConnDisconnected {
			return s, nil
		}
		s.Conn = ConnConnecting
		return s, nil

	case Opened:
		if s.Conn != ConnConnecting {
			return s, nil
		}
		s.Conn = ConnConnected
		s.Voice = VoiceListening
		s.NextPlayback = e.Now
		return s, nil

	case AudioChunk:
		if s.Conn != ConnConnected {
			return s, nil
		}
		var effects []Effect
		if s.ListenGen != 0 {
			s.ListenGen = 0
			effects = append(effects, CancelListen{})
		}
		start := max(e.Now, s.NextPlayback)
		s.NextPlayback = start + e.Duration
		s.Voice = VoiceSpeaking
		effects = append(effects, Play{Chunk: Chunk{
			PCM:        e.PCM,
			SampleRate: e.SampleRate,
			StartAt:    start,
			Duration:   e.Duration,
		}})
		return s, effects

	case TextChunk:
		if s.Conn != ConnConnected || e.Text == "" {
			return s, nil
		}
		return s, []Effect{Transcript{Text: e.Text}}

	case TurnComplete:
		if s.Conn != ConnConnected {
			return s, nil
		}
		var effects []Effect
		if s.ListenGen != 0 {
			s.ListenGen = 0
			effects = append(effects, CancelListen{})
		}
		remaining := s.NextPlayback - e.Now
		if remaining <= 0 {
			s.Voice = VoiceListening
			return s, effects
		}
		s.lastGen++
		s.ListenGen = s.lastGen
		return s, append(effects, ScheduleListen{Gen: s.ListenGen, After: remaining + m.GuardInterval})

	case ListenDue:
		if s.ListenGen == 0 || e.Gen != s.ListenGen {
			return s, nil
		}
		s.ListenGen = 0
		if s.Conn == ConnConnected {
			s.Voice = VoiceListening
		}
		return s, nil

	case Failed:
		if s.Conn == ConnError {
			return s, nil
		}
		var effects []Effect
		if s.ListenGen != 0 {
			s.ListenGen = 0
			effects = append(effects, CancelListen{})
		}
		s.Conn = ConnError
		s.ResetPending = true
		if e.Err != nil {
			effects = append(effects, Advisory{Text: "Error: " + e.Err.Error()})
		}
		return s, append(effects, ScheduleReset{After: m.ErrorResetDelay})

	case Closed, EndRequested, ResetDue:
		return m.teardown(s)
	}
	return s, nil
}

func (m Machine) teardown(s Snapshot) (Snapshot, []Effect) {
	var effects []Effect
	if s.ListenGen != 0 {
		effects = append(effects, CancelListen{})
	}
	s.Conn = ConnDisconnected
	s.Voice = VoiceIdle
	s.ListenGen = 0
	s.ResetPending = false
	s.Ended = true
	return s, append(effects, Teardown{})
}

var (
	ErrMicrophoneUnavailable = errors.New("voice: microphone unavailable")
	ErrSessionClosed         = errors.New("voice: session closed")
	ErrBridgeUsed            = errors.New("voice: bridge already started")
	ErrCallEnded             = errors.New("voice: call ended")
)
