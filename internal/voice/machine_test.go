package voice

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMachine() Machine {
	return Machine{GuardInterval: 50 * time.Millisecond, ErrorResetDelay: 3 * time.Second}
}

func connected(t *testing.T, m Machine, now time.Duration) Snapshot {
	t.Helper()
	s, _ := m.Reduce(Initial(), Connecting{})
	s, _ = m.Reduce(s, Opened{Now: now})
	require.Equal(t, ConnConnected, s.Conn)
	require.Equal(t, VoiceListening, s.Voice)
	return s
}

func audioAt(now, d time.Duration) AudioChunk {
	return AudioChunk{Now: now, PCM: []byte{0, 0}, SampleRate: 24000, Duration: d}
}

func playOf(t *testing.T, effects []Effect) Chunk {
	t.Helper()
	for _, e := range effects {
		if p, ok := e.(Play); ok {
			return p.Chunk
		}
	}
	t.Fatalf("no Play effect in %#v", effects)
	return Chunk{}
}

func TestMachineSetupTransitions(t *testing.T) {
	m := testMachine()
	s := Initial()
	assert.Equal(t, ConnDisconnected, s.Conn)
	assert.Equal(t, VoiceIdle, s.Voice)

	s, eff := m.Reduce(s, Connecting{})
	assert.Equal(t, ConnConnecting, s.Conn)
	assert.Empty(t, eff)

	// Audio before the session opens is ignored.
	s2, eff := m.Reduce(s, audioAt(0, time.Second))
	assert.Equal(t, s, s2)
	assert.Empty(t, eff)

	s, _ = m.Reduce(s, Opened{Now: 2 * time.Second})
	assert.Equal(t, ConnConnected, s.Conn)
	assert.Equal(t, VoiceListening, s.Voice)
	assert.Equal(t, 2*time.Second, s.NextPlayback)
}

func TestMachineSchedulesChunksBackToBack(t *testing.T) {
	m := testMachine()
	s := connected(t, m, 0)

	var starts []time.Duration
	durations := []time.Duration{200 * time.Millisecond, 300 * time.Millisecond, 100 * time.Millisecond}
	now := 10 * time.Millisecond
	for _, d := range durations {
		var eff []Effect
		s, eff = m.Reduce(s, audioAt(now, d))
		starts = append(starts, playOf(t, eff).StartAt)
		now += 5 * time.Millisecond
	}

	assert.Equal(t, 10*time.Millisecond, starts[0])
	for i := 1; i < len(starts); i++ {
		assert.Equal(t, starts[i-1]+durations[i-1], starts[i])
	}
	assert.Equal(t, VoiceSpeaking, s.Voice)
	assert.Equal(t, starts[2]+durations[2], s.NextPlayback)
}

func TestMachineStartsLateChunkAtNow(t *testing.T) {
	m := testMachine()
	s := connected(t, m, 0)

	s, _ = m.Reduce(s, audioAt(0, 100*time.Millisecond))
	s, eff := m.Reduce(s, audioAt(time.Second, 100*time.Millisecond))
	assert.Equal(t, time.Second, playOf(t, eff).StartAt)
	assert.Equal(t, 1100*time.Millisecond, s.NextPlayback)
}

func TestMachineTurnCompleteDefersListening(t *testing.T) {
	m := testMachine()
	s := connected(t, m, 0)
	s, _ = m.Reduce(s, audioAt(0, time.Second))

	s, eff := m.Reduce(s, TurnComplete{Now: 400 * time.Millisecond})
	require.Len(t, eff, 1)
	sched, ok := eff[0].(ScheduleListen)
	require.True(t, ok)
	assert.Equal(t, 650*time.Millisecond, sched.After)
	assert.Equal(t, VoiceSpeaking, s.Voice)

	s, _ = m.Reduce(s, ListenDue{Gen: sched.Gen})
	assert.Equal(t, VoiceListening, s.Voice)
	assert.Zero(t, s.ListenGen)
}

func TestMachineTurnCompleteAfterPlaybackListensImmediately(t *testing.T) {
	m := testMachine()
	s := connected(t, m, 0)
	s, _ = m.Reduce(s, audioAt(0, 100*time.Millisecond))

	s, eff := m.Reduce(s, TurnComplete{Now: 500 * time.Millisecond})
	assert.Empty(t, eff)
	assert.Equal(t, VoiceListening, s.Voice)
}

func TestMachineAudioCancelsPendingListen(t *testing.T) {
	m := testMachine()
	s := connected(t, m, 0)
	s, _ = m.Reduce(s, audioAt(0, time.Second))
	s, eff := m.Reduce(s, TurnComplete{Now: 0})
	gen := eff[0].(ScheduleListen).Gen

	s, eff = m.Reduce(s, audioAt(100*time.Millisecond, time.Second))
	require.IsType(t, CancelListen{}, eff[0])
	assert.Zero(t, s.ListenGen)

	// The stale timer firing later must not flip the state.
	s, _ = m.Reduce(s, ListenDue{Gen: gen})
	assert.Equal(t, VoiceSpeaking, s.Voice)
}

func TestMachineSecondTurnCompleteReplacesTimer(t *testing.T) {
	m := testMachine()
	s := connected(t, m, 0)
	s, _ = m.Reduce(s, audioAt(0, time.Second))
	s, eff := m.Reduce(s, TurnComplete{Now: 0})
	first := eff[0].(ScheduleListen).Gen

	s, eff = m.Reduce(s, TurnComplete{Now: 100 * time.Millisecond})
	require.Len(t, eff, 2)
	assert.IsType(t, CancelListen{}, eff[0])
	second := eff[1].(ScheduleListen).Gen
	assert.NotEqual(t, first, second)

	s, _ = m.Reduce(s, ListenDue{Gen: first})
	assert.Equal(t, VoiceSpeaking, s.Voice)
	s, _ = m.Reduce(s, ListenDue{Gen: second})
	assert.Equal(t, VoiceListening, s.Voice)
}

func TestMachineTextIsTranscriptOnly(t *testing.T) {
	m := testMachine()
	s := connected(t, m, 0)

	s2, eff := m.Reduce(s, TextChunk{Text: "hello"})
	assert.Equal(t, s, s2)
	assert.Equal(t, []Effect{Transcript{Text: "hello"}}, eff)
}

func TestMachineFailureSchedulesResetOnce(t *testing.T) {
	m := testMachine()
	s := connected(t, m, 0)

	s, eff := m.Reduce(s, Failed{Err: errors.New("boom")})
	assert.Equal(t, ConnError, s.Conn)
	assert.True(t, s.ResetPending)
	assert.Contains(t, eff, ScheduleReset{After: 3 * time.Second})
	assert.Contains(t, eff, Advisory{Text: "Error: boom"})

	_, eff = m.Reduce(s, Failed{Err: errors.New("again")})
	assert.Empty(t, eff)

	s, eff = m.Reduce(s, ResetDue{})
	assert.Equal(t, []Effect{Teardown{}}, eff)
	assert.Equal(t, ConnDisconnected, s.Conn)
	assert.Equal(t, VoiceIdle, s.Voice)
	assert.True(t, s.Ended)
}

func TestMachineTeardownIsTerminal(t *testing.T) {
	m := testMachine()
	s := connected(t, m, 0)
	s, _ = m.Reduce(s, audioAt(0, time.Second))
	s, _ = m.Reduce(s, TurnComplete{Now: 0})

	s, eff := m.Reduce(s, EndRequested{})
	assert.Equal(t, []Effect{CancelListen{}, Teardown{}}, eff)
	assert.True(t, s.Ended)

	for _, ev := range []Event{EndRequested{}, Closed{}, ResetDue{}, audioAt(0, time.Second), Failed{Err: errors.New("x")}, Opened{}} {
		s2, eff := m.Reduce(s, ev)
		assert.Equal(t, s, s2)
		assert.Empty(t, eff)
	}
}
