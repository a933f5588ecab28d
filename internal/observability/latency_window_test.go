package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe(StageVoiceFirstAudio, 500*time.Millisecond)
	w.Observe(StageVoiceFirstAudio, 700*time.Millisecond)
	w.Observe(StageVoiceFirstAudio, 900*time.Millisecond)
	w.Count("chat_fallback")
	w.Count("chat_fallback")

	snap := w.Snapshot()
	assert.Equal(t, 8, snap.WindowSize)
	require.Len(t, snap.Stages, 1)

	s := snap.Stages[0]
	assert.Equal(t, StageVoiceFirstAudio, s.Stage)
	assert.Equal(t, 3, s.Samples)
	assert.Equal(t, 900.0, s.LastMS)
	assert.Equal(t, 700.0, s.P50MS)
	assert.Greater(t, s.P95MS, 700.0)
	assert.LessOrEqual(t, s.P95MS, 900.0)
	assert.Equal(t, 2000.0, s.TargetP95MS)

	require.Len(t, snap.Outcomes, 1)
	assert.Equal(t, OutcomeCount{Name: "chat_fallback", Count: 2}, snap.Outcomes[0])
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	w := newLatencyWindow(2)
	w.Observe(StageChatReply, 10*time.Millisecond)
	w.Observe(StageChatReply, 20*time.Millisecond)
	w.Observe(StageChatReply, 30*time.Millisecond)

	snap := w.Snapshot()
	require.Len(t, snap.Stages, 1)
	assert.Equal(t, 2, snap.Stages[0].Samples)
	assert.Equal(t, 25.0, snap.Stages[0].AvgMS)
	assert.Equal(t, 30.0, snap.Stages[0].LastMS)
}

func TestLatencyWindowIgnoresBlankNames(t *testing.T) {
	w := newLatencyWindow(4)
	w.Observe("", time.Second)
	w.Count("  ")

	snap := w.Snapshot()
	assert.Empty(t, snap.Stages)
	assert.Empty(t, snap.Outcomes)
}
