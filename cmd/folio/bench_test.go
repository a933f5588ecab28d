package main

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/folio/internal/audio"
	"github.com/ent0n29/folio/internal/config"
	"github.com/ent0n29/folio/internal/httpapi"
	"github.com/ent0n29/folio/internal/observability"
	"github.com/ent0n29/folio/internal/voice"
)

func mockRelay(t *testing.T) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	api := httpapi.New(httpapi.Deps{
		Config:  config.Config{CallInactivityTimeout: time.Minute},
		Metrics: observability.NewMetrics("test_bench"),
		Logger:  zerolog.Nop(),
		NewBridge: func(mic voice.Microphone, speaker voice.Speaker, observer voice.Observer, logger zerolog.Logger) *voice.Bridge {
			return voice.NewBridge(voice.MockCredentials{Instruction: "You are Jane."}, voice.MockDialer{ReplyEvery: time.Hour},
				mic, speaker, voice.Config{GuardInterval: 10 * time.Millisecond, Observer: observer, Logger: logger})
		},
	})
	ts := httptest.NewServer(api.Router(ctx))
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})
	return ts
}

func TestRelayURL(t *testing.T) {
	got, err := relayURL("https://folio.example/base/")
	require.NoError(t, err)
	assert.Equal(t, "wss://folio.example/base/v1/voice/ws", got)

	got, err = relayURL("http://127.0.0.1:3001")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:3001/v1/voice/ws", got)

	_, err = relayURL("ftp://x")
	assert.Error(t, err)
}

func TestBenchOptionsValidate(t *testing.T) {
	ok := benchOptions{baseURL: "http://x", chunkMS: 40, realtime: 1}
	assert.NoError(t, ok.validate())

	bad := ok
	bad.chunkMS = 5
	assert.Error(t, bad.validate())

	bad = ok
	bad.realtime = 0
	assert.Error(t, bad.validate())
}

func TestBenchAgainstMockRelay(t *testing.T) {
	ts := mockRelay(t)

	in := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, audio.WriteWAVPCM16LEFile(in, make([]byte, 16000*2/5), 16000))

	res, err := runBench(context.Background(), benchOptions{
		baseURL:  ts.URL,
		in:       in,
		chunkMS:  40,
		realtime: 4,
		listen:   500 * time.Millisecond,
		timeout:  10 * time.Second,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.CallID)
	assert.Equal(t, 3, res.AudioChunks)
	assert.Greater(t, res.FirstAudio, time.Duration(0))
	assert.InDelta(t, float64(600*time.Millisecond), float64(res.PlaybackSpan), float64(50*time.Millisecond))
	assert.NotEmpty(t, res.Texts)
	assert.Empty(t, res.Errors)
	require.NotEmpty(t, res.States)
	assert.Equal(t, "disconnected/idle", res.States[len(res.States)-1])
}
