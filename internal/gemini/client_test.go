package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), Config{
		APIKey:          "test-key",
		BaseURL:         baseURL,
		TextModel:       "gemini-2.5-flash-lite",
		LiveModel:       "gemini-live-test",
		LiveVoice:       "Charon",
		LiveTemperature: 0.7,
		TokenTTL:        30 * time.Minute,
	})
	require.NoError(t, err)
	return c
}

func TestGenerateTextReturnsFirstPart(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-2.5-flash-lite:generateContent"), r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var body struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Contents, 1)
		require.Len(t, body.Contents[0].Parts, 1)
		gotPrompt = body.Contents[0].Parts[0].Text

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"I build backends."},{"text":"ignored"}]}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	got, err := c.GenerateText(context.Background(), "INSTR\n\nUser Question: What do you do?")
	require.NoError(t, err)
	assert.Equal(t, "I build backends.", got)
	assert.Equal(t, "INSTR\n\nUser Question: What do you do?", gotPrompt)
}

func TestGenerateTextProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503,"message":"overloaded","status":"UNAVAILABLE"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.GenerateText(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailure)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
}

func TestGenerateTextEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.GenerateText(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.ErrorIs(t, err, ErrProviderFailure)
}

func TestUnconfiguredClientMakesNoCalls(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c, err := NewClient(context.Background(), Config{BaseURL: srv.URL, TextModel: "m"})
	require.NoError(t, err)
	assert.False(t, c.Configured())

	_, err = c.GenerateText(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrUnconfigured)
	_, err = c.CreateLiveToken(context.Background(), "instr")
	assert.ErrorIs(t, err, ErrUnconfigured)
	assert.Equal(t, int32(0), calls.Load())
}

func TestCreateLiveTokenRequestsSingleUse(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "v1alpha/auth_tokens"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"auth_tokens/abc123"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	fixed := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	tok, err := c.CreateLiveToken(context.Background(), "INSTR")
	require.NoError(t, err)
	assert.Equal(t, "auth_tokens/abc123", tok.Name)
	assert.Equal(t, "gemini-live-test", tok.Model)
	assert.Equal(t, fixed.Add(30*time.Minute), tok.ExpiresAt)

	assert.EqualValues(t, 1, body["uses"])
	assert.Contains(t, body, "bidiGenerateContentSetup")
	raw, err := json.Marshal(body["bidiGenerateContentSetup"])
	require.NoError(t, err)
	assert.Contains(t, string(raw), "gemini-live-test")
	assert.Contains(t, string(raw), "Charon")
	assert.Contains(t, string(raw), "INSTR")
}

func TestSampleRateFromMIME(t *testing.T) {
	assert.Equal(t, 24000, sampleRateFromMIME("audio/pcm;rate=24000"))
	assert.Equal(t, 16000, sampleRateFromMIME("audio/pcm; rate=16000"))
	assert.Equal(t, DefaultOutputSampleRate, sampleRateFromMIME("audio/pcm"))
	assert.Equal(t, DefaultOutputSampleRate, sampleRateFromMIME("audio/pcm;rate=x"))
}
