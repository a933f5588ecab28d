package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ent0n29/folio/internal/audio"
	"github.com/ent0n29/folio/internal/protocol"
)

type benchOptions struct {
	baseURL  string
	in       string
	chunkMS  int
	realtime float64
	listen   time.Duration
	timeout  time.Duration
}

// benchResult summarizes one synthetic call against a running relay.
type benchResult struct {
	CallID       string
	FirstAudio   time.Duration
	AudioChunks  int
	PlaybackSpan time.Duration
	Texts        []string
	Errors       []string
	States       []string
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Place a synthetic call through a running server's voice relay",
	Long: `Place a synthetic call through a running server's voice relay and report
time to first assistant audio.

Examples:
  folio bench --base-url http://127.0.0.1:3001
  folio bench --in question.wav --realtime 2 --listen 8s`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var opts benchOptions
		opts.baseURL, _ = cmd.Flags().GetString("base-url")
		opts.in, _ = cmd.Flags().GetString("in")
		opts.chunkMS, _ = cmd.Flags().GetInt("chunk-ms")
		opts.realtime, _ = cmd.Flags().GetFloat64("realtime")
		opts.listen, _ = cmd.Flags().GetDuration("listen")
		opts.timeout, _ = cmd.Flags().GetDuration("timeout")

		res, err := runBench(cmd.Context(), opts)
		if err != nil {
			return err
		}
		printBench(cmd.OutOrStdout(), res)
		return nil
	},
}

func init() {
	benchCmd.Flags().String("base-url", "http://127.0.0.1:3001", "server base URL")
	benchCmd.Flags().String("in", "", "WAV file streamed as the caller's microphone")
	benchCmd.Flags().Int("chunk-ms", 40, "audio chunk size in milliseconds")
	benchCmd.Flags().Float64("realtime", 1.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	benchCmd.Flags().Duration("listen", 5*time.Second, "how long to keep the call open after sending audio")
	benchCmd.Flags().Duration("timeout", time.Minute, "overall deadline")
}

func (o benchOptions) validate() error {
	if strings.TrimSpace(o.baseURL) == "" {
		return fmt.Errorf("base-url is required")
	}
	if o.chunkMS < 10 || o.chunkMS > 2000 {
		return fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if o.realtime <= 0 {
		return fmt.Errorf("realtime must be > 0")
	}
	return nil
}

func runBench(ctx context.Context, opts benchOptions) (benchResult, error) {
	if err := opts.validate(); err != nil {
		return benchResult{}, err
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	var (
		pcm  []byte
		rate = audio.CaptureSampleRate
	)
	if opts.in != "" {
		var err error
		pcm, rate, err = audio.ReadWAVPCM16File(opts.in)
		if err != nil {
			return benchResult{}, fmt.Errorf("read input: %w", err)
		}
	}

	wsURL, err := relayURL(opts.baseURL)
	if err != nil {
		return benchResult{}, fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return benchResult{}, fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	var res benchResult
	started := make(chan string, 1)
	firstAudio := make(chan time.Time, 1)
	readDone := make(chan error, 1)
	go func() {
		readDone <- readBench(conn, &res, started, firstAudio)
	}()

	select {
	case res.CallID = <-started:
	case err := <-readDone:
		return res, fmt.Errorf("relay closed before call_started: %w", err)
	case <-ctx.Done():
		return benchResult{}, ctx.Err()
	}

	t0 := time.Now()
	if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionStart}); err != nil {
		return benchResult{CallID: res.CallID}, fmt.Errorf("send start: %w", err)
	}
	if err := streamAudio(ctx, conn, pcm, rate, opts.chunkMS, opts.realtime); err != nil {
		return benchResult{CallID: res.CallID}, fmt.Errorf("send audio: %w", err)
	}

	listen := time.NewTimer(opts.listen)
	defer listen.Stop()
	for waiting := true; waiting; {
		select {
		case at := <-firstAudio:
			res.FirstAudio = at.Sub(t0)
		case <-listen.C:
			waiting = false
		case err := <-readDone:
			// The server ended the call on its own.
			return res, closeErr(err)
		case <-ctx.Done():
			return benchResult{}, ctx.Err()
		}
	}

	if err := conn.WriteJSON(protocol.ClientControl{Type: protocol.TypeClientControl, Action: protocol.ActionEnd}); err != nil {
		return benchResult{CallID: res.CallID}, fmt.Errorf("send end: %w", err)
	}
	select {
	case err := <-readDone:
		select {
		case at := <-firstAudio:
			res.FirstAudio = at.Sub(t0)
		default:
		}
		return res, closeErr(err)
	case <-ctx.Done():
		return benchResult{}, ctx.Err()
	}
}

func closeErr(err error) error {
	if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return nil
	}
	return err
}

// readBench fills res until the connection closes. res is only read by the
// caller after readBench returns, except for the values passed on channels.
func readBench(conn *websocket.Conn, res *benchResult, started chan<- string, firstAudio chan<- time.Time) error {
	var firstStart, lastEnd float64
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env struct {
			Type       protocol.MessageType `json:"type"`
			CallID     string               `json:"call_id"`
			Connection string               `json:"connection"`
			Voice      string               `json:"voice"`
			Text       string               `json:"text"`
			Code       string               `json:"code"`
			Detail     string               `json:"detail"`
			StartMS    float64              `json:"start_ms"`
			DurationMS float64              `json:"duration_ms"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case protocol.TypeCallStarted:
			select {
			case started <- env.CallID:
			default:
			}
		case protocol.TypeVoiceState:
			res.States = append(res.States, env.Connection+"/"+env.Voice)
		case protocol.TypeAssistantAudio:
			if res.AudioChunks == 0 {
				firstAudio <- time.Now()
				firstStart = env.StartMS
			}
			res.AudioChunks++
			if end := env.StartMS + env.DurationMS; end > lastEnd {
				lastEnd = end
			}
			res.PlaybackSpan = time.Duration((lastEnd - firstStart) * float64(time.Millisecond))
		case protocol.TypeAssistantText:
			res.Texts = append(res.Texts, env.Text)
		case protocol.TypeErrorEvent:
			res.Errors = append(res.Errors, env.Code+": "+env.Detail)
		}
	}
}

func streamAudio(ctx context.Context, conn *websocket.Conn, pcm []byte, rate, chunkMS int, realtime float64) error {
	if len(pcm) == 0 {
		return nil
	}
	bytesPerChunk := rate * 2 * chunkMS / 1000
	if bytesPerChunk%2 != 0 {
		bytesPerChunk++
	}
	if bytesPerChunk < 2 {
		bytesPerChunk = 2
	}
	seq := 0
	for off := 0; off < len(pcm); off += bytesPerChunk {
		end := min(off+bytesPerChunk, len(pcm))
		seq++
		msg := protocol.ClientAudioChunk{
			Type:        protocol.TypeClientAudioChunk,
			Seq:         seq,
			PCM16Base64: audio.EncodeBase64(pcm[off:end]),
			SampleRate:  rate,
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		pause := time.Duration(float64(audio.Duration(pcm[off:end], rate)) / realtime)
		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func relayURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice/ws"
	return u.String(), nil
}

func printBench(w io.Writer, res benchResult) {
	fmt.Fprintf(w, "call_id:        %s\n", res.CallID)
	if res.AudioChunks > 0 {
		fmt.Fprintf(w, "first_audio_ms: %d\n", res.FirstAudio.Milliseconds())
	} else {
		fmt.Fprintln(w, "first_audio_ms: -")
	}
	fmt.Fprintf(w, "audio_chunks:   %d\n", res.AudioChunks)
	fmt.Fprintf(w, "playback_ms:    %d\n", res.PlaybackSpan.Milliseconds())
	for _, t := range res.Texts {
		fmt.Fprintf(w, "assistant:      %s\n", t)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "error:          %s\n", e)
	}
}
