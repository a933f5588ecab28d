package voice

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ent0n29/folio/internal/audio"
)

const wavFrameDuration = 20 * time.Millisecond

// WAVMicrophone replays a WAV file as a live capture, paced in real time,
// then continues with silence until stopped. An empty Path captures silence.
type WAVMicrophone struct {
	Path string
}

func (m WAVMicrophone) Open(ctx context.Context) (Capture, error) {
	var samples []float32
	if m.Path != "" {
		pcm, rate, err := audio.ReadWAVPCM16File(m.Path)
		if err != nil {
			return nil, err
		}
		floats, err := audio.PCM16LEToFloat32(pcm)
		if err != nil {
			return nil, err
		}
		samples = audio.Resample(floats, rate, audio.CaptureSampleRate)
	}
	c := &wavCapture{
		frames: make(chan []float32, 16),
		stop:   make(chan struct{}),
	}
	go c.run(samples)
	return c, nil
}

type wavCapture struct {
	frames   chan []float32
	stop     chan struct{}
	stopOnce sync.Once
}

func (c *wavCapture) Frames() <-chan []float32 { return c.frames }

func (c *wavCapture) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *wavCapture) run(samples []float32) {
	defer close(c.frames)
	size := int(wavFrameDuration.Seconds() * audio.CaptureSampleRate)
	ticker := time.NewTicker(wavFrameDuration)
	defer ticker.Stop()
	for pos := 0; ; pos += size {
		frame := make([]float32, size)
		if pos < len(samples) {
			copy(frame, samples[pos:])
		}
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
		select {
		case c.frames <- frame:
		case <-c.stop:
			return
		}
	}
}

// WAVSpeaker records scheduled chunks and writes them, placed on the call
// clock, to a WAV file at the playback rate when closed.
type WAVSpeaker struct {
	Path string

	mu     sync.Mutex
	chunks []Chunk
	closed bool
}

func NewWAVSpeaker(path string) *WAVSpeaker {
	return &WAVSpeaker{Path: path}
}

func (s *WAVSpeaker) Play(chunk Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.chunks = append(s.chunks, chunk)
}

// Chunks returns the chunks played so far in start order.
func (s *WAVSpeaker) Chunks() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]Chunk(nil), s.chunks...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartAt < out[j].StartAt })
	return out
}

func (s *WAVSpeaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.Path == "" {
		return nil
	}
	pcm, err := mixTimeline(s.Chunks(), audio.PlaybackSampleRate)
	if err != nil {
		return err
	}
	return audio.WriteWAVPCM16LEFile(s.Path, pcm, audio.PlaybackSampleRate)
}

// mixTimeline lays chunks out relative to the first start, filling gaps with
// silence. Chunks never overlap because playback is scheduled back to back.
func mixTimeline(chunks []Chunk, rate int) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	origin := chunks[0].StartAt
	var out []float32
	for _, c := range chunks {
		samples, err := audio.PCM16LEToFloat32(c.PCM)
		if err != nil {
			return nil, fmt.Errorf("voice: decode chunk: %w", err)
		}
		if c.SampleRate > 0 && c.SampleRate != rate {
			samples = audio.Resample(samples, c.SampleRate, rate)
		}
		offset := int((c.StartAt - origin).Seconds() * float64(rate))
		if gap := offset - len(out); gap > 0 {
			out = append(out, make([]float32, gap)...)
		}
		out = append(out, samples...)
	}
	return audio.Float32ToPCM16LE(out), nil
}
