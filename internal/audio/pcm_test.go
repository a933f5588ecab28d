package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloat32ToPCM16LEScalesAndClamps(t *testing.T) {
	got := Float32ToPCM16LE([]float32{0, 1, -1, 2, -2, 0.5})
	ints, err := PCM16LEToInt16(got)
	require.NoError(t, err)
	assert.Equal(t, []int16{0, 32767, -32768, 32767, -32768, 16383}, ints)
	assert.Equal(t, []byte{0xFF, 0x7F}, got[2:4])
	assert.Equal(t, []byte{0x00, 0x80}, got[4:6])
}

func TestPCM16LEToInt16RejectsOddLength(t *testing.T) {
	_, err := PCM16LEToInt16([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrOddLength)
}

func TestPCM16RoundTripIsClose(t *testing.T) {
	in := []float32{-0.75, -0.1, 0, 0.1, 0.75}
	out, err := PCM16LEToFloat32(Float32ToPCM16LE(in))
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1e-4)
	}
}

func TestLevel(t *testing.T) {
	assert.Equal(t, 0.0, Level(nil))
	assert.Equal(t, 0.0, Level([]float32{0, 0, 0}))
	assert.InDelta(t, 0.8, Level([]float32{0.1, -0.1, 0.1, -0.1}), 1e-6)
	assert.Equal(t, 1.0, Level([]float32{0.5, -0.5}))
}

func TestDuration(t *testing.T) {
	assert.Equal(t, time.Second, Duration(make([]byte, 48000), 24000))
	assert.Equal(t, 20*time.Millisecond, Duration(make([]byte, 640), 16000))
	assert.Equal(t, time.Duration(0), Duration(make([]byte, 10), 0))
}

func TestResample(t *testing.T) {
	in := make([]float32, 480)
	for i := range in {
		in[i] = 0.25
	}
	out := Resample(in, 48000, 16000)
	assert.Len(t, out, 160)
	for _, v := range out {
		assert.InDelta(t, 0.25, v, 1e-6)
	}
	assert.Equal(t, in, Resample(in, 16000, 16000))
}

func TestResampleRejectsExtremeUpsampling(t *testing.T) {
	in := make([]float32, 2000)
	assert.Nil(t, Resample(in, 1, CaptureSampleRate))
	assert.Nil(t, Resample(in, CaptureSampleRate/(MaxResampleRatio+1), CaptureSampleRate))
	assert.Len(t, Resample(in, 8000, CaptureSampleRate), 4000)
}

func TestBase64(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	got, err := DecodeBase64(EncodeBase64(pcm))
	require.NoError(t, err)
	assert.Equal(t, pcm, got)
}
