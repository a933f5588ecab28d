// Package audio holds the PCM helpers shared by the voice bridge and its hosts.
package audio

import (
	"encoding/base64"
	"errors"
	"math"
	"time"
)

const (
	CaptureSampleRate  = 16000
	PlaybackSampleRate = 24000

	// levelGain scales frame RMS into the 0..1 meter range.
	levelGain = 8

	// MaxResampleRatio bounds how far Resample will upsample.
	MaxResampleRatio = 8
)

var ErrOddLength = errors.New("audio: PCM16 data length must be even")

// Float32ToPCM16LE clamps samples to [-1, 1] and encodes them as signed
// 16-bit little-endian PCM. Negative values scale by 0x8000, positive by 0x7FFF.
func Float32ToPCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 0x8000)
		} else {
			v = int16(s * 0x7FFF)
		}
		out[2*i] = byte(v)
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}

// PCM16LEToInt16 decodes little-endian signed 16-bit samples.
func PCM16LEToInt16(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddLength
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}
	return samples, nil
}

// PCM16LEToFloat32 is the inverse of Float32ToPCM16LE.
func PCM16LEToFloat32(pcm []byte) ([]float32, error) {
	ints, err := PCM16LEToInt16(pcm)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(ints))
	for i, v := range ints {
		if v < 0 {
			out[i] = float32(v) / 0x8000
		} else {
			out[i] = float32(v) / 0x7FFF
		}
	}
	return out, nil
}

// Level is the UI meter value for one capture frame: min(1, rms*8).
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Min(1, math.Sqrt(sum/float64(len(samples)))*levelGain)
}

// Duration is the playback length of mono PCM16 data at sampleRate.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	frames := len(pcm) / 2
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}

func EncodeBase64(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

func DecodeBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// Resample converts float samples between rates with linear interpolation.
// Upsampling by more than MaxResampleRatio returns nil.
func Resample(samples []float32, inputRate, outputRate int) []float32 {
	if inputRate == outputRate || inputRate <= 0 || outputRate <= 0 || len(samples) == 0 {
		return samples
	}
	if outputRate > inputRate*MaxResampleRatio {
		return nil
	}
	step := float64(inputRate) / float64(outputRate)
	out := make([]float32, len(samples)*outputRate/inputRate)
	for i := range out {
		pos := float64(i) * step
		i0 := int(pos)
		i1 := i0 + 1
		if i1 >= len(samples) {
			i1 = len(samples) - 1
		}
		frac := float32(pos - float64(i0))
		out[i] = samples[i0]*(1-frac) + samples[i1]*frac
	}
	return out
}
