package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrUnsupportedWAV = errors.New("audio: only 16-bit PCM WAV is supported")

// MaxWAVDataBytes caps the PCM payload ReadWAVPCM16 will load.
const MaxWAVDataBytes = 256 << 20

const (
	maxFmtChunkBytes = 1024
	// Writers that cannot seek back leave the data size as 0 or 0xFFFFFFFF.
	streamingDataSize = 0xFFFFFFFF
)

type wavHeader struct {
	Riff          [4]byte
	ChunkSize     uint32
	Wave          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LEFile writes raw PCM16LE mono audio bytes as a WAV file.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAVPCM16LETo(f, pcm, sampleRate); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = PlaybackSampleRate
	}
	h := wavHeader{
		Riff:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + uint32(len(pcm)),
		Wave:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(len(pcm)),
	}
	if err := binary.Write(out, binary.LittleEndian, h); err != nil {
		return err
	}
	_, err := out.Write(pcm)
	return err
}

// ReadWAVPCM16 reads a 16-bit PCM WAV stream and returns mono PCM16LE bytes
// and the sample rate. Multi-channel input is downmixed by averaging.
func ReadWAVPCM16(r io.Reader) ([]byte, int, error) {
	var riff struct {
		ID   [4]byte
		Size uint32
		Wave [4]byte
	}
	if err := binary.Read(r, binary.LittleEndian, &riff); err != nil {
		return nil, 0, fmt.Errorf("audio: read RIFF header: %w", err)
	}
	if string(riff.ID[:]) != "RIFF" || string(riff.Wave[:]) != "WAVE" {
		return nil, 0, errors.New("audio: not a RIFF/WAVE stream")
	}

	var (
		channels, bits uint16
		rate           uint32
		haveFmt        bool
	)
	for {
		var chunk struct {
			ID   [4]byte
			Size uint32
		}
		if err := binary.Read(r, binary.LittleEndian, &chunk); err != nil {
			return nil, 0, fmt.Errorf("audio: missing data chunk: %w", err)
		}
		padded := int64(chunk.Size) + int64(chunk.Size%2)
		switch string(chunk.ID[:]) {
		case "fmt ":
			if chunk.Size > maxFmtChunkBytes {
				return nil, 0, fmt.Errorf("audio: fmt chunk of %d bytes", chunk.Size)
			}
			body := make([]byte, padded)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("audio: read fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return nil, 0, errors.New("audio: short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			channels = binary.LittleEndian.Uint16(body[2:4])
			rate = binary.LittleEndian.Uint32(body[4:8])
			bits = binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || bits != 16 || channels == 0 {
				return nil, 0, ErrUnsupportedWAV
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, errors.New("audio: data chunk before fmt chunk")
			}
			data, err := readDataChunk(r, chunk.Size)
			if err != nil {
				return nil, 0, err
			}
			return downmix(data, int(channels)), int(rate), nil
		default:
			if _, err := io.CopyN(io.Discard, r, padded); err != nil {
				return nil, 0, fmt.Errorf("audio: skip %q chunk: %w", chunk.ID, err)
			}
		}
	}
}

func readDataChunk(r io.Reader, size uint32) ([]byte, error) {
	if size == 0 || size == streamingDataSize {
		data, err := io.ReadAll(io.LimitReader(r, MaxWAVDataBytes+1))
		if err != nil {
			return nil, fmt.Errorf("audio: read data chunk: %w", err)
		}
		if len(data) > MaxWAVDataBytes {
			return nil, fmt.Errorf("audio: data chunk exceeds %d bytes", MaxWAVDataBytes)
		}
		return data[:len(data)&^1], nil
	}
	if size > MaxWAVDataBytes {
		return nil, fmt.Errorf("audio: data chunk of %d bytes exceeds %d", size, MaxWAVDataBytes)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("audio: read data chunk: %w", err)
	}
	return data, nil
}

func ReadWAVPCM16File(path string) ([]byte, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	return ReadWAVPCM16(f)
}

func downmix(data []byte, channels int) []byte {
	if channels <= 1 {
		return data
	}
	frameSize := channels * 2
	frames := len(data) / frameSize
	out := make([]byte, frames*2)
	for f := 0; f < frames; f++ {
		sum := 0
		for c := 0; c < channels; c++ {
			off := f*frameSize + c*2
			sum += int(int16(binary.LittleEndian.Uint16(data[off:])))
		}
		binary.LittleEndian.PutUint16(out[f*2:], uint16(int16(sum/channels)))
	}
	return out
}
