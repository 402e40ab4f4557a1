package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
)

// EncodeWAV wraps little-endian int16 mono PCM in a minimal RIFF/WAVE
// container. Used for inline audio replies and for shipping utterances to
// HTTP collaborators that expect a self-describing format.
func EncodeWAV(samples []int16, sampleRate int) []byte {
	dataLen := len(samples) * 2
	var buf bytes.Buffer
	buf.Grow(44 + dataLen)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))           // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	binary.Write(&buf, binary.LittleEndian, samples)

	return buf.Bytes()
}

// DecodeWAV parses a 16-bit PCM RIFF/WAVE container and returns mono float32
// samples plus the sample rate. Multi-channel input keeps channel 0 only.
func DecodeWAV(data []byte) ([]float32, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("audio: not a RIFF/WAVE container")
	}

	var (
		channels   int
		sampleRate int
		bits       int
		pcm        []byte
	)
	// Walk the chunk list; fmt must precede data per the format.
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("audio: fmt chunk too short: %d bytes", size)
			}
			if format := binary.LittleEndian.Uint16(data[body : body+2]); format != 1 {
				return nil, 0, fmt.Errorf("audio: unsupported WAV format %d, want PCM", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+size]
		}
		// Chunks are word-aligned.
		off = body + size + size%2
	}

	if sampleRate == 0 || channels == 0 {
		return nil, 0, fmt.Errorf("audio: missing fmt chunk")
	}
	if bits != 16 {
		return nil, 0, fmt.Errorf("audio: unsupported bit depth %d, want 16", bits)
	}
	if pcm == nil {
		return nil, 0, fmt.Errorf("audio: missing data chunk")
	}

	frameBytes := channels * 2
	n := len(pcm) / frameBytes
	out := make([]float32, n)
	for i := range n {
		s := int16(pcm[i*frameBytes]) | int16(pcm[i*frameBytes+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out, sampleRate, nil
}

// WAVDecoder decodes uncompressed WAV clips to 16 kHz mono float32 PCM
// without shelling out to ffmpeg. It serves deployments whose TTS emits
// plain WAV, including the mock provider stack.
type WAVDecoder struct{}

func (WAVDecoder) DecodeToPCM(_ context.Context, data []byte) ([]float32, error) {
	pcm, rate, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}
	return ResampleMonoFloat32(pcm, rate, 16000), nil
}
