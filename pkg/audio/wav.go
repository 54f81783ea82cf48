package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// wavHeaderSize is the byte length of a canonical 44-byte PCM WAV header.
const wavHeaderSize = 44

// EncodeWAV wraps raw little-endian 16-bit PCM in a canonical RIFF/WAVE
// header. The result is suitable for the playback side of the device boundary
// and for batch recognition APIs that expect WAV input.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	byteRate := sampleRate * channels * 2
	blockAlign := channels * 2

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// ErrNotWAV is returned by [DecodeWAV] when the buffer does not start with a
// RIFF/WAVE header.
var ErrNotWAV = errors.New("audio: buffer is not RIFF/WAVE")

// DecodeWAV extracts the PCM payload and format from a WAV buffer. Only
// uncompressed 16-bit PCM is supported; chunks other than fmt and data are
// skipped. The returned slice aliases wav.
func DecodeWAV(wav []byte) (pcm []byte, format Format, err error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var haveFmt bool
	off := 12
	for off+8 <= len(wav) {
		id := string(wav[off : off+4])
		size := int(binary.LittleEndian.Uint32(wav[off+4 : off+8]))
		body := off + 8
		if body+size > len(wav) {
			size = len(wav) - body
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, Format{}, fmt.Errorf("audio: short fmt chunk (%d bytes)", size)
			}
			audioFormat := binary.LittleEndian.Uint16(wav[body : body+2])
			bits := binary.LittleEndian.Uint16(wav[body+14 : body+16])
			if audioFormat != 1 || bits != 16 {
				return nil, Format{}, fmt.Errorf("audio: unsupported WAV encoding (format %d, %d bits)", audioFormat, bits)
			}
			format.Channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, errors.New("audio: data chunk before fmt chunk")
			}
			return wav[body : body+size], format, nil
		}

		// Chunks are word-aligned.
		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	return nil, Format{}, errors.New("audio: no data chunk found")
}
