package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeWAVHeader(t *testing.T) {
	t.Parallel()

	pcm := EncodeInt16([]int16{100, -100, 32767, -32768})
	wav := EncodeWAV(pcm, 16000, 1)

	if got := len(wav); got != wavHeaderSize+len(pcm) {
		t.Fatalf("wav length = %d, want %d", got, wavHeaderSize+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE magic: %q %q", wav[0:4], wav[8:12])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d, want 16000", rate)
	}
	if ch := binary.LittleEndian.Uint16(wav[22:24]); ch != 1 {
		t.Errorf("channels = %d, want 1", ch)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); int(size) != len(pcm) {
		t.Errorf("data size = %d, want %d", size, len(pcm))
	}
}

func TestDecodeWAVRoundTrip(t *testing.T) {
	t.Parallel()

	pcm := EncodeInt16([]int16{1, 2, 3, 4, 5, 6, 7, 8})
	wav := EncodeWAV(pcm, 22050, 2)

	got, format, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("payload mismatch: got %d bytes, want %d", len(got), len(pcm))
	}
	if format.SampleRate != 22050 || format.Channels != 2 {
		t.Errorf("format = %+v, want 22050 Hz stereo", format)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, _, err := DecodeWAV([]byte("definitely not audio")); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("err = %v, want ErrNotWAV", err)
	}
	if _, _, err := DecodeWAV(nil); !errors.Is(err, ErrNotWAV) {
		t.Fatalf("err = %v, want ErrNotWAV", err)
	}
}
