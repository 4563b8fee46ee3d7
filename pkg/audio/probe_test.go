package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

// makeWAV builds a PCM WAV blob: little-endian int16 samples at the given
// rate and channel count.
func makeWAV(sampleRate, channels int, samples []int16) []byte {
	dataLen := len(samples) * 2
	byteRate := sampleRate * channels * 2
	buf := make([]byte, 44+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(channels*2))
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:], uint16(s))
	}
	return buf
}

// sine fills n samples with a tone so the Opus encoder has real signal.
func sine(n, sampleRate int, freq float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return out
}

func TestDetectFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"wav", makeWAV(16000, 1, make([]int16, 16)), "wav"},
		{"ogg", []byte("OggS\x00rest-of-page"), "ogg"},
		{"mp3 id3", []byte("ID3\x04\x00\x00\x00\x00\x00\x00"), "mp3"},
		{"mp3 frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, "mp3"},
		{"opaque", []byte("definitely not audio"), ""},
		{"empty", nil, ""},
	}
	for _, tc := range tests {
		if got := DetectFormat(tc.data); got != tc.want {
			t.Errorf("%s: DetectFormat = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestProbe_WAV(t *testing.T) {
	t.Parallel()
	// 2 seconds of mono 16 kHz audio.
	wav := makeWAV(16000, 1, make([]int16, 32000))

	info, err := Native{}.Probe(wav)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Format != "wav" {
		t.Errorf("format = %q, want wav", info.Format)
	}
	if info.SampleRate != 16000 || info.Channels != 1 {
		t.Errorf("rate/channels = %d/%d, want 16000/1", info.SampleRate, info.Channels)
	}
	if math.Abs(info.DurationSeconds-2.0) > 0.01 {
		t.Errorf("duration = %v, want 2.0", info.DurationSeconds)
	}
	if info.SizeBytes != len(wav) {
		t.Errorf("size = %d, want %d", info.SizeBytes, len(wav))
	}
}

func TestProbe_MP3FrameHeader(t *testing.T) {
	t.Parallel()
	// MPEG-1 Layer III, 128 kbps, 44.1 kHz, stereo: FF FB 90 00.
	data := append([]byte{0xFF, 0xFB, 0x90, 0x00}, make([]byte, 16000)...)

	info, err := Native{}.Probe(data)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Format != "mp3" {
		t.Errorf("format = %q, want mp3", info.Format)
	}
	if info.BitrateKbps != 128 || info.SampleRate != 44100 {
		t.Errorf("bitrate/rate = %d/%d, want 128/44100", info.BitrateKbps, info.SampleRate)
	}
	// ~16 KB at 128 kbps is about a second.
	if math.Abs(info.DurationSeconds-1.0) > 0.1 {
		t.Errorf("duration = %v, want ≈1.0", info.DurationSeconds)
	}
}

func TestProbe_UnrecognisedContainer(t *testing.T) {
	t.Parallel()
	if _, err := (Native{}).Probe([]byte("plain text")); err == nil {
		t.Fatal("expected error for unrecognised container")
	}
	if _, err := (Native{}).Probe(nil); err == nil {
		t.Fatal("expected error for empty data")
	}
}
