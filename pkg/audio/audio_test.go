package audio

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
)

func TestNativeConvert_SameFormatPassthrough(t *testing.T) {
	t.Parallel()
	data := []byte("mp3-bytes")
	out, err := Native{}.Convert(context.Background(), data, "mp3", "mp3")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("passthrough changed the data")
	}
}

func TestNativeConvert_UnsupportedConversion(t *testing.T) {
	t.Parallel()
	_, err := Native{}.Convert(context.Background(), []byte("x"), "mp3", "ogg")
	if !errors.Is(err, ErrUnsupportedConversion) {
		t.Errorf("err = %v, want ErrUnsupportedConversion", err)
	}
}

func TestNativeConvert_WavToOggOpus(t *testing.T) {
	t.Parallel()
	// One second of a 440 Hz tone, mono 16 kHz.
	wav := makeWAV(16000, 1, sine(16000, 16000, 440))

	ogg, err := Native{}.Convert(context.Background(), wav, "wav", "ogg")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if !bytes.HasPrefix(ogg, []byte("OggS")) {
		t.Fatal("output is not an OGG stream")
	}
	if !bytes.Contains(ogg, []byte("OpusHead")) || !bytes.Contains(ogg, []byte("OpusTags")) {
		t.Error("output misses the Opus header pages")
	}

	info, err := Native{}.Probe(ogg)
	if err != nil {
		t.Fatalf("Probe on output: %v", err)
	}
	if info.Format != "ogg" || info.Channels != 1 {
		t.Errorf("probed format/channels = %q/%d, want ogg/1", info.Format, info.Channels)
	}
	// The granule includes the encoder pre-skip; allow frame-level slack.
	if math.Abs(info.DurationSeconds-1.0) > 0.15 {
		t.Errorf("duration = %v, want ≈1.0", info.DurationSeconds)
	}
}

func TestNativeConvert_StereoWavDownmixes(t *testing.T) {
	t.Parallel()
	// Interleaved stereo tone at 48 kHz; no resampling involved.
	mono := sine(4800, 48000, 440)
	stereo := make([]int16, len(mono)*2)
	for i, s := range mono {
		stereo[i*2] = s
		stereo[i*2+1] = s
	}
	wav := makeWAV(48000, 2, stereo)

	ogg, err := Native{}.Convert(context.Background(), wav, "wav", "ogg")
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	info, err := Native{}.Probe(ogg)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Channels != 1 {
		t.Errorf("channels = %d, want mono output", info.Channels)
	}
}

func TestNativeConvert_RejectsNonWavBytes(t *testing.T) {
	t.Parallel()
	if _, err := (Native{}).Convert(context.Background(), []byte("OggS garbage"), "wav", "ogg"); err == nil {
		t.Fatal("expected error for mislabeled input")
	}
}
