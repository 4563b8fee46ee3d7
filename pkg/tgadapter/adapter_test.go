package tgadapter

import (
	"context"
	"encoding/binary"
	"errors"
	"slices"
	"testing"
)

// stubAdapter is the minimal Adapter used to exercise the factory.
type stubAdapter struct {
	Adapter
	name string
}

func (s *stubAdapter) Name() string { return s.name }

func stubFactory(name string) Factory {
	return func(Config) (Adapter, error) {
		return &stubAdapter{name: name}, nil
	}
}

const testToken = "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi"

func TestRegisterAndNew(t *testing.T) {
	Register("stub-a", stubFactory("stub-a"))

	a, err := New("stub-a", Config{Token: testToken})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.Name() != "stub-a" {
		t.Errorf("name = %q", a.Name())
	}
}

func TestNew_UnknownVariant(t *testing.T) {
	_, err := New("no-such-adapter", Config{Token: testToken})
	if err == nil {
		t.Fatal("expected error for unknown variant")
	}
}

func TestNew_RequiresToken(t *testing.T) {
	Register("stub-b", stubFactory("stub-b"))

	if _, err := New("stub-b", Config{}); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestNew_FactoryErrorPropagates(t *testing.T) {
	wantErr := errors.New("bad credentials")
	Register("stub-c", func(Config) (Adapter, error) { return nil, wantErr })

	if _, err := New("stub-c", Config{Token: testToken}); !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestVariants_Sorted(t *testing.T) {
	Register("stub-z", stubFactory("stub-z"))
	Register("stub-m", stubFactory("stub-m"))

	names := Variants()
	if !slices.IsSorted(names) {
		t.Errorf("Variants() = %v, want sorted", names)
	}
	if !slices.Contains(names, "stub-z") || !slices.Contains(names, "stub-m") {
		t.Errorf("Variants() = %v, missing registered stubs", names)
	}
}

func TestValidTokenShape(t *testing.T) {
	t.Parallel()
	tests := []struct {
		token string
		want  bool
	}{
		{testToken, true},
		{"123456:short", false},
		{"no-digits:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi", false},
		{"", false},
		{"123456ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi", false},
	}
	for _, tc := range tests {
		if got := ValidTokenShape(tc.token); got != tc.want {
			t.Errorf("ValidTokenShape(%q) = %v, want %v", tc.token, got, tc.want)
		}
	}
}

// wavBlob builds a minimal mono 16 kHz WAV whose data chunk plays for the
// given number of seconds.
func wavBlob(seconds int) []byte {
	const byteRate = 32000
	dataLen := seconds * byteRate
	buf := make([]byte, 44+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1)  // mono
	binary.LittleEndian.PutUint32(buf[24:28], 16000)
	binary.LittleEndian.PutUint32(buf[28:32], byteRate)
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	return buf
}

func TestVoiceDuration(t *testing.T) {
	t.Parallel()

	t.Run("caller supplied wins", func(t *testing.T) {
		t.Parallel()
		if got := VoiceDuration(wavBlob(2), &SendOptions{Duration: 9}); got != 9 {
			t.Errorf("duration = %d, want 9", got)
		}
	})

	t.Run("probed from wav header", func(t *testing.T) {
		t.Parallel()
		if got := VoiceDuration(wavBlob(2), nil); got != 2 {
			t.Errorf("duration = %d, want 2", got)
		}
	})

	t.Run("fallback for opaque bytes", func(t *testing.T) {
		t.Parallel()
		if got := VoiceDuration([]byte("not audio"), nil); got != fallbackVoiceSeconds {
			t.Errorf("duration = %d, want %d", got, fallbackVoiceSeconds)
		}
	})
}

func TestUploadFilename(t *testing.T) {
	t.Parallel()
	if got := UploadFilename(&SendOptions{Filename: "speech.ogg"}, "voice.ogg"); got != "speech.ogg" {
		t.Errorf("filename = %q", got)
	}
	if got := UploadFilename(nil, "voice.ogg"); got != "voice.ogg" {
		t.Errorf("filename = %q", got)
	}
}

// Compile-time check that the handler signatures stay context-first.
var (
	_ MessageHandler  = func(context.Context, *InboundMessage) {}
	_ CallbackHandler = func(context.Context, *InboundMessage, string) {}
)
