package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
)

// FFmpeg is a [Pipeline] backed by the ffmpeg and ffprobe binaries, fed and
// drained over pipes so no temporary files are created. When ffprobe is
// missing, Probe falls back to native header parsing.
type FFmpeg struct {
	// FFmpegPath and FFprobePath override the binary names looked up on
	// PATH. Empty values use "ffmpeg" and "ffprobe".
	FFmpegPath  string
	FFprobePath string

	availOnce sync.Once
	avail     bool
}

// NewFFmpeg returns an FFmpeg pipeline using the binaries on PATH.
func NewFFmpeg() *FFmpeg {
	return &FFmpeg{}
}

func (f *FFmpeg) ffmpeg() string {
	if f.FFmpegPath != "" {
		return f.FFmpegPath
	}
	return "ffmpeg"
}

func (f *FFmpeg) ffprobe() string {
	if f.FFprobePath != "" {
		return f.FFprobePath
	}
	return "ffprobe"
}

// Available reports whether the ffmpeg binary can be found. The lookup runs
// once and is cached.
func (f *FFmpeg) Available() bool {
	f.availOnce.Do(func() {
		_, err := exec.LookPath(f.ffmpeg())
		f.avail = err == nil
	})
	return f.avail
}

// ffprobeOutput mirrors the subset of `ffprobe -print_format json` we read.
type ffprobeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
}

// Probe runs ffprobe over stdin. On any failure it falls back to native
// header parsing.
func (f *FFmpeg) Probe(data []byte) (Info, error) {
	cmd := exec.Command(f.ffprobe(),
		"-hide_banner", "-loglevel", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		"-i", "pipe:0",
	)
	cmd.Stdin = bytes.NewReader(data)
	out, err := cmd.Output()
	if err != nil {
		return probeNative(data)
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return probeNative(data)
	}

	info := Info{SizeBytes: len(data), Format: DetectFormat(data)}
	if info.Format == "" {
		info.Format = probed.Format.FormatName
	}
	if d, err := strconv.ParseFloat(probed.Format.Duration, 64); err == nil {
		info.DurationSeconds = d
	}
	if br, err := strconv.Atoi(probed.Format.BitRate); err == nil {
		info.BitrateKbps = br / 1000
	}
	for _, s := range probed.Streams {
		if s.CodecType != "audio" {
			continue
		}
		if sr, err := strconv.Atoi(s.SampleRate); err == nil {
			info.SampleRate = sr
		}
		info.Channels = s.Channels
		break
	}
	return info, nil
}

// Convert transcodes data between containers over pipes. Conversions to ogg
// encode Opus at settings suitable for voice notes.
func (f *FFmpeg) Convert(ctx context.Context, data []byte, inFormat, outFormat string) ([]byte, error) {
	if inFormat == outFormat {
		return data, nil
	}
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", inFormat, "-i", "pipe:0",
	}
	switch outFormat {
	case "ogg":
		args = append(args, "-c:a", "libopus", "-b:a", "48k", "-vbr", "on", "-application", "voip", "-ac", "1")
	case "mp3":
		args = append(args, "-c:a", "libmp3lame", "-b:a", "128k")
	case "wav":
		args = append(args, "-c:a", "pcm_s16le")
	default:
		return nil, fmt.Errorf("%w: %s → %s", ErrUnsupportedConversion, inFormat, outFormat)
	}
	args = append(args, "-f", outFormat, "pipe:1")

	cmd := exec.CommandContext(ctx, f.ffmpeg(), args...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("audio: ffmpeg %s → %s: %w: %s", inFormat, outFormat, err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("audio: ffmpeg %s → %s produced no output", inFormat, outFormat)
	}
	return stdout.Bytes(), nil
}
