package tgadapter

import (
	"math"

	"github.com/sedabot/sedabot/pkg/audio"
)

// fallbackVoiceSeconds is used when the duration can be neither supplied nor
// probed from the audio bytes.
const fallbackVoiceSeconds = 5

// VoiceDuration resolves the duration attribute of a voice send: the
// caller-supplied value wins, else the header-probed length rounded up, else
// a 5-second fallback. Every adapter variant uses this so a voice note never
// goes out without a duration.
func VoiceDuration(data []byte, opts *SendOptions) int {
	if opts != nil && opts.Duration > 0 {
		return opts.Duration
	}
	if info, err := (audio.Native{}).Probe(data); err == nil && info.DurationSeconds > 0 {
		return int(math.Ceil(info.DurationSeconds))
	}
	return fallbackVoiceSeconds
}

// UploadFilename resolves the file name of a media upload.
func UploadFilename(opts *SendOptions, fallback string) string {
	if opts != nil && opts.Filename != "" {
		return opts.Filename
	}
	return fallback
}
