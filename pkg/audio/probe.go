package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// DetectFormat sniffs the container of data from its magic bytes.
// Returns "" when the container is not recognised.
func DetectFormat(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return "wav"
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("OggS")):
		return "ogg"
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")):
		return "mp3"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	default:
		return ""
	}
}

// probeNative extracts Info from WAV, OGG, and MP3 headers without external
// tools. Unknown fields are left zero.
func probeNative(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, errors.New("audio: empty data")
	}
	info := Info{SizeBytes: len(data), Format: DetectFormat(data)}
	switch info.Format {
	case "wav":
		return probeWAV(data, info)
	case "ogg":
		return probeOgg(data, info)
	case "mp3":
		return probeMP3(data, info)
	case "":
		return info, errors.New("audio: unrecognised container")
	}
	return info, nil
}

// probeWAV walks the RIFF chunk list for "fmt " and "data".
func probeWAV(data []byte, info Info) (Info, error) {
	var byteRate uint32
	var dataLen int
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body > len(data) {
			break
		}
		switch id {
		case "fmt ":
			if body+16 <= len(data) {
				info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
				byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
			}
		case "data":
			dataLen = size
			if body+size > len(data) {
				dataLen = len(data) - body
			}
		}
		// Chunks are word-aligned.
		pos = body + size + size%2
	}
	if byteRate > 0 && dataLen > 0 {
		info.DurationSeconds = float64(dataLen) / float64(byteRate)
		info.BitrateKbps = int(byteRate * 8 / 1000)
	}
	if info.SampleRate == 0 {
		return info, fmt.Errorf("audio: wav: no fmt chunk")
	}
	return info, nil
}

// probeOgg reads the granule position of the last page. For Opus streams the
// granule counts 48 kHz samples, which yields the duration directly.
func probeOgg(data []byte, info Info) (Info, error) {
	last := bytes.LastIndex(data, []byte("OggS"))
	if last < 0 || last+14 > len(data) {
		return info, errors.New("audio: ogg: no page header")
	}
	granule := int64(binary.LittleEndian.Uint64(data[last+6 : last+14]))
	if granule > 0 {
		info.DurationSeconds = float64(granule) / 48000.0
	}
	// OpusHead on the first page carries channel count and input rate.
	if head := bytes.Index(data, []byte("OpusHead")); head >= 0 && head+18 <= len(data) {
		info.Channels = int(data[head+9])
		info.SampleRate = int(binary.LittleEndian.Uint32(data[head+12 : head+16]))
	}
	return info, nil
}

// mp3Bitrates is the MPEG-1 Layer III bitrate table in kbps, indexed by the
// frame-header bitrate field.
var mp3Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}

// mp3SampleRates is the MPEG-1 sample-rate table in Hz.
var mp3SampleRates = [4]int{44100, 48000, 32000, 0}

// probeMP3 parses the first MPEG-1 Layer III frame header and estimates
// duration from the nominal bitrate. VBR files get a rough estimate only.
func probeMP3(data []byte, info Info) (Info, error) {
	pos := 0
	if bytes.HasPrefix(data, []byte("ID3")) && len(data) >= 10 {
		// Skip the ID3v2 tag (syncsafe 28-bit size).
		size := int(data[6])<<21 | int(data[7])<<14 | int(data[8])<<7 | int(data[9])
		pos = 10 + size
	}
	for ; pos+4 <= len(data); pos++ {
		if data[pos] == 0xFF && data[pos+1]&0xE0 == 0xE0 {
			break
		}
	}
	if pos+4 > len(data) {
		return info, errors.New("audio: mp3: no frame header")
	}
	h := data[pos : pos+4]
	if h[1]&0x18 != 0x18 || h[1]&0x06 != 0x02 {
		// Not MPEG-1 Layer III; leave fields unknown.
		return info, nil
	}
	bitrate := mp3Bitrates[h[2]>>4]
	rate := mp3SampleRates[(h[2]>>2)&0x03]
	if rate > 0 {
		info.SampleRate = rate
	}
	if h[3]>>6 == 3 {
		info.Channels = 1
	} else {
		info.Channels = 2
	}
	if bitrate > 0 {
		info.BitrateKbps = bitrate
		info.DurationSeconds = float64(len(data)-pos) * 8 / float64(bitrate*1000)
	}
	return info, nil
}
