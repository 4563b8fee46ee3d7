package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"layeh.com/gopus"
)

// Telegram voice notes are OGG/Opus. Opus works internally at 48 kHz; the
// encoder here is mono at 20 ms frames, which is what voice clients expect.
const (
	opusSampleRate  = 48000
	opusChannels    = 1
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per channel per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
	// opusPreSkip is the standard encoder delay in 48 kHz samples.
	opusPreSkip = 3840
	// packetsPerPage bounds how many Opus packets one OGG page carries.
	packetsPerPage = 50
)

// wavToOggOpus decodes a PCM WAV blob, normalises it to 48 kHz mono, encodes
// it with Opus, and wraps the packets into a minimal OGG stream.
func wavToOggOpus(wav []byte) ([]byte, error) {
	info, err := probeNative(wav)
	if err != nil {
		return nil, err
	}
	if info.Format != "wav" {
		return nil, fmt.Errorf("audio: expected wav input, got %q", info.Format)
	}
	pcm, err := wavPCM(wav)
	if err != nil {
		return nil, err
	}
	if info.Channels == 2 {
		pcm = StereoToMono(pcm)
	} else if info.Channels != 1 {
		return nil, fmt.Errorf("audio: unsupported channel count %d", info.Channels)
	}
	pcm = ResampleMono16(pcm, info.SampleRate, opusSampleRate)

	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}

	samples := bytesToInt16s(pcm)
	var packets [][]byte
	frame := make([]int16, opusFrameSize)
	for off := 0; off < len(samples); off += opusFrameSize {
		n := copy(frame, samples[off:])
		for i := n; i < opusFrameSize; i++ {
			frame[i] = 0 // pad the final partial frame with silence
		}
		pkt, err := enc.Encode(frame, opusFrameSize, opusFrameSize*2)
		if err != nil {
			return nil, fmt.Errorf("audio: opus encode: %w", err)
		}
		packets = append(packets, append([]byte(nil), pkt...))
	}
	return muxOgg(packets), nil
}

// wavPCM returns the raw sample bytes of the "data" chunk.
func wavPCM(wav []byte) ([]byte, error) {
	pos := 12
	for pos+8 <= len(wav) {
		id := string(wav[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(wav[pos+4 : pos+8]))
		body := pos + 8
		if size < 0 || body > len(wav) {
			break
		}
		if id == "data" {
			end := body + size
			if end > len(wav) {
				end = len(wav)
			}
			return wav[body:end], nil
		}
		pos = body + size + size%2
	}
	return nil, fmt.Errorf("audio: wav: no data chunk")
}

// muxOgg wraps Opus packets into an OGG stream: an OpusHead page, an
// OpusTags page, then audio pages of up to packetsPerPage packets each.
func muxOgg(packets [][]byte) []byte {
	const serial = 0x5eda
	var out bytes.Buffer
	var pageSeq uint32

	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1 // version
	head[9] = opusChannels
	binary.LittleEndian.PutUint16(head[10:], opusPreSkip)
	binary.LittleEndian.PutUint32(head[12:], opusSampleRate)
	// output gain 0, mapping family 0
	writeOggPage(&out, 0x02, 0, serial, &pageSeq, [][]byte{head})

	var tags bytes.Buffer
	tags.WriteString("OpusTags")
	vendor := "sedabot"
	binary.Write(&tags, binary.LittleEndian, uint32(len(vendor)))
	tags.WriteString(vendor)
	binary.Write(&tags, binary.LittleEndian, uint32(0))
	writeOggPage(&out, 0x00, 0, serial, &pageSeq, [][]byte{tags.Bytes()})

	granule := int64(opusPreSkip)
	for off := 0; off < len(packets); off += packetsPerPage {
		end := off + packetsPerPage
		if end > len(packets) {
			end = len(packets)
		}
		page := packets[off:end]
		granule += int64(len(page)) * opusFrameSize
		var flags byte
		if end == len(packets) {
			flags = 0x04 // end of stream
		}
		writeOggPage(&out, flags, granule, serial, &pageSeq, page)
	}
	return out.Bytes()
}

// writeOggPage emits one OGG page holding the given packets. Packets larger
// than 255*255 bytes are not supported (Opus voice frames never are).
func writeOggPage(out *bytes.Buffer, flags byte, granule int64, serial uint32, pageSeq *uint32, packets [][]byte) {
	var lacing []byte
	for _, p := range packets {
		n := len(p)
		for n >= 255 {
			lacing = append(lacing, 255)
			n -= 255
		}
		lacing = append(lacing, byte(n))
	}

	header := make([]byte, 27+len(lacing))
	copy(header, "OggS")
	header[5] = flags
	binary.LittleEndian.PutUint64(header[6:], uint64(granule))
	binary.LittleEndian.PutUint32(header[14:], serial)
	binary.LittleEndian.PutUint32(header[18:], *pageSeq)
	*pageSeq++
	header[26] = byte(len(lacing))
	copy(header[27:], lacing)

	page := make([]byte, 0, len(header)+totalLen(packets))
	page = append(page, header...)
	for _, p := range packets {
		page = append(page, p...)
	}
	binary.LittleEndian.PutUint32(page[22:], oggCRC(page))
	out.Write(page)
}

func totalLen(packets [][]byte) int {
	n := 0
	for _, p := range packets {
		n += len(p)
	}
	return n
}

// oggCRC computes the OGG page checksum: CRC-32 with polynomial 0x04C11DB7,
// zero initial value, no reflection, no final xor.
var oggCRCTable = func() [256]uint32 {
	var table [256]uint32
	for i := range table {
		r := uint32(i) << 24
		for range 8 {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ 0x04C11DB7
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return table
}()

func oggCRC(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}
