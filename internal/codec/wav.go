package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// ErrNotWAV is returned when data does not start with a RIFF/WAVE header.
var ErrNotWAV = errors.New("not a RIFF/WAVE stream")

// PCMFormat describes interleaved little-endian signed PCM.
type PCMFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultPCMFormat is what Piper models produce unless their config says
// otherwise.
func DefaultPCMFormat() PCMFormat {
	return PCMFormat{SampleRate: 22050, Channels: 1, BitDepth: 16}
}

// BytesPerFrame returns the size of one sample across all channels.
func (f PCMFormat) BytesPerFrame() int {
	return f.BitDepth / 8 * f.Channels
}

// Duration returns the playing time of n bytes of PCM.
func (f PCMFormat) Duration(n int) time.Duration {
	if f.SampleRate <= 0 || f.BytesPerFrame() <= 0 {
		return 0
	}
	frames := n / f.BytesPerFrame()
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// PCMToWAV wraps raw PCM in a canonical 44-byte WAV header.
func PCMToWAV(pcm []byte, f PCMFormat) []byte {
	bytesPerSample := f.BitDepth / 8

	buf := &bytes.Buffer{}
	buf.Grow(44 + len(pcm))

	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(f.Channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate*f.Channels*bytesPerSample))
	_ = binary.Write(buf, binary.LittleEndian, uint16(f.Channels*bytesPerSample))
	_ = binary.Write(buf, binary.LittleEndian, uint16(f.BitDepth))

	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// WAVDuration reads the fmt and data chunks of a WAV stream. Streams written
// to a pipe carry a placeholder data size; the bytes actually present are
// used instead.
func WAVDuration(data []byte) (time.Duration, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, ErrNotWAV
	}

	var byteRate uint32
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := binary.LittleEndian.Uint32(data[off+4 : off+8])
		body := off + 8

		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return 0, fmt.Errorf("%w: truncated fmt chunk", ErrNotWAV)
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, fmt.Errorf("%w: data chunk before fmt chunk", ErrNotWAV)
			}
			avail := uint32(len(data) - body)
			if size == 0 || size > avail {
				size = avail
			}
			return time.Duration(uint64(size) * uint64(time.Second) / uint64(byteRate)), nil
		}

		// chunks are padded to even sizes
		next := uint64(body) + uint64(size) + uint64(size&1)
		if next > uint64(len(data)) {
			break
		}
		off = int(next)
	}

	return 0, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}
