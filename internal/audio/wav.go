package audio

import (
	"encoding/binary"
	"math"

	"voicecollect/pkg/apperr"
)

const wavHeaderSize = 44

// encodeWAV wraps 16-bit PCM in a canonical RIFF/WAVE container: one fmt
// chunk, one data chunk, no optional chunks. Values that do not fit the
// header fields are rejected rather than truncated.
func encodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	const bitsPerSample = 16

	blockAlign := channels * bitsPerSample / 8
	byteRate := int64(sampleRate) * int64(blockAlign)

	if channels < 1 || blockAlign > math.MaxUint16 {
		return nil, apperr.Newf(apperr.KindUnsupportedFormat, "cannot encode %d channels as wav", channels)
	}
	if sampleRate < 1 || byteRate > math.MaxUint32 {
		return nil, apperr.Newf(apperr.KindUnsupportedFormat, "cannot encode %d Hz as wav", sampleRate)
	}
	if int64(len(pcm)) > math.MaxUint32-36 {
		return nil, apperr.New(apperr.KindUnsupportedFormat, "pcm data too large for a wav container")
	}

	buf := make([]byte, wavHeaderSize+len(pcm))

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))

	copy(buf[wavHeaderSize:], pcm)
	return buf, nil
}
