package audio

import (
	"bytes"
	"mime"
	"strconv"
	"strings"

	"voicecollect/pkg/apperr"
)

type format int

const (
	formatUnknown format = iota
	formatWAV
	formatMP3
	formatPCM
	formatUnsupported
)

func (f format) String() string {
	switch f {
	case formatWAV:
		return "wav"
	case formatMP3:
		return "mp3"
	case formatPCM:
		return "pcm"
	case formatUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// sniff identifies the container from its leading bytes
func sniff(data []byte) format {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return formatWAV
	case bytes.HasPrefix(data, []byte("ID3")):
		return formatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 && (data[1]>>1)&0x03 != 0:
		// MPEG audio frame sync with a non-reserved layer. ADTS (AAC) uses
		// layer bits 00 and falls through.
		return formatMP3
	case bytes.HasPrefix(data, []byte("OggS")),
		bytes.HasPrefix(data, []byte("fLaC")),
		bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}),
		len(data) >= 8 && bytes.Equal(data[4:8], []byte("ftyp")),
		len(data) >= 2 && data[0] == 0xFF && data[1]&0xF6 == 0xF0:
		return formatUnsupported
	}
	return formatUnknown
}

// pcmParams describes a headerless PCM stream
type pcmParams struct {
	rate     int
	channels int
}

// Bounds on decoded streams. Outside them resampling cost and the WAV
// header fields stop being meaningful.
const (
	minSampleRate = 8000
	maxSampleRate = 192000
	maxChannels   = 8
)

// checkStream rejects sample rates and channel counts the normalizer will
// not process, whether they came from a container header or a MIME hint.
func checkStream(rate, channels int) error {
	if rate < minSampleRate || rate > maxSampleRate {
		return apperr.Newf(apperr.KindUnsupportedFormat,
			"sample rate %d Hz is outside %d..%d", rate, minSampleRate, maxSampleRate)
	}
	if channels < 1 || channels > maxChannels {
		return apperr.Newf(apperr.KindUnsupportedFormat,
			"channel count %d is outside 1..%d", channels, maxChannels)
	}
	return nil
}

// parseHint maps a MIME type or bare extension to a format. For raw PCM the
// rate and channels parameters are honoured.
func parseHint(hint string) (format, pcmParams) {
	params := pcmParams{rate: defaultPCMRate, channels: 1}

	hint = strings.TrimSpace(strings.ToLower(hint))
	if hint == "" {
		return formatUnknown, params
	}

	mediaType, attrs, err := mime.ParseMediaType(hint)
	if err != nil {
		mediaType = strings.TrimSpace(strings.SplitN(hint, ";", 2)[0])
	}

	switch mediaType {
	case "wav", "wave", "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return formatWAV, params
	case "mp3", "mpeg", "audio/mpeg", "audio/mp3", "audio/mpeg3", "audio/x-mpeg-3":
		return formatMP3, params
	case "pcm", "raw", "audio/pcm", "audio/l16", "audio/x-raw", "application/octet-stream":
		if mediaType == "application/octet-stream" && attrs["rate"] == "" {
			return formatUnknown, params
		}
		if v, err := strconv.Atoi(attrs["rate"]); err == nil && v > 0 {
			params.rate = v
		}
		if v, err := strconv.Atoi(attrs["channels"]); err == nil && v > 0 {
			params.channels = v
		}
		return formatPCM, params
	}
	return formatUnsupported, params
}
