// Package audio turns recorded clips (WAV, MP3 or raw PCM) into 16 kHz
// 16-bit PCM WAV.
package audio

import (
	"bytes"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"go.uber.org/zap"

	"voicecollect/pkg/apperr"
	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
)

const (
	// TargetSampleRate is the rate every stored recording is encoded at
	TargetSampleRate = 16000

	defaultPCMRate = 16000

	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

type Normalizer struct {
	targetChannels int
	maxInputBytes  int64
}

type Option func(*Normalizer)

// WithTargetChannels forces mono (1) or stereo (2) output. 0 keeps the
// source channel count.
func WithTargetChannels(n int) Option {
	return func(nz *Normalizer) { nz.targetChannels = n }
}

// WithMaxInputBytes rejects larger inputs before decoding. 0 disables the check.
func WithMaxInputBytes(n int64) Option {
	return func(nz *Normalizer) { nz.maxInputBytes = n }
}

func NewNormalizer(opts ...Option) *Normalizer {
	nz := &Normalizer{}
	for _, opt := range opts {
		opt(nz)
	}
	return nz
}

// Normalize decodes data and re-encodes it at TargetSampleRate. hint is a MIME
// type or extension used when the bytes carry no recognisable header. The
// result depends only on the input, so normalizing twice is a no-op.
func (nz *Normalizer) Normalize(data []byte, hint string) (model.NormalizedAudio, error) {
	if len(data) == 0 {
		return model.NormalizedAudio{}, apperr.New(apperr.KindDecode, "audio payload is empty")
	}
	if nz.maxInputBytes > 0 && int64(len(data)) > nz.maxInputBytes {
		return model.NormalizedAudio{}, apperr.Newf(apperr.KindValidation,
			"audio payload is %d bytes, limit is %d", len(data), nz.maxInputBytes)
	}

	f := sniff(data)
	hinted, params := parseHint(hint)

	// Headerless PCM can start with bytes that look like an MPEG frame sync.
	if hinted == formatPCM && f != formatWAV {
		f = formatPCM
	}

	if f == formatUnknown {
		switch hinted {
		case formatPCM:
			f = formatPCM
		case formatWAV, formatMP3:
			return model.NormalizedAudio{}, apperr.Newf(apperr.KindDecode, "payload declared as %s has no valid %s header", hinted, hinted)
		case formatUnsupported:
			return model.NormalizedAudio{}, apperr.Newf(apperr.KindUnsupportedFormat, "unsupported audio format %q", hint)
		default:
			return model.NormalizedAudio{}, apperr.New(apperr.KindDecode, "unrecognised audio data")
		}
	}

	var (
		samples  []int16
		channels int
		rate     int
		err      error
	)

	switch f {
	case formatWAV:
		samples, channels, rate, err = decodeWAV(data)
	case formatMP3:
		samples, channels, rate, err = decodeMP3(data)
	case formatPCM:
		samples, channels, rate, err = decodePCM(data, params)
	default:
		return model.NormalizedAudio{}, apperr.Newf(apperr.KindUnsupportedFormat,
			"unsupported audio container (accepted: wav, mp3, raw pcm)")
	}
	if err != nil {
		return model.NormalizedAudio{}, err
	}
	if err := checkStream(rate, channels); err != nil {
		return model.NormalizedAudio{}, err
	}
	if len(samples) < channels {
		return model.NormalizedAudio{}, apperr.New(apperr.KindDecode, "audio contains no samples")
	}

	samples, channels = remix(samples, channels, nz.targetChannels)
	samples = resample(samples, channels, rate, TargetSampleRate)

	pcm := encodeLE16(samples)
	wavData, err := encodeWAV(pcm, TargetSampleRate, channels)
	if err != nil {
		return model.NormalizedAudio{}, err
	}

	logger.Debug("Audio normalized",
		zap.String("source_format", f.String()),
		zap.Int("source_rate", rate),
		zap.Int("channels", channels),
		zap.Int("frames", len(samples)/channels))

	return model.NormalizedAudio{
		SampleRate: TargetSampleRate,
		Channels:   channels,
		PCM:        pcm,
		WAV:        wavData,
	}, nil
}

func decodeWAV(data []byte) ([]int16, int, int, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, 0, 0, apperr.New(apperr.KindDecode, "invalid wav header")
	}
	if d.WavAudioFormat != wavFormatPCM && d.WavAudioFormat != wavFormatExtensible {
		return nil, 0, 0, apperr.Newf(apperr.KindUnsupportedFormat,
			"wav encoding %d is not linear pcm", d.WavAudioFormat)
	}
	switch d.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, 0, 0, apperr.Newf(apperr.KindUnsupportedFormat, "unsupported wav bit depth %d", d.BitDepth)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, apperr.Wrap(apperr.KindDecode, err, "failed to decode wav samples")
	}

	channels := int(d.NumChans)
	if channels < 1 || d.SampleRate == 0 {
		return nil, 0, 0, apperr.New(apperr.KindDecode, "wav header has no channels or sample rate")
	}

	return intBufferTo16(buf, int(d.BitDepth)), channels, int(d.SampleRate), nil
}

func intBufferTo16(buf *goaudio.IntBuffer, bitDepth int) []int16 {
	out := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = scaleTo16(v, bitDepth)
	}
	return out
}

// decodeMP3 always yields interleaved stereo; mono sources are duplicated
// by the decoder.
func decodeMP3(data []byte) ([]int16, int, int, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, apperr.Wrap(apperr.KindDecode, err, "invalid mp3 stream")
	}

	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, 0, 0, apperr.Wrap(apperr.KindDecode, err, "failed to decode mp3 frames")
	}

	return decodeLE16(raw[:len(raw)&^3]), 2, d.SampleRate(), nil
}

func decodePCM(data []byte, p pcmParams) ([]int16, int, int, error) {
	frame := 2 * p.channels
	if len(data)%frame != 0 {
		return nil, 0, 0, apperr.New(apperr.KindDecode,
			fmt.Sprintf("raw pcm length %d is not a multiple of the %d-byte frame", len(data), frame))
	}
	return decodeLE16(data), p.channels, p.rate, nil
}
