package audio

import (
	"encoding/binary"
	"math"
)

// resample converts interleaved 16-bit frames from src to dst Hz using linear
// interpolation. Integer positions keep the output deterministic.
func resample(samples []int16, channels, src, dst int) []int16 {
	if src == dst || len(samples) == 0 {
		return samples
	}

	inFrames := len(samples) / channels
	outFrames := int(int64(inFrames) * int64(dst) / int64(src))
	if outFrames == 0 {
		outFrames = 1
	}

	out := make([]int16, outFrames*channels)
	for i := 0; i < outFrames; i++ {
		num := int64(i) * int64(src)
		idx := int(num / int64(dst))
		frac := float64(num%int64(dst)) / float64(dst)

		next := idx + 1
		if next >= inFrames {
			next = inFrames - 1
		}
		if idx >= inFrames {
			idx = inFrames - 1
		}

		for ch := 0; ch < channels; ch++ {
			a := float64(samples[idx*channels+ch])
			b := float64(samples[next*channels+ch])
			out[i*channels+ch] = clamp16(a + (b-a)*frac)
		}
	}
	return out
}

// remix converts the channel layout. target 0 keeps the source layout.
func remix(samples []int16, from, target int) ([]int16, int) {
	if target == 0 || target == from {
		return samples, from
	}

	frames := len(samples) / from
	out := make([]int16, frames*target)

	for f := 0; f < frames; f++ {
		frame := samples[f*from : (f+1)*from]
		switch {
		case target == 1:
			var sum int
			for _, s := range frame {
				sum += int(s)
			}
			out[f] = int16(sum / from)
		case from == 1:
			for ch := 0; ch < target; ch++ {
				out[f*target+ch] = frame[0]
			}
		default:
			// Keep the leading channels, repeat the last one if the source has fewer.
			for ch := 0; ch < target; ch++ {
				out[f*target+ch] = frame[min(ch, from-1)]
			}
		}
	}
	return out, target
}

func clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// scaleTo16 converts a decoded sample of the given bit depth to 16 bits.
// 8-bit WAV is unsigned with a 128 midpoint.
func scaleTo16(v, bitDepth int) int16 {
	switch bitDepth {
	case 8:
		return int16((v - 128) << 8)
	case 16:
		return int16(v)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	}
	return int16(v)
}

func decodeLE16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

func encodeLE16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
