// Package frame implements the PCM plumbing shared by the capture and
// playback paths: channel down-mix, S16LE byte conversion and fixed-size
// framing. Everything here is allocation-conscious because the capture side
// runs on the host audio callback thread.
package frame

import "encoding/binary"

// Clamp saturates v to the int16 sample range.
func Clamp(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// Downmix appends src to dst as mono samples. Mono input is appended as-is.
// Multi-channel input is interpreted as interleaved frames and reduced by
// arithmetic mean with a saturating clamp; a trailing partial frame is
// averaged over the samples present.
func Downmix(dst, src []int16, channels int) []int16 {
	if channels <= 1 {
		return append(dst, src...)
	}
	for i := 0; i < len(src); i += channels {
		end := i + channels
		if end > len(src) {
			end = len(src)
		}
		sum := 0
		for _, s := range src[i:end] {
			sum += int(s)
		}
		dst = append(dst, Clamp(sum/(end-i)))
	}
	return dst
}

// Bytes serializes samples as little-endian 16-bit PCM.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Samples deserializes little-endian 16-bit PCM. A trailing odd byte is
// ignored.
func Samples(data []byte) []int16 {
	n := len(data) / 2
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}

// Accumulator buffers mono samples and drains them in fixed-size frames.
// Push may grow the scratch buffer; Next shifts consumed samples down so
// capacity is reused, keeping allocation amortized-bounded on the hot path.
type Accumulator struct {
	samples      []int16
	frameSamples int
}

// NewAccumulator returns an accumulator producing frames of frameSamples
// mono samples each.
func NewAccumulator(frameSamples int) *Accumulator {
	return &Accumulator{
		samples:      make([]int16, 0, frameSamples*2),
		frameSamples: frameSamples,
	}
}

// Push down-mixes src (interleaved, channels wide) into the buffer.
func (a *Accumulator) Push(src []int16, channels int) {
	a.samples = Downmix(a.samples, src, channels)
}

// Next drains one frame as S16LE bytes. ok is false while fewer than
// frameSamples samples are buffered.
func (a *Accumulator) Next() (data []byte, ok bool) {
	if len(a.samples) < a.frameSamples {
		return nil, false
	}
	data = Bytes(a.samples[:a.frameSamples])
	n := copy(a.samples, a.samples[a.frameSamples:])
	a.samples = a.samples[:n]
	return data, true
}

// Len returns the number of buffered samples not yet drained.
func (a *Accumulator) Len() int { return len(a.samples) }

// Reset discards any buffered samples.
func (a *Accumulator) Reset() { a.samples = a.samples[:0] }
