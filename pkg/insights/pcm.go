package insights

import (
	"encoding/binary"
	"fmt"
	"math"
)

const pcmScale = 32767

// AudioFrame is one encoded capture buffer: little-endian int16 samples, mono, 16 kHz.
// It is not reused after it has been handed to the transport.
type AudioFrame []byte

// Samples returns the number of int16 samples in the frame.
func (f AudioFrame) Samples() int {
	return len(f) / 2
}

// EncodePCM16 converts float samples to 16-bit signed little-endian PCM.
func EncodePCM16(samples []float32) AudioFrame {
	out := make([]byte, 2*len(samples))
	EncodePCM16Into(out, samples)
	return out
}

// EncodePCM16Into writes the encoding of samples into dst, which must be exactly
// 2*len(samples) bytes long.
func EncodePCM16Into(dst []byte, samples []float32) {
	if len(dst) != 2*len(samples) {
		panic(fmt.Sprintf("insights: pcm destination is %d bytes, need %d", len(dst), 2*len(samples)))
	}
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[2*i:], uint16(quantize(s)))
	}
}

// quantize maps one sample to int16. Values are clamped before scaling so they
// never wrap; NaN encodes as silence.
func quantize(s float32) int16 {
	x := float64(s)
	switch {
	case math.IsNaN(x):
		return 0
	case x > 1:
		x = 1
	case x < -1:
		x = -1
	}
	return int16(math.Round(x * pcmScale))
}

// DecodePCM16 is the inverse of EncodePCM16, returning samples scaled back to [-1, 1].
func DecodePCM16(frame []byte) []float32 {
	out := make([]float32, len(frame)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(frame[2*i:]))) / pcmScale
	}
	return out
}
