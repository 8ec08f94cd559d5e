package insights

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestEncodePCM16(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"silence", 0, 0},
		{"full positive", 1, 32767},
		{"full negative", -1, -32767},
		{"half", 0.5, 16384},
		{"negative half", -0.5, -16384},
		{"clamped high", 1.7, 32767},
		{"clamped low", -3, -32767},
		{"positive infinity", float32(math.Inf(1)), 32767},
		{"negative infinity", float32(math.Inf(-1)), -32767},
		{"NaN", float32(math.NaN()), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := EncodePCM16([]float32{tt.in})
			if len(frame) != 2 {
				t.Fatalf("frame length = %d, want 2", len(frame))
			}
			got := int16(binary.LittleEndian.Uint16(frame))
			if got != tt.want {
				t.Errorf("EncodePCM16(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodePCM16RoundTripWithinOneStep(t *testing.T) {
	samples := make([]float32, 2001)
	for i := range samples {
		samples[i] = float32(i-1000) / 1000
	}
	frame := EncodePCM16(samples)
	if frame.Samples() != len(samples) {
		t.Fatalf("Samples() = %d, want %d", frame.Samples(), len(samples))
	}
	for i, s := range samples {
		got := int16(binary.LittleEndian.Uint16(frame[2*i:]))
		exact := float64(s) * 32767
		if math.Abs(float64(got)-exact) > 0.5 {
			t.Fatalf("sample %d: encoded %d, exact %f", i, got, exact)
		}
	}

	decoded := DecodePCM16(frame)
	for i := range samples {
		if diff := math.Abs(float64(decoded[i] - samples[i])); diff > 1.0/32767 {
			t.Fatalf("sample %d: decoded %f, want %f", i, decoded[i], samples[i])
		}
	}
}

func TestEncodePCM16Empty(t *testing.T) {
	if frame := EncodePCM16(nil); len(frame) != 0 {
		t.Errorf("EncodePCM16(nil) length = %d, want 0", len(frame))
	}
}

func TestEncodePCM16IntoPanicsOnLengthMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for mismatched destination")
		}
	}()
	EncodePCM16Into(make([]byte, 3), []float32{0, 0})
}

func TestEncodePCM16FullBuffer(t *testing.T) {
	frame := EncodePCM16(make([]float32, BufferSize))
	if len(frame) != 2*BufferSize {
		t.Errorf("frame length = %d, want %d", len(frame), 2*BufferSize)
	}
}
