package audio

import (
	"encoding/binary"
	"math"
)

// ConvertSample maps a float sample in [-1,1] to signed 16-bit PCM.
// Negative values scale by 32768 and non-negative values by 32767, so both
// extremes are reachable without overflow.
func ConvertSample(sample float32) int16 {
	if sample != sample {
		return 0
	}
	if sample > 1 {
		sample = 1
	} else if sample < -1 {
		sample = -1
	}
	if sample < 0 {
		return int16(sample * 32768)
	}
	return int16(sample * 32767)
}

// ConvertSamples converts a block of float samples into a new PCM slice.
func ConvertSamples(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, sample := range samples {
		out[i] = ConvertSample(sample)
	}
	return out
}

// DecodeFloat32LE decodes little-endian float32 samples. Trailing bytes that
// do not form a whole sample are ignored.
func DecodeFloat32LE(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

// EncodePCM16LE serializes samples as 16-bit little-endian PCM.
func EncodePCM16LE(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out
}
