package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
)

const pcm16Scale = 32767

// FloatToPCM16 converts normalized samples in [-1.0, 1.0] to signed 16-bit
// PCM. Out-of-range samples are clamped before scaling, rounding half away
// from zero.
func FloatToPCM16(samples []float64) []int16 {
	pcm := make([]int16, len(samples))
	for i, sample := range samples {
		pcm[i] = int16(math.Round(max(-1, min(1, sample)) * pcm16Scale))
	}
	return pcm
}

// PCM16ToFloat is the inverse scaling of [FloatToPCM16]. Round trips are
// lossless up to int16 quantization.
func PCM16ToFloat(pcm []int16) []float64 {
	samples := make([]float64, len(pcm))
	for i, sample := range pcm {
		samples[i] = float64(sample) / pcm16Scale
	}
	return samples
}

// EncodeBase64 serializes samples as little-endian bytes and encodes them
// with standard base64.
func EncodeBase64(pcm []int16) string {
	buf := make([]byte, 2*len(pcm))
	for i, sample := range pcm {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(sample))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeBase64 reverses [EncodeBase64]. An empty string decodes to an empty
// slice. Invalid base64 or a payload whose byte length is not a multiple of
// two fails with a [MalformedAudioError].
func DecodeBase64(encoded string) ([]int16, error) {
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, &MalformedAudioError{Reason: fmt.Sprintf("invalid base64 payload: %v", err)}
	}
	if len(buf)%2 != 0 {
		return nil, &MalformedAudioError{Reason: fmt.Sprintf("pcm16 payload has odd byte length %d", len(buf))}
	}

	pcm := make([]int16, len(buf)/2)
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return pcm, nil
}

// MergeInt16 concatenates two sample slices preserving order. The result
// never aliases either input.
func MergeInt16(a, b []int16) []int16 {
	merged := make([]int16, 0, len(a)+len(b))
	merged = append(merged, a...)
	return append(merged, b...)
}
