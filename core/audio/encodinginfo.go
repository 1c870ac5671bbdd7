package audio

import "time"

const (
	DefaultSampleRate = 24000
	DefaultFormat     = "pcm16"
)

func GetDefaultEncodingInfo() EncodingInfo {
	return EncodingInfo{SampleRate: DefaultSampleRate, Format: encodingFormat(DefaultFormat)}
}

type EncodingInfo struct {
	SampleRate int
	Format     encodingFormat
}

func (e EncodingInfo) IsZero() bool {
	return e.SampleRate == 0 || e.Format.Name() == ""
}

type encodingFormat string

func (e encodingFormat) Name() string {
	return string(e)
}

func (e encodingFormat) ByteSize() int {
	switch e {
	case EncodingG711ULaw, EncodingG711ALaw:
		return 1
	case EncodingPCM16:
		return 2
	}
	return -1
}

const (
	EncodingPCM16    encodingFormat = "pcm16"
	EncodingG711ULaw encodingFormat = "g711_ulaw"
	EncodingG711ALaw encodingFormat = "g711_alaw"
)

// Duration converts a sample count to wall-clock playback time.
func Duration(sampleCount int, encodingInfo EncodingInfo) time.Duration {
	if encodingInfo.SampleRate == 0 {
		return 0
	}
	return time.Duration(float64(sampleCount) / float64(encodingInfo.SampleRate) * float64(time.Second))
}

// SamplesForDuration converts playback time to a sample count.
func SamplesForDuration(duration time.Duration, encodingInfo EncodingInfo) int {
	return int(float64(duration) / float64(time.Second) * float64(encodingInfo.SampleRate))
}
