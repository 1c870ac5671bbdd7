package audio

// MalformedAudioError reports an audio payload that could not be decoded.
// A single malformed payload is discardable; it never tears down the stream
// that carried it.
type MalformedAudioError struct {
	Reason string
}

func (e *MalformedAudioError) Error() string {
	return "malformed audio: " + e.Reason
}
