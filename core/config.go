package realtime

import (
	"fmt"
	"slices"

	"github.com/jinzhu/copier"
)

const (
	// Defaults mirror the remote service's session defaults.
	defaultVoice              = "verse"
	defaultAudioFormat        = "pcm16"
	defaultTranscriptionModel = "whisper-1"
	defaultTemperature        = 0.8
	defaultMaxResponseTokens  = 4096
)

var validModalities = []string{"text", "audio"}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// SessionConfig is the session-level configuration owned by the client.
// Updates are merged field by field; zero values leave the staged value
// untouched, so partial updates work the way the remote protocol's
// session.update does.
type SessionConfig struct {
	SystemPrompt       string
	Voice              string
	Modalities         []string
	InputAudioFormat   string
	OutputAudioFormat  string
	TranscriptionModel string
	Temperature        float64
	MaxResponseTokens  int
	TurnDetection      *TurnDetection
}

// DefaultSessionConfig returns the configuration a fresh session starts
// with.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Voice:              defaultVoice,
		Modalities:         []string{"text", "audio"},
		InputAudioFormat:   defaultAudioFormat,
		OutputAudioFormat:  defaultAudioFormat,
		TranscriptionModel: defaultTranscriptionModel,
		Temperature:        defaultTemperature,
		MaxResponseTokens:  defaultMaxResponseTokens,
		TurnDetection:      &TurnDetection{Type: "server_vad"},
	}
}

// Validate rejects configurations the remote service would refuse.
func (c SessionConfig) Validate() error {
	for _, modality := range c.Modalities {
		if !slices.Contains(validModalities, modality) {
			return fmt.Errorf("invalid modality %q", modality)
		}
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature %v out of range [0, 2]", c.Temperature)
	}
	if c.MaxResponseTokens < 0 {
		return fmt.Errorf("max response tokens must not be negative, got %d", c.MaxResponseTokens)
	}
	if c.InputAudioFormat != "" && !isSupportedFormat(c.InputAudioFormat) {
		return fmt.Errorf("unsupported input audio format %q", c.InputAudioFormat)
	}
	if c.OutputAudioFormat != "" && !isSupportedFormat(c.OutputAudioFormat) {
		return fmt.Errorf("unsupported output audio format %q", c.OutputAudioFormat)
	}
	return nil
}

func isSupportedFormat(format string) bool {
	return format == "pcm16" || format == "g711_ulaw" || format == "g711_alaw"
}

// merge folds a partial update into the staged configuration, ignoring zero
// fields.
func (c *SessionConfig) merge(update SessionConfig) error {
	if err := copier.CopyWithOption(c, &update, copier.Option{IgnoreEmpty: true}); err != nil {
		return fmt.Errorf("failed to merge session config: %w", err)
	}
	return nil
}

// payload renders the configuration and enabled tools as the body of a
// session.update event.
func (c SessionConfig) payload(tools []ToolDefinition) map[string]any {
	body := map[string]any{
		"instructions":        c.SystemPrompt,
		"voice":               c.Voice,
		"modalities":          c.Modalities,
		"input_audio_format":  c.InputAudioFormat,
		"output_audio_format": c.OutputAudioFormat,
		"temperature":         c.Temperature,
	}
	if c.TranscriptionModel != "" {
		body["input_audio_transcription"] = map[string]any{"model": c.TranscriptionModel}
	}
	if c.MaxResponseTokens > 0 {
		body["max_response_output_tokens"] = c.MaxResponseTokens
	}
	if c.TurnDetection != nil {
		body["turn_detection"] = c.TurnDetection
	}

	descriptors := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		descriptor := map[string]any{
			"type": "function",
			"name": tool.Name,
		}
		if tool.Description != "" {
			descriptor["description"] = tool.Description
		}
		if tool.InputSchema != nil {
			descriptor["parameters"] = tool.InputSchema
		}
		descriptors = append(descriptors, descriptor)
	}
	body["tools"] = descriptors
	return body
}
