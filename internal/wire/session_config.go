package wire

// SessionConfig is the outbound session.update payload. Field shapes follow the
// service's realtime API; zero-valued optional sections are omitted.
type SessionConfig struct {
	InputAudioSamplingRate int                 `json:"input_audio_sampling_rate,omitempty"`
	InputAudioFormat       string              `json:"input_audio_format,omitempty"`
	OutputAudioFormat      string              `json:"output_audio_format,omitempty"`
	Instructions           string              `json:"instructions,omitempty"`
	Voice                  *VoiceConfig        `json:"voice,omitempty"`
	TurnDetection          *TurnDetection      `json:"turn_detection,omitempty"`
	NoiseReduction         *ProcessingMode     `json:"input_audio_noise_reduction,omitempty"`
	EchoCancellation       *ProcessingMode     `json:"input_audio_echo_cancellation,omitempty"`
	InputTranscription     *TranscriptionModel `json:"input_audio_transcription,omitempty"`
	Tools                  []ToolDefinition    `json:"tools,omitempty"`
	ToolChoice             string              `json:"tool_choice,omitempty"`
}

// VoiceConfig selects the synthesis voice: name, engine identifier and an
// expressiveness temperature.
type VoiceConfig struct {
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Temperature float64 `json:"temperature,omitempty"`
}

// TurnDetection configures service-side VAD. Two presets are supported: plain
// threshold VAD and semantic VAD with an end-of-utterance model. Which one
// applies is a configuration choice, not a hard-coded default.
type TurnDetection struct {
	Type              string        `json:"type"`
	Threshold         float64       `json:"threshold,omitempty"`
	PrefixPaddingMs   int           `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int           `json:"silence_duration_ms,omitempty"`
	RemoveFillerWords bool          `json:"remove_filler_words,omitempty"`
	EndOfUtterance    *EOUDetection `json:"end_of_utterance_detection,omitempty"`
}

// EOUDetection tunes the semantic end-of-utterance model.
type EOUDetection struct {
	Model     string  `json:"model"`
	Threshold float64 `json:"threshold,omitempty"`
	Timeout   float64 `json:"timeout,omitempty"`
}

// ProcessingMode names a server-side audio processing stage.
type ProcessingMode struct {
	Type string `json:"type"`
}

// TranscriptionModel selects the model used for user input transcription.
type TranscriptionModel struct {
	Model string `json:"model"`
}

// ToolDefinition declares a callable tool to the service. The schema is opaque
// to this client; it is forwarded verbatim.
type ToolDefinition struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Turn detection preset names accepted in configuration.
const (
	TurnDetectionServerVAD   = "server_vad"
	TurnDetectionSemanticVAD = "semantic_vad"
)

// ServerVADPreset returns the fixed-threshold VAD configuration.
func ServerVADPreset() *TurnDetection {
	return &TurnDetection{
		Type:              TurnDetectionServerVAD,
		Threshold:         0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 500,
	}
}

// SemanticVADPreset returns the semantic VAD configuration with end-of-utterance
// detection enabled.
func SemanticVADPreset() *TurnDetection {
	return &TurnDetection{
		Type:              TurnDetectionSemanticVAD,
		Threshold:         0.3,
		PrefixPaddingMs:   200,
		SilenceDurationMs: 200,
		RemoveFillerWords: false,
		EndOfUtterance: &EOUDetection{
			Model:     "semantic_detection_v1",
			Threshold: 0.01,
			Timeout:   2,
		},
	}
}
