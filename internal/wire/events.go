package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Event type identifiers for the realtime speech protocol. One JSON object per
// WebSocket message, discriminated by the "type" field.
const (
	// outbound
	TypeSessionUpdate    = "session.update"
	TypeInputAudioAppend = "input_audio_buffer.append"
	TypeInputAudioCommit = "input_audio_buffer.commit"
	TypeInputAudioClear  = "input_audio_buffer.clear"
	TypeItemCreate       = "conversation.item.create"
	TypeResponseCreate   = "response.create"
	TypeResponseCancel   = "response.cancel"

	// inbound
	TypeSessionCreated          = "session.created"
	TypeSessionUpdated          = "session.updated"
	TypeSpeechStarted           = "input_audio_buffer.speech_started"
	TypeSpeechStopped           = "input_audio_buffer.speech_stopped"
	TypeInputAudioCommitted     = "input_audio_buffer.committed"
	TypeResponseCreated         = "response.created"
	TypeResponseDone            = "response.done"
	TypeAudioDelta              = "response.audio.delta"
	TypeAudioDone               = "response.audio.done"
	TypeTextDelta               = "response.text.delta"
	TypeTextDone                = "response.text.done"
	TypeAudioTranscriptDelta    = "response.audio_transcript.delta"
	TypeAudioTranscriptDone     = "response.audio_transcript.done"
	TypeUserTranscriptCompleted = "conversation.item.input_audio_transcription.completed"
	TypeError                   = "error"
)

// Event is the tagged wire message. Only the fields relevant to a given type are
// populated; everything else stays at its zero value and is omitted on encode.
type Event struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`

	// session.update
	Session *SessionConfig `json:"session,omitempty"`

	// session.created / session.updated
	SessionInfo *SessionInfo `json:"-"`

	// input_audio_buffer.append, response.audio.delta (base64),
	// response.text.delta, response.audio_transcript.delta
	Audio string `json:"audio,omitempty"`
	Delta string `json:"delta,omitempty"`

	// conversation.item.create
	Item *Item `json:"item,omitempty"`

	// response.create / response.created / response.done
	Response *Response `json:"response,omitempty"`

	// correlation ids on response.* deltas
	ResponseID string `json:"response_id,omitempty"`
	ItemID     string `json:"item_id,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// error
	Error *ErrorDetail `json:"error,omitempty"`
}

// SessionInfo is the service-assigned session identity carried by
// session.created and session.updated events.
type SessionInfo struct {
	ID string `json:"id"`
}

// Item is one conversation item: a typed user message or a function call output.
type Item struct {
	Type    string        `json:"type"` // "message" or "function_call_output"
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

// ContentPart is a piece of item content; only input_text is sent by this client.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Response describes a response request (outbound) or lifecycle (inbound).
type Response struct {
	ID         string       `json:"id,omitempty"`
	Status     string       `json:"status,omitempty"`
	Modalities []string     `json:"modalities,omitempty"`
	Output     []OutputItem `json:"output,omitempty"`
}

// OutputItem is one element of a completed response's output. A function_call
// item carries the tool name, JSON-encoded arguments, and a call id to echo back.
type OutputItem struct {
	Type      string `json:"type"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`
}

// ErrorDetail is the payload of an inbound error event.
type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// NewEventID returns a fresh outbound event id with the evt_ prefix the service
// expects.
func NewEventID() string {
	return "evt_" + uuid.NewString()
}

// Decode parses one wire message. Messages without a type field are rejected so
// the caller can log and skip them.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("wire: decode: %w", err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("wire: message missing type field")
	}
	// session.created/updated nest the session object; reuse the raw payload so
	// the config struct does not need to round-trip service-side fields.
	if ev.Type == TypeSessionCreated || ev.Type == TypeSessionUpdated {
		var wrap struct {
			Session SessionInfo `json:"session"`
		}
		if err := json.Unmarshal(data, &wrap); err == nil {
			ev.SessionInfo = &wrap.Session
		}
	}
	return ev, nil
}

// Encode serialises an outbound event, stamping an event id if none is set.
func Encode(ev Event) ([]byte, error) {
	if ev.EventID == "" {
		ev.EventID = NewEventID()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", ev.Type, err)
	}
	return data, nil
}
