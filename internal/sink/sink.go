// Package sink defines the presentation boundary: a pure consumer of session
// events that renders transcripts and notices. Implementations must not block
// and must render in the order called.
package sink

// ErrorKind classifies user-visible failures.
type ErrorKind string

const (
	ErrorChannelClosed     ErrorKind = "channel_closed"
	ErrorConfigRejected    ErrorKind = "config_rejected"
	ErrorDeviceUnavailable ErrorKind = "device_unavailable"
	ErrorService           ErrorKind = "service_error"
)

// Sink receives rendering events from the session controller. A non-final user
// transcript is a placeholder that the final transcript replaces in place;
// assistant deltas display as an append-only stream closed by OnAssistantDone.
type Sink interface {
	OnSystemMessage(text string)
	OnUserTranscript(text string, final bool)
	OnAssistantText(delta string)
	OnAssistantDone(final string)
	OnError(kind ErrorKind, detail string)
}
