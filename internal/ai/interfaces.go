package ai

import (
	"context"
)

// SessionConfig holds configuration for a realtime voice session.
type SessionConfig struct {
	Model             string
	Voice             string
	SystemInstruction string
	ResponseModality  string // "AUDIO" or "TEXT"
	InputSampleRate   int
	OutputSampleRate  int
}

// AudioChunk is one outbound capture window in wire form.
type AudioChunk struct {
	Data     string // transport-text-encoded PCM16
	MIMEType string
}

// ServerMessage is one inbound envelope from the realtime session. A single
// message may carry audio, a transcript fragment, an interruption signal, or
// any combination.
type ServerMessage struct {
	Audio        []byte // decoded PCM16 at the session's output sample rate
	Text         string // transcript delta, when the model emits one
	Interrupted  bool   // user barge-in: flush pending playback
	TurnComplete bool
}

// LiveSession is an open bidirectional streaming channel to the model.
// SendAudio preserves ordering per sender. Receive blocks until the next
// message or terminal error. Close is idempotent.
type LiveSession interface {
	SendAudio(chunk AudioChunk) error
	Receive() (*ServerMessage, error)
	Close() error
}

// RealtimeProvider opens realtime voice sessions.
type RealtimeProvider interface {
	Connect(ctx context.Context, config SessionConfig) (LiveSession, error)
}

// ChatMessage is one turn of a request/response conversation.
type ChatMessage struct {
	Role    string // "user" or "assistant"
	Content string
}

// ChatProvider answers a turn-based conversation with a single text reply.
type ChatProvider interface {
	ChatCompletion(ctx context.Context, systemInstruction string, history []ChatMessage, message string) (string, error)
}
