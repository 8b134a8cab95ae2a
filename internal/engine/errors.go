package engine

import "errors"

// Failure classes surfaced by the engine. Callers match with errors.Is; the
// human-readable wrapping message is what reaches the host's OnError hook.
var (
	// ErrState is returned when an operation is not legal in the current
	// session state, e.g. starting a session while one is already running.
	ErrState = errors.New("invalid session state")

	// ErrPermission indicates the audio input device was unavailable or
	// access was denied. It originates in the capture source, not here.
	ErrPermission = errors.New("audio input unavailable")

	// ErrConnection covers realtime transport open and mid-session failures.
	ErrConnection = errors.New("realtime connection failed")

	// ErrChatRequest covers failures of the request/response chat endpoint.
	ErrChatRequest = errors.New("chat request failed")

	// ErrConfiguration indicates a missing credential or config at startup.
	ErrConfiguration = errors.New("configuration incomplete")
)
