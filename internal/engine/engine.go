package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/liveconcierge/concierge/internal/ai"
	"github.com/liveconcierge/concierge/internal/audio"
	"github.com/liveconcierge/concierge/internal/lead"
	"github.com/liveconcierge/concierge/internal/prompt"
	"github.com/liveconcierge/concierge/pkg/logger"
)

// Status is the session lifecycle stage, independent of mode.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusActive     Status = "active"
	StatusError      Status = "error"
)

// Mode is the interaction channel currently engaged.
type Mode string

const (
	ModeNone  Mode = "none"
	ModeVoice Mode = "voice"
	ModeText  Mode = "text"
)

// ChatMessage is one transcript entry.
type ChatMessage struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// State is a read-only snapshot of the engine for the presentation layer.
type State struct {
	Status        Status        `json:"status"`
	Mode          Mode          `json:"mode"`
	IsSpeaking    bool          `json:"is_speaking"`
	ChatMessages  []ChatMessage `json:"chat_messages"`
	IsChatLoading bool          `json:"is_chat_loading"`
}

// Events are fire-and-forget notifications to the host application. All
// fields are optional.
type Events struct {
	OnLeadCaptured     func(lead.Signal)
	OnBookRequested    func(details map[string]any)
	OnHandoffRequested func()
	OnError            func(message string)
	OnSpeakingChanged  func(speaking bool)
	OnInterrupted      func()
}

// maxPendingChunks bounds the pre-open capture queue. At 256ms per chunk this
// is over 15 seconds of audio, far beyond any sane connection handshake.
const maxPendingChunks = 64

// DefaultVoiceModel is the Live API model used for voice sessions.
const DefaultVoiceModel = "gemini-2.5-flash-native-audio-preview-12-2025"

// Options tune engine construction. Zero values pick sensible defaults.
type Options struct {
	VoiceModel string
	Detector   lead.Detector
	Clock      audio.Clock // injectable for tests
}

// Engine is one visitor's concierge session: a state machine coordinating the
// capture pipeline, the realtime transport and the playback scheduler on the
// voice path, and the turn-based chat provider on the text path. Each widget
// instance owns exactly one Engine; nothing here is shared globally.
type Engine struct {
	agent             *prompt.AgentConfig
	systemInstruction string
	realtime          ai.RealtimeProvider
	chat              ai.ChatProvider
	detector          lead.Detector
	events            Events
	voiceModel        string
	clock             audio.Clock
	logger            *logger.Logger

	mu          sync.Mutex
	status      Status
	mode        Mode
	messages    []ChatMessage
	chatLoading bool

	// voice-path resources, nil outside a voice session
	session   ai.LiveSession
	capture   *audio.CapturePipeline
	scheduler *audio.Scheduler

	// pre-open send gate
	ready   bool
	pending []ai.AudioChunk

	// generation counter closes the stop-during-connect race: a stop bumps
	// it, so a connect that resolves afterwards sees a stale generation and
	// closes the fresh handle instead of installing it.
	gen int

	// assistant transcript accumulator for the current voice turn
	turnText string
}

// New creates an idle engine for the given agent configuration.
func New(agent *prompt.AgentConfig, realtime ai.RealtimeProvider, chat ai.ChatProvider, events Events, opts Options, log *logger.Logger) *Engine {
	detector := opts.Detector
	if detector == nil {
		detector = lead.Heuristic{}
	}
	model := opts.VoiceModel
	if model == "" {
		model = DefaultVoiceModel
	}
	return &Engine{
		agent:             agent,
		systemInstruction: prompt.SystemInstruction(agent),
		realtime:          realtime,
		chat:              chat,
		detector:          detector,
		events:            events,
		voiceModel:        model,
		clock:             opts.Clock,
		logger:            log.Named("engine"),
		status:            StatusIdle,
		mode:              ModeNone,
	}
}

// State returns a snapshot of the observable engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	speaking := false
	if e.scheduler != nil {
		speaking = e.scheduler.IsSpeaking()
	}
	msgs := make([]ChatMessage, len(e.messages))
	copy(msgs, e.messages)

	return State{
		Status:        e.status,
		Mode:          e.mode,
		IsSpeaking:    speaking,
		ChatMessages:  msgs,
		IsChatLoading: e.chatLoading,
	}
}

// StartVoiceSession opens the realtime transport and wires the audio loop:
// source frames are captured, encoded and sent upstream; returned audio is
// scheduled on the sink. Blocks until the transport is open or fails.
// Returns ErrState if the engine is not idle.
func (e *Engine) StartVoiceSession(ctx context.Context, source audio.FrameSource, sink audio.Sink) error {
	if e.realtime == nil {
		return fmt.Errorf("%w: no realtime provider", ErrConfiguration)
	}

	e.mu.Lock()
	if e.status != StatusIdle {
		current := e.status
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot start voice session while %s", ErrState, current)
	}
	e.status = StatusConnecting
	e.mode = ModeVoice
	e.gen++
	gen := e.gen
	e.ready = false
	e.pending = nil
	e.turnText = ""

	clock := e.clock
	if clock == nil {
		clock = audio.NewMonotonicClock()
	}
	e.scheduler = audio.NewScheduler(clock, sink, e.events.OnSpeakingChanged, e.logger)
	e.capture = audio.NewCapturePipeline(e.handleChunk, e.handleCaptureError, e.logger)
	capture := e.capture
	scheduler := e.scheduler
	e.mu.Unlock()

	e.logger.Info("Starting voice session",
		logger.String("business", e.agent.BusinessName),
		logger.String("voice", e.agent.VoiceName))

	// Capture starts before the transport resolves; chunks produced in the
	// window are held by the pre-open gate in handleChunk.
	if err := capture.Start(source); err != nil {
		e.failVoice(gen, fmt.Errorf("%w: %v", ErrPermission, err))
		return fmt.Errorf("%w: %v", ErrPermission, err)
	}

	session, err := e.realtime.Connect(ctx, ai.SessionConfig{
		Model:             e.voiceModel,
		Voice:             e.agent.VoiceName,
		SystemInstruction: e.systemInstruction,
		ResponseModality:  "AUDIO",
		InputSampleRate:   audio.CaptureSampleRate,
		OutputSampleRate:  audio.PlaybackSampleRate,
	})
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrConnection, err)
		e.failVoice(gen, wrapped)
		return wrapped
	}

	e.mu.Lock()
	if e.gen != gen || e.status != StatusConnecting {
		// Stop arrived while the handshake was in flight. The late handle
		// must still be closed, and so must the capture pipeline: a stop
		// that raced our capture.Start found nothing to stop.
		e.mu.Unlock()
		session.Close()
		capture.Stop()
		scheduler.Teardown()
		return fmt.Errorf("%w: session stopped while connecting", ErrState)
	}
	e.session = session
	e.status = StatusActive
	e.ready = true
	pending := e.pending
	e.pending = nil
	// Flushing under the lock keeps flushed chunks ahead of any chunk that
	// arrives concurrently through handleChunk.
	for _, chunk := range pending {
		if err := session.SendAudio(chunk); err != nil {
			e.logger.Warn("Failed to flush buffered capture chunk", logger.Error(err))
			break
		}
	}
	e.mu.Unlock()

	e.logger.Info("Voice session active", logger.Int("flushed_chunks", len(pending)))

	go e.receiveLoop(gen, session)
	return nil
}

// handleChunk is the capture sink. Before the transport opens, chunks queue
// in arrival order up to maxPendingChunks; overflow drops the oldest.
func (e *Engine) handleChunk(chunk audio.Chunk) {
	out := ai.AudioChunk{Data: chunk.Data, MIMEType: chunk.MIMEType}

	e.mu.Lock()
	if !e.ready {
		if e.status != StatusConnecting {
			e.mu.Unlock()
			return
		}
		if len(e.pending) >= maxPendingChunks {
			e.pending = e.pending[1:]
			e.logger.Warn("Pre-open capture queue full, dropping oldest chunk")
		}
		e.pending = append(e.pending, out)
		e.mu.Unlock()
		return
	}
	session := e.session
	e.mu.Unlock()

	if session == nil {
		return
	}
	if err := session.SendAudio(out); err != nil {
		e.logger.Debug("Capture send failed", logger.Error(err))
	}
}

func (e *Engine) handleCaptureError(err error) {
	e.surfaceError(fmt.Errorf("%w: %v", ErrPermission, err))
	e.StopSession()
}

// receiveLoop pumps transport messages into the playback scheduler until the
// session ends. Runs once per voice session.
func (e *Engine) receiveLoop(gen int, session ai.LiveSession) {
	for {
		msg, err := session.Receive()
		if err != nil {
			e.mu.Lock()
			stale := e.gen != gen
			e.mu.Unlock()
			if stale {
				// StopSession already tore everything down.
				return
			}
			if contextCause(err) {
				e.logger.Debug("Voice session closed", logger.Error(err))
				e.StopSession()
			} else {
				e.logger.Warn("Voice transport ended", logger.Error(err))
				e.failVoice(gen, fmt.Errorf("%w: %v", ErrConnection, err))
			}
			return
		}

		e.mu.Lock()
		scheduler := e.scheduler
		stale := e.gen != gen
		e.mu.Unlock()
		if stale || scheduler == nil {
			return
		}

		if msg.Interrupted {
			e.logger.Debug("Barge-in: flushing playback")
			scheduler.Interrupt()
			if e.events.OnInterrupted != nil {
				e.events.OnInterrupted()
			}
		}
		if len(msg.Audio) > 0 {
			if _, err := scheduler.Enqueue(audio.Buffer{
				PCM:        msg.Audio,
				SampleRate: audio.PlaybackSampleRate,
			}); err != nil {
				e.logger.Debug("Dropping audio for torn-down scheduler", logger.Error(err))
			}
		}
		if msg.Text != "" || msg.TurnComplete {
			e.recordVoiceTranscript(gen, msg.Text, msg.TurnComplete)
		}
	}
}

// recordVoiceTranscript accumulates assistant text deltas and commits a
// transcript entry when the turn completes.
func (e *Engine) recordVoiceTranscript(gen int, delta string, turnComplete bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen != gen {
		return
	}
	e.turnText += delta
	if turnComplete && e.turnText != "" {
		e.messages = append(e.messages, ChatMessage{Role: "assistant", Text: e.turnText})
		e.turnText = ""
	}
}

// failVoice transitions a failed start through the error state and tears the
// session down, leaving the engine idle and recoverable.
func (e *Engine) failVoice(gen int, err error) {
	e.mu.Lock()
	if e.gen == gen && (e.status == StatusConnecting || e.status == StatusActive) {
		e.status = StatusError
	}
	e.mu.Unlock()

	e.surfaceError(err)
	e.StopSession()
}

func (e *Engine) surfaceError(err error) {
	e.logger.Error("Engine error", logger.Error(err))
	if e.events.OnError != nil {
		e.events.OnError(err.Error())
	}
}

// StopSession is the single cancellation point. It closes the transport,
// stops capture, tears down playback and resets all state. Callable from any
// state, any number of times; a stop during connection establishment is
// honored once the open resolves.
func (e *Engine) StopSession() {
	e.mu.Lock()
	e.gen++
	session := e.session
	capture := e.capture
	scheduler := e.scheduler
	e.session = nil
	e.capture = nil
	e.scheduler = nil
	e.ready = false
	e.pending = nil
	e.turnText = ""
	e.messages = nil
	e.chatLoading = false
	e.status = StatusIdle
	e.mode = ModeNone
	e.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			e.logger.Debug("Session close error", logger.Error(err))
		}
	}
	if capture != nil {
		capture.Stop()
	}
	if scheduler != nil {
		scheduler.Teardown()
	}

	if session != nil || capture != nil || scheduler != nil {
		e.logger.Info("Session stopped")
	}
}

// contextCause reports whether err stems from context cancellation, i.e. an
// orderly local shutdown rather than a transport fault.
func contextCause(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
