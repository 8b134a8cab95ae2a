package api

import (
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/liveconcierge/concierge/internal/audio"
	"github.com/liveconcierge/concierge/internal/concierge"
	"github.com/liveconcierge/concierge/internal/engine"
	"github.com/liveconcierge/concierge/internal/storage/sqlite"
	"github.com/liveconcierge/concierge/pkg/logger"
)

// SafeWebSocketConn wraps a WebSocket connection with a mutex for thread-safe
// writes. Reads stay single-threaded in the handler loop.
type SafeWebSocketConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewSafeWebSocketConn creates a new safe WebSocket connection wrapper.
func NewSafeWebSocketConn(conn *websocket.Conn) *SafeWebSocketConn {
	return &SafeWebSocketConn{conn: conn}
}

// WriteJSON safely writes a JSON message to the WebSocket connection.
func (s *SafeWebSocketConn) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// ReadJSON reads a JSON message from the WebSocket connection.
func (s *SafeWebSocketConn) ReadJSON(v any) error {
	return s.conn.ReadJSON(v)
}

// Close closes the WebSocket connection.
func (s *SafeWebSocketConn) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// clientMessage is what the widget sends over the voice socket.
type clientMessage struct {
	Type string `json:"type"`           // "audio" or "stop"
	Data string `json:"data,omitempty"` // base64 PCM16 @16kHz for "audio"
}

// serverMessage is what the server sends over the voice socket.
type serverMessage struct {
	Type     string `json:"type"` // "ready", "audio", "interrupted", "speaking", "error"
	Data     string `json:"data,omitempty"`
	Speaking bool   `json:"speaking,omitempty"`
	Error    string `json:"error,omitempty"`
}

// VoiceHandlers bridges browser WebSocket connections to voice engines.
type VoiceHandlers struct {
	service  *concierge.Service
	logger   *logger.Logger
	upgrader websocket.Upgrader
}

// NewVoiceHandlers creates the voice WebSocket handlers.
func NewVoiceHandlers(service *concierge.Service, log *logger.Logger) *VoiceHandlers {
	return &VoiceHandlers{
		service: service,
		logger:  log.Named("voice-handlers"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// The widget is embedded on arbitrary customer pages.
				return true
			},
		},
	}
}

// wsFrameSource adapts inbound socket audio into an audio.FrameSource. The
// read loop pushes decoded frames; ReadFrame pops them.
type wsFrameSource struct {
	frames chan []float32
	done   chan struct{}
	once   sync.Once
}

func newWSFrameSource() *wsFrameSource {
	return &wsFrameSource{
		frames: make(chan []float32, 32),
		done:   make(chan struct{}),
	}
}

func (s *wsFrameSource) ReadFrame() ([]float32, error) {
	select {
	case frame, ok := <-s.frames:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-s.done:
		return nil, io.EOF
	}
}

func (s *wsFrameSource) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// push hands a decoded frame to the pipeline, dropping it if the session is
// closing or the pipeline is saturated. Dropped capture audio is recoverable;
// a blocked read loop is not.
func (s *wsFrameSource) push(frame []float32) bool {
	select {
	case <-s.done:
		return false
	case s.frames <- frame:
		return true
	default:
		return false
	}
}

// wsSink forwards scheduled playback buffers to the widget. The socket is
// owned by the handler, so Close is a no-op.
type wsSink struct {
	conn   *SafeWebSocketConn
	logger *logger.Logger
}

func (s *wsSink) Play(buf audio.Buffer) error {
	return s.conn.WriteJSON(serverMessage{
		Type: "audio",
		Data: audio.EncodeTransport(buf.PCM),
	})
}

func (s *wsSink) Close() error { return nil }

// VoiceSession upgrades the connection and runs one voice session for the
// requested agent until the socket closes or the engine fails.
func (h *VoiceHandlers) VoiceSession(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", logger.Error(err))
		return
	}
	safeConn := NewSafeWebSocketConn(conn)
	defer safeConn.Close()

	source := newWSFrameSource()
	sink := &wsSink{conn: safeConn, logger: h.logger}

	eng, record, err := h.service.NewVoiceEngine(agentID, engine.Events{
		OnSpeakingChanged: func(speaking bool) {
			if err := safeConn.WriteJSON(serverMessage{Type: "speaking", Speaking: speaking}); err != nil {
				h.logger.Debug("Failed to send speaking update", logger.Error(err))
			}
		},
		OnInterrupted: func() {
			if err := safeConn.WriteJSON(serverMessage{Type: "interrupted"}); err != nil {
				h.logger.Debug("Failed to send interrupt notice", logger.Error(err))
			}
		},
		OnError: func(message string) {
			if err := safeConn.WriteJSON(serverMessage{Type: "error", Error: message}); err != nil {
				h.logger.Debug("Failed to send error notice", logger.Error(err))
			}
		},
	})
	if err != nil {
		status := "agent lookup failed"
		if errors.Is(err, sqlite.ErrAgentNotFound) {
			status = "agent not found"
		}
		safeConn.WriteJSON(serverMessage{Type: "error", Error: status})
		return
	}

	h.logger.Info("Voice connection opened",
		logger.String("agent_id", record.ID),
		logger.String("business", record.Config.BusinessName),
		logger.String("remote", r.RemoteAddr))

	if err := eng.StartVoiceSession(r.Context(), source, sink); err != nil {
		h.logger.Warn("Voice session start failed", logger.Error(err))
		safeConn.WriteJSON(serverMessage{Type: "error", Error: "failed to start voice session"})
		return
	}
	defer eng.StopSession()

	if err := safeConn.WriteJSON(serverMessage{Type: "ready"}); err != nil {
		h.logger.Debug("Failed to send ready notice", logger.Error(err))
		return
	}

	// Read loop: decode inbound microphone audio until the socket drops.
	for {
		var msg clientMessage
		if err := safeConn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Voice connection read error", logger.Error(err))
			}
			break
		}

		switch msg.Type {
		case "audio":
			pcm, err := audio.DecodeTransport(msg.Data)
			if err != nil {
				h.logger.Debug("Invalid audio payload", logger.Error(err))
				continue
			}
			channels, err := audio.PCM16ToFloat(pcm, 1)
			if err != nil {
				h.logger.Debug("Invalid PCM frame", logger.Error(err))
				continue
			}
			if !source.push(channels[0]) {
				h.logger.Debug("Dropped inbound audio frame")
			}
		case "stop":
			h.logger.Debug("Client requested stop")
			eng.StopSession()
			return
		default:
			h.logger.Debug("Unknown voice message type", logger.String("type", msg.Type))
		}
	}

	h.logger.Info("Voice connection closed", logger.String("agent_id", record.ID))
}
