package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liveconcierge/concierge/internal/ai"
	"github.com/liveconcierge/concierge/pkg/logger"
)

const (
	// DefaultHost is the default host for the Gemini API.
	DefaultHost = "generativelanguage.googleapis.com"
	// DefaultLivePath is the WebSocket path for BidiGenerateContent.
	DefaultLivePath = "/ws/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContent"
)

// Client talks to the Gemini API: realtime voice over the Live WebSocket and
// turn-based chat over the official SDK (see chat.go).
type Client struct {
	apiKey string
	host   string
	logger *logger.Logger
	dialer *websocket.Dialer
	chat   *chatClient
}

// NewClient creates a Gemini client for both realtime and chat use.
func NewClient(ctx context.Context, apiKey, chatModel string, log *logger.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	chat, err := newChatClient(ctx, apiKey, chatModel)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat client: %w", err)
	}
	return &Client{
		apiKey: apiKey,
		host:   DefaultHost,
		logger: log.Named("gemini"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
		chat: chat,
	}, nil
}

// setup message shapes for the Live API

type setupMessage struct {
	Setup setupBody `json:"setup"`
}

type setupBody struct {
	Model             string           `json:"model"`
	GenerationConfig  generationConfig `json:"generation_config"`
	SystemInstruction *content         `json:"system_instruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"response_modalities"`
	SpeechConfig       *speechConfig `json:"speech_config,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voice_config"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuilt_voice_config"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voice_name"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

// outbound realtime frames

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtime_input"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"media_chunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// inbound server frames

type serverFrame struct {
	ServerContent *serverContent `json:"serverContent"`
	SetupComplete *struct{}      `json:"setupComplete"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn"`
	Interrupted  bool       `json:"interrupted"`
	TurnComplete bool       `json:"turnComplete"`
}

type modelTurn struct {
	Parts []modelPart `json:"parts"`
}

type modelPart struct {
	Text       string      `json:"text"`
	InlineData *inlineData `json:"inlineData"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// liveSession wraps one Live API WebSocket connection.
type liveSession struct {
	conn   *websocket.Conn
	logger *logger.Logger

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// Connect dials the Live API, sends the setup message and returns the open
// session. The returned session is ready for SendAudio/Receive.
func (c *Client) Connect(ctx context.Context, config ai.SessionConfig) (ai.LiveSession, error) {
	u := url.URL{
		Scheme: "wss",
		Host:   c.host,
		Path:   DefaultLivePath,
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	c.logger.Info("Connecting to Gemini Live API",
		logger.String("model", config.Model),
		logger.String("voice", config.Voice))

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			c.logger.Error("Gemini WebSocket handshake failed",
				logger.Int("status_code", resp.StatusCode),
				logger.String("status", resp.Status))
		}
		return nil, fmt.Errorf("failed to dial Gemini Live API: %w", err)
	}

	model := config.Model
	if !containsSlash(model) {
		model = "models/" + model
	}

	modality := config.ResponseModality
	if modality == "" {
		modality = "AUDIO"
	}

	setup := setupMessage{
		Setup: setupBody{
			Model: model,
			GenerationConfig: generationConfig{
				ResponseModalities: []string{modality},
			},
		},
	}
	if config.Voice != "" {
		setup.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: config.Voice},
			},
		}
	}
	if config.SystemInstruction != "" {
		setup.Setup.SystemInstruction = &content{
			Parts: []part{{Text: config.SystemInstruction}},
		}
	}

	if err := conn.WriteJSON(setup); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send setup to Gemini: %w", err)
	}

	return &liveSession{
		conn:   conn,
		logger: c.logger.Named("live-session"),
	}, nil
}

// SendAudio forwards one capture chunk as realtime input.
func (s *liveSession) SendAudio(chunk ai.AudioChunk) error {
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: chunk.MIMEType, Data: chunk.Data},
			},
		},
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send audio chunk: %w", err)
	}
	return nil
}

// Receive blocks for the next server message, skipping frames that carry
// nothing the engine acts on.
func (s *liveSession) Receive() (*ai.ServerMessage, error) {
	for {
		var frame serverFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			return nil, err
		}

		if frame.ServerContent == nil {
			// setupComplete and other control frames
			continue
		}

		msg := &ai.ServerMessage{
			Interrupted:  frame.ServerContent.Interrupted,
			TurnComplete: frame.ServerContent.TurnComplete,
		}

		if turn := frame.ServerContent.ModelTurn; turn != nil {
			for _, p := range turn.Parts {
				if p.Text != "" {
					msg.Text += p.Text
				}
				if p.InlineData != nil && p.InlineData.Data != "" {
					pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
					if err != nil {
						s.logger.Warn("Dropping undecodable audio part", logger.Error(err))
						continue
					}
					msg.Audio = append(msg.Audio, pcm...)
				}
			}
		}

		if len(msg.Audio) == 0 && msg.Text == "" && !msg.Interrupted && !msg.TurnComplete {
			continue
		}
		return msg, nil
	}
}

// Close shuts the WebSocket down. Safe to call more than once.
func (s *liveSession) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}

func containsSlash(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return true
		}
	}
	return false
}
