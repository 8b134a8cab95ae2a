package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/liveconcierge/concierge/internal/ai"
	"github.com/liveconcierge/concierge/internal/prompt"
	"github.com/liveconcierge/concierge/pkg/logger"
)

// chatFallbackReply is appended when the model returns an empty response.
const chatFallbackReply = "I apologize, I could not process that."

// StartTextSession switches the engine into turn-based chat mode and seeds
// the transcript with the concierge greeting. No audio subsystem is touched.
// Returns ErrState if the engine is not idle.
func (e *Engine) StartTextSession() error {
	if e.chat == nil {
		return fmt.Errorf("%w: no chat provider", ErrConfiguration)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != StatusIdle {
		return fmt.Errorf("%w: cannot start text session while %s", ErrState, e.status)
	}
	e.status = StatusActive
	e.mode = ModeText
	e.messages = []ChatMessage{
		{Role: "assistant", Text: prompt.Greeting(e.agent)},
	}

	e.logger.Info("Text session started", logger.String("business", e.agent.BusinessName))
	return nil
}

// SendTextMessage forwards one visitor turn to the chat endpoint and appends
// the reply. Empty or whitespace-only input and calls made while a send is
// already in flight are silent no-ops. Chat failures surface through OnError
// but leave the session in text mode; loading is always cleared.
func (e *Engine) SendTextMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	e.mu.Lock()
	if e.mode != ModeText || e.status != StatusActive {
		e.mu.Unlock()
		return fmt.Errorf("%w: no active text session", ErrState)
	}
	if e.chatLoading {
		e.mu.Unlock()
		return nil
	}
	history := make([]ai.ChatMessage, 0, len(e.messages))
	for _, m := range e.messages {
		history = append(history, ai.ChatMessage{Role: m.Role, Content: m.Text})
	}
	e.messages = append(e.messages, ChatMessage{Role: "user", Text: text})
	e.chatLoading = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.chatLoading = false
		e.mu.Unlock()
	}()

	reply, err := e.chat.ChatCompletion(ctx, e.systemInstruction, history, text)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrChatRequest, err)
		e.surfaceError(wrapped)
		return wrapped
	}
	if reply == "" {
		reply = chatFallbackReply
	}

	e.mu.Lock()
	e.messages = append(e.messages, ChatMessage{Role: "assistant", Text: reply})
	e.mu.Unlock()

	if signal, ok := e.detector.Detect(text); ok {
		e.logger.Info("Lead signal detected", logger.String("intent", signal.Intent))
		if e.events.OnLeadCaptured != nil {
			e.events.OnLeadCaptured(signal)
		}
	}
	return nil
}
