// Package concierge manages per-visitor session engines on behalf of the API
// layer: text sessions live in a registry and are reaped when idle, voice
// engines are created per WebSocket connection and owned by their handler.
package concierge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liveconcierge/concierge/internal/ai"
	"github.com/liveconcierge/concierge/internal/config"
	"github.com/liveconcierge/concierge/internal/engine"
	"github.com/liveconcierge/concierge/internal/lead"
	"github.com/liveconcierge/concierge/internal/storage/sqlite"
	"github.com/liveconcierge/concierge/pkg/logger"
)

// Session is one registered text chat session.
type Session struct {
	ID        string
	AgentID   string
	Engine    *engine.Engine
	CreatedAt time.Time

	mu           sync.Mutex
	lastActivity time.Time
	leads        []lead.Signal
}

// Touch records activity, deferring idle cleanup.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent visitor interaction.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Leads returns the lead signals captured so far in this session.
func (s *Session) Leads() []lead.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]lead.Signal, len(s.leads))
	copy(out, s.leads)
	return out
}

func (s *Session) recordLead(signal lead.Signal) {
	s.mu.Lock()
	s.leads = append(s.leads, signal)
	s.mu.Unlock()
}

// Service manages concierge sessions and agent lookups.
type Service struct {
	store      *sqlite.AgentStore
	realtime   ai.RealtimeProvider
	chat       ai.ChatProvider
	config     *config.ConciergeConfig
	voiceModel string
	logger     *logger.Logger

	// Session management
	sessions   map[string]*Session
	sessionsMu sync.RWMutex

	// Background tasks
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates the session service and starts its maintenance tasks.
func NewService(
	store *sqlite.AgentStore,
	realtime ai.RealtimeProvider,
	chat ai.ChatProvider,
	cfg *config.Config,
	log *logger.Logger,
) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	service := &Service{
		store:      store,
		realtime:   realtime,
		chat:       chat,
		config:     &cfg.Concierge,
		voiceModel: cfg.Gemini.VoiceModel,
		logger:     log.Named("concierge"),
		sessions:   make(map[string]*Session),
		ctx:        ctx,
		cancel:     cancel,
	}

	service.wg.Add(1)
	go service.sessionCleanupTask()

	return service
}

// Agent returns the stored agent configuration for an ID or slug.
func (s *Service) Agent(idOrSlug string) (*sqlite.AgentRecord, error) {
	return s.store.Get(idOrSlug)
}

// Store exposes the agent store for the management API.
func (s *Service) Store() *sqlite.AgentStore {
	return s.store
}

// CreateTextSession starts a turn-based chat session for the given agent.
func (s *Service) CreateTextSession(agentIDOrSlug string) (*Session, error) {
	record, err := s.store.Get(agentIDOrSlug)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:           uuid.New().String(),
		AgentID:      record.ID,
		CreatedAt:    time.Now().UTC(),
		lastActivity: time.Now().UTC(),
	}

	eng := engine.New(&record.Config, s.realtime, s.chat, engine.Events{
		OnLeadCaptured: func(signal lead.Signal) {
			s.logger.Info("Lead captured",
				logger.String("session_id", session.ID),
				logger.String("intent", signal.Intent))
			session.recordLead(signal)
		},
	}, engine.Options{VoiceModel: s.voiceModel}, s.logger)

	if err := eng.StartTextSession(); err != nil {
		return nil, err
	}
	session.Engine = eng

	s.sessionsMu.Lock()
	s.sessions[session.ID] = session
	total := len(s.sessions)
	s.sessionsMu.Unlock()

	s.logger.Info("Text session created",
		logger.String("session_id", session.ID),
		logger.String("agent_id", record.ID),
		logger.Int("total_sessions", total))

	return session, nil
}

// GetSession retrieves a text session by ID.
func (s *Service) GetSession(sessionID string) (*Session, error) {
	s.sessionsMu.RLock()
	session, exists := s.sessions[sessionID]
	s.sessionsMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return session, nil
}

// SendMessage forwards a visitor message to the session engine and returns
// the updated engine state.
func (s *Service) SendMessage(ctx context.Context, sessionID, text string) (engine.State, error) {
	session, err := s.GetSession(sessionID)
	if err != nil {
		return engine.State{}, err
	}

	session.Touch()
	if err := session.Engine.SendTextMessage(ctx, text); err != nil {
		return session.Engine.State(), err
	}
	return session.Engine.State(), nil
}

// EndSession stops and unregisters a text session.
func (s *Service) EndSession(sessionID string) error {
	s.sessionsMu.Lock()
	session, exists := s.sessions[sessionID]
	if exists {
		delete(s.sessions, sessionID)
	}
	s.sessionsMu.Unlock()

	if !exists {
		return fmt.Errorf("session not found: %s", sessionID)
	}

	session.Engine.StopSession()
	s.logger.Info("Text session ended", logger.String("session_id", sessionID))
	return nil
}

// NewVoiceEngine builds an engine for a WebSocket voice connection. The
// caller owns its lifecycle; voice engines are not registered for cleanup
// because the connection closing tears them down.
func (s *Service) NewVoiceEngine(agentIDOrSlug string, events engine.Events) (*engine.Engine, *sqlite.AgentRecord, error) {
	record, err := s.store.Get(agentIDOrSlug)
	if err != nil {
		return nil, nil, err
	}

	hostLead := events.OnLeadCaptured
	events.OnLeadCaptured = func(signal lead.Signal) {
		s.logger.Info("Lead captured",
			logger.String("agent_id", record.ID),
			logger.String("intent", signal.Intent))
		if hostLead != nil {
			hostLead(signal)
		}
	}

	eng := engine.New(&record.Config, s.realtime, s.chat, events,
		engine.Options{VoiceModel: s.voiceModel}, s.logger)
	return eng, record, nil
}

// sessionCleanupTask periodically reaps idle text sessions.
func (s *Service) sessionCleanupTask() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.config.CleanupIntervalSecs) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.cleanupIdleSessions()
		}
	}
}

// cleanupIdleSessions removes sessions idle longer than the configured timeout.
func (s *Service) cleanupIdleSessions() {
	cutoff := time.Now().UTC().Add(-time.Duration(s.config.SessionIdleTimeoutSecs) * time.Second)

	s.sessionsMu.Lock()
	var idle []*Session
	for id, session := range s.sessions {
		if session.LastActivity().Before(cutoff) {
			idle = append(idle, session)
			delete(s.sessions, id)
		}
	}
	s.sessionsMu.Unlock()

	for _, session := range idle {
		session.Engine.StopSession()
		s.logger.Info("Reaped idle session", logger.String("session_id", session.ID))
	}
}

// Shutdown stops the maintenance tasks and tears down all sessions.
func (s *Service) Shutdown() {
	s.cancel()
	s.wg.Wait()

	s.sessionsMu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.sessions = make(map[string]*Session)
	s.sessionsMu.Unlock()

	for _, session := range sessions {
		session.Engine.StopSession()
	}

	s.logger.Info("Concierge service stopped", logger.Int("sessions_closed", len(sessions)))
}
