package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liveconcierge/concierge/internal/concierge"
	"github.com/liveconcierge/concierge/internal/engine"
	"github.com/liveconcierge/concierge/internal/prompt"
	"github.com/liveconcierge/concierge/internal/storage/sqlite"
	"github.com/liveconcierge/concierge/pkg/logger"
)

// Handler contains the REST API handlers.
type Handler struct {
	service *concierge.Service
	logger  *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(service *concierge.Service, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log.Named("api-handler"),
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// Health returns server liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListAgents returns all stored agent configurations.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.service.Store().List()
	if err != nil {
		h.logger.Error("Failed to list agents", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	if agents == nil {
		agents = []*sqlite.AgentRecord{}
	}
	h.respondJSON(w, http.StatusOK, agents)
}

// createAgentRequest is the body for POST /agents and PUT /agents/{agentID}.
type createAgentRequest struct {
	Slug   string             `json:"slug"`
	Config prompt.AgentConfig `json:"config"`
}

// CreateAgent stores a new agent configuration.
func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Slug == "" {
		h.respondError(w, http.StatusBadRequest, "slug is required")
		return
	}

	record, err := h.service.Store().Create(req.Slug, req.Config)
	if err != nil {
		h.logger.Warn("Failed to create agent", logger.Error(err))
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusCreated, record)
}

// GetAgent returns one agent by ID or slug.
func (h *Handler) GetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	record, err := h.service.Store().Get(agentID)
	if err != nil {
		if errors.Is(err, sqlite.ErrAgentNotFound) {
			h.respondError(w, http.StatusNotFound, "agent not found")
			return
		}
		h.logger.Error("Failed to get agent", logger.String("agent_id", agentID), logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to get agent")
		return
	}
	h.respondJSON(w, http.StatusOK, record)
}

// UpdateAgent replaces an agent configuration.
func (h *Handler) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")

	var req createAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := h.service.Store().Update(agentID, req.Config)
	if err != nil {
		if errors.Is(err, sqlite.ErrAgentNotFound) {
			h.respondError(w, http.StatusNotFound, "agent not found")
			return
		}
		h.logger.Warn("Failed to update agent", logger.String("agent_id", agentID), logger.Error(err))
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, record)
}

// DeleteAgent removes an agent configuration.
func (h *Handler) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if err := h.service.Store().Delete(agentID); err != nil {
		if errors.Is(err, sqlite.ErrAgentNotFound) {
			h.respondError(w, http.StatusNotFound, "agent not found")
			return
		}
		h.logger.Error("Failed to delete agent", logger.String("agent_id", agentID), logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to delete agent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sessionResponse is the wire form of a text session.
type sessionResponse struct {
	SessionID string       `json:"session_id"`
	AgentID   string       `json:"agent_id"`
	State     engine.State `json:"state"`
}

// CreateSession starts a text chat session for an agent.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" {
		h.respondError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	session, err := h.service.CreateTextSession(req.AgentID)
	if err != nil {
		if errors.Is(err, sqlite.ErrAgentNotFound) {
			h.respondError(w, http.StatusNotFound, "agent not found")
			return
		}
		h.logger.Error("Failed to create session", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.respondJSON(w, http.StatusCreated, sessionResponse{
		SessionID: session.ID,
		AgentID:   session.AgentID,
		State:     session.Engine.State(),
	})
}

// GetSession returns the current state of a text session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	session, err := h.service.GetSession(sessionID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	h.respondJSON(w, http.StatusOK, sessionResponse{
		SessionID: session.ID,
		AgentID:   session.AgentID,
		State:     session.Engine.State(),
	})
}

// PostMessage forwards a visitor message into a text session and returns the
// updated transcript.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state, err := h.service.SendMessage(r.Context(), sessionID, req.Text)
	if err != nil {
		if errors.Is(err, engine.ErrState) {
			h.respondError(w, http.StatusConflict, err.Error())
			return
		}
		if errors.Is(err, engine.ErrChatRequest) {
			h.logger.Warn("Chat request failed",
				logger.String("session_id", sessionID),
				logger.Error(err))
			h.respondError(w, http.StatusBadGateway, "chat request failed")
			return
		}
		h.respondError(w, http.StatusNotFound, "session not found")
		return
	}

	session, err := h.service.GetSession(sessionID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	h.respondJSON(w, http.StatusOK, sessionResponse{
		SessionID: session.ID,
		AgentID:   session.AgentID,
		State:     state,
	})
}

// EndSession stops and removes a text session.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.service.EndSession(sessionID); err != nil {
		h.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
