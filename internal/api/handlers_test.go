package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liveconcierge/concierge/internal/ai"
	"github.com/liveconcierge/concierge/internal/concierge"
	"github.com/liveconcierge/concierge/internal/config"
	"github.com/liveconcierge/concierge/internal/engine"
	"github.com/liveconcierge/concierge/internal/storage/sqlite"
	"github.com/liveconcierge/concierge/pkg/logger"
)

// fakeSession mimics a live transport for the voice bridge tests.
type fakeSession struct {
	mu        sync.Mutex
	sent      []ai.AudioChunk
	inbound   chan ai.ServerMessage
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		inbound: make(chan ai.ServerMessage, 16),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSession) SendAudio(chunk ai.AudioChunk) error {
	s.mu.Lock()
	s.sent = append(s.sent, chunk)
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Receive() (*ai.ServerMessage, error) {
	select {
	case msg := <-s.inbound:
		return &msg, nil
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSession) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeRealtime struct {
	mu      sync.Mutex
	session *fakeSession
}

func (f *fakeRealtime) Connect(ctx context.Context, cfg ai.SessionConfig) (ai.LiveSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.session == nil {
		return nil, fmt.Errorf("no session configured")
	}
	return f.session, nil
}

type fakeChat struct {
	mu    sync.Mutex
	reply string
	err   error
}

func (f *fakeChat) ChatCompletion(ctx context.Context, systemInstruction string, history []ai.ChatMessage, message string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reply, f.err
}

func (f *fakeChat) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type apiFixture struct {
	server   *httptest.Server
	service  *concierge.Service
	realtime *fakeRealtime
	chat     *fakeChat
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store, err := sqlite.NewAgentStore(filepath.Join(t.TempDir(), "agents.db"), logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.SeedDefaults())
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{
			CORSAllowedOrigins: []string{"*"},
			StaticFilesDir:     t.TempDir(),
		},
		Gemini: config.GeminiConfig{VoiceModel: "test-voice-model"},
		Concierge: config.ConciergeConfig{
			SessionIdleTimeoutSecs: 1800,
			CleanupIntervalSecs:    60,
		},
	}

	realtime := &fakeRealtime{session: newFakeSession()}
	chat := &fakeChat{reply: "Happy to help."}
	service := concierge.NewService(store, realtime, chat, cfg, logger.NewNop())
	t.Cleanup(service.Shutdown)

	router := NewRouter(service, cfg, logger.NewNop())
	server := httptest.NewServer(router.Routes())
	t.Cleanup(server.Close)

	return &apiFixture{server: server, service: service, realtime: realtime, chat: chat}
}

func (f *apiFixture) doJSON(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.doJSON(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestAgentCRUD(t *testing.T) {
	f := newAPIFixture(t)

	// Seeded agents are listed.
	resp, body := f.doJSON(t, http.MethodGet, "/api/v1/agents/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var agents []sqlite.AgentRecord
	require.NoError(t, json.Unmarshal(body, &agents))
	assert.Len(t, agents, 3)

	// Create.
	newAgent := map[string]any{
		"slug": "dental",
		"config": map[string]any{
			"business_name":           "Bright Smiles Dental",
			"primary_goal":            "Book cleanings",
			"tone":                    "Warm and efficient",
			"qualification_questions": []string{"When was your last visit?"},
			"handoff_cta":             "Book a cleaning",
			"voice_name":              "Kore",
		},
	}
	resp, body = f.doJSON(t, http.MethodPost, "/api/v1/agents/", newAgent)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created sqlite.AgentRecord
	require.NoError(t, json.Unmarshal(body, &created))

	// Get by slug.
	resp, body = f.doJSON(t, http.MethodGet, "/api/v1/agents/dental", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched sqlite.AgentRecord
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, created.ID, fetched.ID)

	// Update.
	updated := newAgent
	updated["config"].(map[string]any)["tone"] = "Clinical"
	resp, body = f.doJSON(t, http.MethodPut, "/api/v1/agents/"+created.ID, updated)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	// Delete.
	resp, _ = f.doJSON(t, http.MethodDelete, "/api/v1/agents/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.doJSON(t, http.MethodGet, "/api/v1/agents/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateAgentValidation(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.doJSON(t, http.MethodPost, "/api/v1/agents/", map[string]any{
		"slug": "broken",
		"config": map[string]any{
			"business_name": "No Voice Inc",
			"primary_goal":  "x",
			"voice_name":    "Invalid",
		},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.doJSON(t, http.MethodPost, "/api/v1/agents/", map[string]any{"config": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing slug")
}

func TestTextSessionFlow(t *testing.T) {
	f := newAPIFixture(t)

	// Create a session for a seeded agent.
	resp, body := f.doJSON(t, http.MethodPost, "/api/v1/sessions/", map[string]string{"agent_id": "med-spa"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created struct {
		SessionID string       `json:"session_id"`
		State     engine.State `json:"state"`
	}
	require.NoError(t, json.Unmarshal(body, &created))
	require.NotEmpty(t, created.SessionID)
	require.Len(t, created.State.ChatMessages, 1, "greeting is seeded")

	// Send a message.
	resp, body = f.doJSON(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/messages",
		map[string]string{"text": "What do you offer?"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var after struct {
		State engine.State `json:"state"`
	}
	require.NoError(t, json.Unmarshal(body, &after))
	require.Len(t, after.State.ChatMessages, 3)
	assert.Equal(t, "Happy to help.", after.State.ChatMessages[2].Text)

	// Snapshot endpoint agrees.
	resp, body = f.doJSON(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &after))
	assert.Len(t, after.State.ChatMessages, 3)

	// End the session.
	resp, _ = f.doJSON(t, http.MethodDelete, "/api/v1/sessions/"+created.SessionID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = f.doJSON(t, http.MethodGet, "/api/v1/sessions/"+created.SessionID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTextSessionChatFailure(t *testing.T) {
	f := newAPIFixture(t)
	f.chat.setErr(fmt.Errorf("quota exceeded"))

	resp, body := f.doJSON(t, http.MethodPost, "/api/v1/sessions/", map[string]string{"agent_id": "med-spa"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(body, &created))

	resp, _ = f.doJSON(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/messages",
		map[string]string{"text": "hello"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	// The session is still usable afterwards.
	f.chat.setErr(nil)
	resp, _ = f.doJSON(t, http.MethodPost, "/api/v1/sessions/"+created.SessionID+"/messages",
		map[string]string{"text": "hello again"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateSessionUnknownAgent(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.doJSON(t, http.MethodPost, "/api/v1/sessions/", map[string]string{"agent_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
