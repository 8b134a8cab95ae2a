package gemini

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/liveconcierge/concierge/internal/ai"
)

// chatClient handles the request/response chat path via the official SDK.
type chatClient struct {
	c     *genai.Client
	model string
}

func newChatClient(ctx context.Context, apiKey, model string) (*chatClient, error) {
	tr := &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
	hc := &http.Client{Transport: tr, Timeout: 60 * time.Second}

	cl, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
	})
	if err != nil {
		return nil, err
	}
	return &chatClient{c: cl, model: model}, nil
}

// ChatCompletion sends the full prior history plus the new message and
// returns the model's text reply.
func (c *Client) ChatCompletion(ctx context.Context, systemInstruction string, history []ai.ChatMessage, message string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		contents = append(contents, &genai.Content{
			Role:  string(role),
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	contents = append(contents, &genai.Content{
		Role:  string(genai.RoleUser),
		Parts: []*genai.Part{{Text: message}},
	})

	cfg := &genai.GenerateContentConfig{}
	if systemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}

	resp, err := c.chat.c.Models.GenerateContent(ctx, c.chat.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini chat request failed: %w", err)
	}

	return resp.Text(), nil
}
