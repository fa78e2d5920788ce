package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"project_wainbox/internal/interfaces"
)

// AutomationClient calls the external flow engine over HTTP
type AutomationClient struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

func NewAutomationClient(baseURL string, timeout time.Duration, log *slog.Logger) *AutomationClient {
	if log == nil {
		log = slog.Default()
	}
	return &AutomationClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With(slog.String("service", "automation_client")),
	}
}

var _ interfaces.AutomationEngine = (*AutomationClient)(nil)

func (a *AutomationClient) ContinueSession(ctx context.Context, conversationID int64, input string) (interfaces.AutomationResult, error) {
	return a.post(ctx, "/sessions/continue", map[string]any{
		"conversation_id": conversationID,
		"input":           input,
	})
}

func (a *AutomationClient) StartAutomation(ctx context.Context, automationID, conversationID int64, trigger string) (interfaces.AutomationResult, error) {
	return a.post(ctx, fmt.Sprintf("/automations/%d/start", automationID), map[string]any{
		"conversation_id": conversationID,
		"trigger":         trigger,
	})
}

func (a *AutomationClient) post(ctx context.Context, path string, body any) (interfaces.AutomationResult, error) {
	var result interfaces.AutomationResult
	if a.baseURL == "" {
		return result, fmt.Errorf("automation engine not configured")
	}

	data, err := json.Marshal(body)
	if err != nil {
		return result, fmt.Errorf("encode automation request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return result, fmt.Errorf("build automation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return result, fmt.Errorf("call automation engine: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return result, fmt.Errorf("read automation response: %w", err)
	}

	var payload struct {
		Success        bool   `json:"success"`
		NodesProcessed int    `json:"nodesProcessed"`
		Error          string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return result, fmt.Errorf("automation engine returned %d: undecodable body", resp.StatusCode)
	}
	result = interfaces.AutomationResult{Success: payload.Success, NodesProcessed: payload.NodesProcessed, Error: payload.Error}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result, fmt.Errorf("automation engine returned %d: %s", resp.StatusCode, payload.Error)
	}
	return result, nil
}
