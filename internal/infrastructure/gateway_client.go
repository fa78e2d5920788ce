package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"project_wainbox/internal/entities"
	"project_wainbox/internal/interfaces"
)

// ErrGatewayUnavailable wraps every failed gateway call: transport errors,
// timeouts, non-2xx answers and undecodable bodies.
var ErrGatewayUnavailable = errors.New("gateway unavailable")

const maxGatewayBody = 64 << 20

// GatewayClient talks to an Evolution-style gateway. Each connection may
// point at its own base URL and API key; empty values fall back to the
// client defaults.
type GatewayClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
}

func NewGatewayClient(baseURL, apiKey string, timeout time.Duration, limiter *rate.Limiter, log *slog.Logger) *GatewayClient {
	if log == nil {
		log = slog.Default()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(20), 40)
	}
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		log:     log.With(slog.String("service", "gateway")),
	}
}

var _ interfaces.Gateway = (*GatewayClient)(nil)

// FetchMediaBase64 forwards the raw message envelope; some gateways need
// fields beyond the message key to locate the media.
func (g *GatewayClient) FetchMediaBase64(ctx context.Context, conn *entities.Connection, rawMessage json.RawMessage) (interfaces.MediaPayload, error) {
	body := map[string]any{
		"message":      rawMessage,
		"convertToMp4": false,
	}
	var resp struct {
		Base64   string `json:"base64"`
		Mimetype string `json:"mimetype"`
		FileName string `json:"fileName"`
	}
	if err := g.do(ctx, conn, http.MethodPost, "/chat/getBase64FromMediaMessage/"+url.PathEscape(conn.InstanceName), nil, body, &resp); err != nil {
		return interfaces.MediaPayload{}, err
	}
	if resp.Base64 == "" {
		return interfaces.MediaPayload{}, fmt.Errorf("%w: empty media payload", ErrGatewayUnavailable)
	}
	return interfaces.MediaPayload{Base64: resp.Base64, Mimetype: resp.Mimetype, FileName: resp.FileName}, nil
}

func (g *GatewayClient) FetchInstanceStatus(ctx context.Context, conn *entities.Connection) (entities.ConnectionStatus, error) {
	var resp struct {
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
		State string `json:"state"`
	}
	if err := g.do(ctx, conn, http.MethodGet, "/instance/connectionState/"+url.PathEscape(conn.InstanceName), nil, nil, &resp); err != nil {
		return "", err
	}
	state := resp.Instance.State
	if state == "" {
		state = resp.State
	}
	return entities.ParseConnectionStatus(state), nil
}

func (g *GatewayClient) FetchGroupSubject(ctx context.Context, conn *entities.Connection, groupJID string) (string, error) {
	var resp struct {
		Subject string `json:"subject"`
	}
	query := url.Values{"groupJid": {groupJID}}
	if err := g.do(ctx, conn, http.MethodGet, "/group/findGroupInfos/"+url.PathEscape(conn.InstanceName), query, nil, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Subject), nil
}

// SendText returns the provider message id assigned by the gateway, or ""
// when the gateway accepted the message without reporting one.
func (g *GatewayClient) SendText(ctx context.Context, conn *entities.Connection, number, text string) (string, error) {
	body := map[string]any{"number": number, "text": text}
	var resp struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	}
	if err := g.do(ctx, conn, http.MethodPost, "/message/sendText/"+url.PathEscape(conn.InstanceName), nil, body, &resp); err != nil {
		return "", err
	}
	return resp.Key.ID, nil
}

// Connect asks the gateway to start pairing and returns the QR payload
func (g *GatewayClient) Connect(ctx context.Context, conn *entities.Connection) (string, error) {
	var resp struct {
		Code string `json:"code"`
	}
	if err := g.do(ctx, conn, http.MethodGet, "/instance/connect/"+url.PathEscape(conn.InstanceName), nil, nil, &resp); err != nil {
		return "", err
	}
	if resp.Code == "" {
		return "", fmt.Errorf("%w: no pairing code returned", ErrGatewayUnavailable)
	}
	return resp.Code, nil
}

func (g *GatewayClient) do(ctx context.Context, conn *entities.Connection, method, path string, query url.Values, body, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	base, key := g.baseURL, g.apiKey
	if conn != nil && conn.GatewayURL != "" {
		base = strings.TrimRight(conn.GatewayURL, "/")
	}
	if conn != nil && conn.APIKey != "" {
		key = conn.APIKey
	}
	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode gateway request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrGatewayUnavailable, err)
	}
	req.Header.Set("apikey", key)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrGatewayUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxGatewayBody))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.log.Warn("gateway call failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: %s %s returned %d", ErrGatewayUnavailable, method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}
	return nil
}
