package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Gateway talks to an HTTP session gateway that owns the device sessions.
//
//	GET  {BaseURL}/sessions/{device}           -> {"status":"connected"}
//	POST {BaseURL}/sessions/{device}/messages  -> {"id":"..."}
type Gateway struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewGateway(baseURL, token string) *Gateway {
	return &Gateway{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type sessionResp struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type sendReq struct {
	To    string `json:"to"`
	Text  string `json:"text,omitempty"`
	Media *Media `json:"media,omitempty"`
}

type sendResp struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

func (g *Gateway) Available(ctx context.Context, deviceID string) error {
	req, err := g.newRequest(ctx, http.MethodGet, g.sessionURL(deviceID), nil)
	if err != nil {
		return err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: no session for device %s", ErrUnavailable, deviceID)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway: session status http %d", resp.StatusCode)
	}

	var out sessionResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("gateway: decode session: %w", err)
	}
	if !strings.EqualFold(out.Status, "connected") {
		return fmt.Errorf("%w: device %s is %s", ErrUnavailable, deviceID, out.Status)
	}
	return nil
}

func (g *Gateway) Send(ctx context.Context, deviceID, recipient string, msg Message) (string, error) {
	if msg.Empty() {
		return "", errors.New("gateway: empty message")
	}
	b, err := json.Marshal(sendReq{To: recipient, Text: msg.Text, Media: msg.Media})
	if err != nil {
		return "", err
	}
	req, err := g.newRequest(ctx, http.MethodPost, g.sessionURL(deviceID)+"/messages", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gateway: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusServiceUnavailable:
		return "", fmt.Errorf("%w: http %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("gateway: send http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out sendResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("gateway: decode send: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("gateway: %s", out.Error)
	}
	if out.ID == "" {
		return "", errors.New("gateway: missing message id")
	}
	return out.ID, nil
}

func (g *Gateway) sessionURL(deviceID string) string {
	return g.BaseURL + "/sessions/" + url.PathEscape(deviceID)
}

func (g *Gateway) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	if g.Client == nil {
		return nil, errors.New("gateway: http client is nil")
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}
	return req, nil
}
