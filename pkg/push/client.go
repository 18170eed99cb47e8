// Package push is a thin client for the web-push collaborator, the
// best-effort fallback for users who are not connected.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/JE-lee/whisper-comment/pkg/notify"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ notify.Pusher = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SendToUser posts a push request for every subscription the push service
// holds for the token. Errors surface to the caller, who treats them as
// best-effort anyway.
func (c *Client) SendToUser(ctx context.Context, userToken string, msg notify.PushMessage) error {
	payload, err := json.Marshal(struct {
		UserToken string `json:"userToken"`
		Title     string `json:"title"`
		Body      string `json:"body"`
	}{UserToken: userToken, Title: msg.Title, Body: msg.Body})
	if err != nil {
		return fmt.Errorf("marshal push request: %w", err)
	}

	endpoint := c.baseURL + "/api/push/send"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("push service returned %s", resp.Status)
	}
	return nil
}
