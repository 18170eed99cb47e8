// Package comments is a thin client for the comment persistence service.
// The fan-out core only needs one question answered: who wrote the parent of
// a given comment.
package comments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ParentAuthorToken asks the comment service for the author token of the
// comment's parent. A comment without a parent resolves to "".
func (c *Client) ParentAuthorToken(ctx context.Context, commentID string) (string, error) {
	endpoint := c.baseURL + "/api/comments/" + url.PathEscape(commentID) + "/parent-author"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("comment service request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("comment service returned %s", resp.Status)
	}

	var body struct {
		Data struct {
			AuthorToken string `json:"authorToken"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode comment service response: %w", err)
	}
	return body.Data.AuthorToken, nil
}
