package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Decision — вердикт внешнего сервиса модерации.
type Decision struct {
	Approve bool    `json:"approve"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason"`
}

// Client — HTTP-клиент сервиса модерации. Сервис решает сам; клиент лишь
// передаёт текст и рейтинг и возвращает вердикт как есть.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) Moderate(ctx context.Context, body string, rating float64) (*Decision, error) {
	reqBody, err := json.Marshal(map[string]any{
		"body":   body,
		"rating": rating,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call moderation service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("moderation service returned %d", resp.StatusCode)
	}

	var d Decision
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return nil, fmt.Errorf("decode decision: %w", err)
	}
	return &d, nil
}
