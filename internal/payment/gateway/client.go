package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Client talks to the payment provider's REST API. It is constructed once at
// startup and handed to the order service, never used as package state.
type Client struct {
	log        *slog.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
	successURL string
	cancelURL  string
}

func NewClient(log *slog.Logger, baseURL, apiKey, successURL, cancelURL string) *Client {
	return &Client{
		log:        log,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

type SessionLine struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

type sessionRequest struct {
	LineItems  []SessionLine     `json:"line_items"`
	SuccessURL string            `json:"success_url"`
	CancelURL  string            `json:"cancel_url"`
	Metadata   map[string]string `json:"metadata"`
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// CreateSession registers a checkout session for the given order with the
// provider and returns the opaque session ref plus the hosted checkout URL.
func (c *Client) CreateSession(ctx context.Context, orderID string, lines []SessionLine) (Session, error) {
	body, err := json.Marshal(sessionRequest{
		LineItems:  lines,
		SuccessURL: c.successURL,
		CancelURL:  c.cancelURL,
		Metadata:   map[string]string{"order_id": orderID},
	})
	if err != nil {
		return Session{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Session{}, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Error("gateway session create rejected", "status", resp.StatusCode, "body", string(snippet))
		return Session{}, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var sess Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return Session{}, fmt.Errorf("gateway response decode: %w", err)
	}
	if sess.ID == "" {
		return Session{}, fmt.Errorf("gateway response missing session id")
	}
	return sess, nil
}
