// Package line hosts the messaging-platform plumbing: the REST client for
// replies, pushes, and profile lookups, webhook signature verification, and
// the webhook HTTP server that feeds the dispatcher.
package line

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"line_otp_bot/internal/domain"
	"line_otp_bot/internal/logging"
)

const (
	defaultBaseURL = "https://api.line.me"
	clientTimeout  = 10 * time.Second

	replyPath   = "/v2/bot/message/reply"
	pushPath    = "/v2/bot/message/push"
	profilePath = "/v2/bot/profile/"
)

// Client talks to the messaging REST API with a channel access token.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	logger      *logrus.Entry
}

// ClientOption customizes the Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API base URL; used in tests.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient constructs a Client for the given channel access token.
func NewClient(accessToken string, logger *logrus.Entry, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, errors.New("access token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{
		httpClient:  &http.Client{Timeout: clientTimeout},
		baseURL:     defaultBaseURL,
		accessToken: accessToken,
		logger:      logger,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

type textMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type replyRequest struct {
	ReplyToken string        `json:"replyToken"`
	Messages   []textMessage `json:"messages"`
}

type pushRequest struct {
	To       string        `json:"to"`
	Messages []textMessage `json:"messages"`
}

type profileResponse struct {
	DisplayName string `json:"displayName"`
}

// ReplyMessage sends a single text message addressed by reply token. A reply
// token is single use; callers must invoke this at most once per event.
func (c *Client) ReplyMessage(ctx context.Context, replyToken, text string) error {
	body := replyRequest{
		ReplyToken: replyToken,
		Messages:   []textMessage{{Type: "text", Text: text}},
	}

	return c.post(ctx, replyPath, body)
}

// PushMessage sends a single text message directly to a principal id.
func (c *Client) PushMessage(ctx context.Context, to, text string) error {
	body := pushRequest{
		To:       to,
		Messages: []textMessage{{Type: "text", Text: text}},
	}

	return c.post(ctx, pushPath, body)
}

// GetProfile fetches the profile of a platform user. Any failure, including a
// timeout, means the id could not be verified.
func (c *Client) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	if ctx == nil {
		return domain.Profile{}, errors.New("context is required")
	}
	if strings.TrimSpace(userID) == "" {
		return domain.Profile{}, errors.New("user id is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+profilePath+userID, nil)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("build profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.Profile{}, fmt.Errorf("get profile: unexpected status %d", resp.StatusCode)
	}

	var profile profileResponse
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return domain.Profile{}, fmt.Errorf("decode profile: %w", err)
	}

	return domain.Profile{DisplayName: profile.DisplayName}, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	if c == nil || c.httpClient == nil {
		return errors.New("client is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send %s: %w", path, err)
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("send %s: unexpected status %d", path, resp.StatusCode)
	}

	return nil
}
