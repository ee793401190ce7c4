package vk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/EZEN13/vk-travel-bot/pkg/logging"
)

const (
	defaultBaseURL    = "https://api.vk.com/method"
	defaultAPIVersion = "5.131"

	sendTimeout    = 15 * time.Second
	typingTimeout  = 5 * time.Second
	profileTimeout = 15 * time.Second
)

// Config controls how the VK client behaves.
type Config struct {
	BaseURL    string
	Token      string
	APIVersion string
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client wraps the VK Bots API methods the assistant needs.
type Client struct {
	token      string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("vk: access token is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = defaultAPIVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		token:      cfg.Token,
		baseURL:    baseURL,
		apiVersion: apiVersion,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
	}, nil
}

// SendMessage delivers text to a peer and returns the platform message id.
func (c *Client) SendMessage(ctx context.Context, peerID int64, text string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(peerID, 10))
	params.Set("message", text)
	params.Set("random_id", strconv.FormatInt(rand.Int63(), 10))
	data, err := c.invoke(ctx, "messages.send", params)
	if err != nil {
		return 0, err
	}
	var messageID int64
	if err := json.Unmarshal(data, &messageID); err != nil {
		return 0, fmt.Errorf("vk: decode messages.send response: %w", err)
	}
	return messageID, nil
}

// SetTyping shows the typing indicator to a peer. Best effort by contract.
func (c *Client) SetTyping(ctx context.Context, peerID int64) error {
	ctx, cancel := context.WithTimeout(ctx, typingTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("peer_id", strconv.FormatInt(peerID, 10))
	params.Set("type", "typing")
	_, err := c.invoke(ctx, "messages.setActivity", params)
	return err
}

// GetUser fetches the sender profile.
func (c *Client) GetUser(ctx context.Context, userID int64) (*User, error) {
	ctx, cancel := context.WithTimeout(ctx, profileTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("user_ids", strconv.FormatInt(userID, 10))
	data, err := c.invoke(ctx, "users.get", params)
	if err != nil {
		return nil, err
	}
	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("vk: decode users.get response: %w", err)
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("vk: user %d not found", userID)
	}
	return &users[0], nil
}

func (c *Client) invoke(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	params.Set("access_token", c.token)
	params.Set("v", c.apiVersion)
	endpoint := c.baseURL + "/" + method

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return nil, fmt.Errorf("vk: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("vk: %s failed: %w", method, ctx.Err())
			}
			if !isTransient(err) || attempt == c.maxRetries-1 {
				return nil, fmt.Errorf("vk: %s failed: %w", method, err)
			}
			lastErr = err
			c.logger.Warn("vk retry", "method", method, "attempt", attempt+1, "error", err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("vk: read %s response: %w", method, readErr)
		}
		if resp.StatusCode >= 500 && attempt < c.maxRetries-1 {
			lastErr = fmt.Errorf("vk: %s returned status %d", method, resp.StatusCode)
			c.logger.Warn("vk retry", "method", method, "attempt", attempt+1, "status", resp.StatusCode)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("vk: %s returned status %d", method, resp.StatusCode)
		}

		var envelope struct {
			Response json.RawMessage `json:"response"`
			Error    *apiError       `json:"error"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("vk: decode %s envelope: %w", method, err)
		}
		if envelope.Error != nil {
			return nil, fmt.Errorf("vk: %s: %w", method, envelope.Error)
		}
		return envelope.Response, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("vk: %s failed without response", method)
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return false
}

type apiError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}
