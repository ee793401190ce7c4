// Package telegram is a thin Bot API transport for the manager notification
// channel: sending and editing notifications, acknowledging button presses, and
// long-polling for callback queries.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
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
	defaultBaseURL = "https://api.telegram.org"
	callTimeout    = 15 * time.Second
	pollTimeout    = 25 * time.Second
)

// InlineKeyboardButton is a single control on a notification.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// InlineKeyboardMarkup renders rows of controls under a notification.
type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// CallbackQuery is an operator pressing a notification control.
type CallbackQuery struct {
	ID      string `json:"id"`
	Data    string `json:"data"`
	Message struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type update struct {
	UpdateID      int64          `json:"update_id"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// Config controls how the Telegram client behaves.
type Config struct {
	Token      string
	BaseURL    string
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Client wraps the Bot API methods the notification coordinator needs.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *logging.Logger
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
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
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
	}, nil
}

// SendMessage posts a notification and returns its message id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup *InlineKeyboardMarkup) (int64, error) {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("text", text)
	if err := attachMarkup(params, markup); err != nil {
		return 0, err
	}
	data, err := c.invoke(ctx, "sendMessage", params)
	if err != nil {
		return 0, err
	}
	var result struct {
		MessageID int64 `json:"message_id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return 0, fmt.Errorf("telegram: decode sendMessage result: %w", err)
	}
	return result.MessageID, nil
}

// EditMessage replaces the text and controls of an existing notification.
func (c *Client) EditMessage(ctx context.Context, chatID, messageID int64, text string, markup *InlineKeyboardMarkup) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("message_id", strconv.FormatInt(messageID, 10))
	params.Set("text", text)
	if err := attachMarkup(params, markup); err != nil {
		return err
	}
	_, err := c.invoke(ctx, "editMessageText", params)
	return err
}

// EditReplyMarkup swaps the controls without touching the notification text.
func (c *Client) EditReplyMarkup(ctx context.Context, chatID, messageID int64, markup *InlineKeyboardMarkup) error {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("message_id", strconv.FormatInt(messageID, 10))
	if err := attachMarkup(params, markup); err != nil {
		return err
	}
	_, err := c.invoke(ctx, "editMessageReplyMarkup", params)
	return err
}

// AnswerCallback acknowledges a button press with a short toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	params := url.Values{}
	params.Set("callback_query_id", callbackID)
	if text != "" {
		params.Set("text", text)
	}
	_, err := c.invoke(ctx, "answerCallbackQuery", params)
	return err
}

// PollUpdates long-polls for callback queries and dispatches each to handler.
// It returns when the context is cancelled.
func (c *Client) PollUpdates(ctx context.Context, handler func(context.Context, CallbackQuery)) {
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}
		params := url.Values{}
		params.Set("timeout", strconv.Itoa(int(pollTimeout / time.Second)))
		params.Set("allowed_updates", `["callback_query"]`)
		if offset > 0 {
			params.Set("offset", strconv.FormatInt(offset, 10))
		}
		data, err := c.invokeWithTimeout(ctx, "getUpdates", params, pollTimeout+10*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("telegram poll failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		var updates []update
		if err := json.Unmarshal(data, &updates); err != nil {
			c.logger.Error("telegram poll decode failed", "error", err)
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.CallbackQuery != nil {
				handler(ctx, *u.CallbackQuery)
			}
		}
	}
}

func attachMarkup(params url.Values, markup *InlineKeyboardMarkup) error {
	if markup == nil {
		return nil
	}
	data, err := json.Marshal(markup)
	if err != nil {
		return fmt.Errorf("telegram: marshal reply markup: %w", err)
	}
	params.Set("reply_markup", string(data))
	return nil
}

func (c *Client) invoke(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	return c.invokeWithTimeout(ctx, method, params, callTimeout)
}

func (c *Client) invokeWithTimeout(ctx context.Context, method string, params url.Values, timeout time.Duration) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return nil, fmt.Errorf("telegram: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("telegram: %s failed: %w", method, ctx.Err())
			}
			if !isTransient(err) || attempt == c.maxRetries-1 {
				return nil, fmt.Errorf("telegram: %s failed: %w", method, err)
			}
			lastErr = err
			c.logger.Warn("telegram retry", "method", method, "attempt", attempt+1, "error", err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("telegram: read %s response: %w", method, readErr)
		}
		if resp.StatusCode >= 500 && attempt < c.maxRetries-1 {
			lastErr = fmt.Errorf("telegram: %s returned status %d", method, resp.StatusCode)
			c.logger.Warn("telegram retry", "method", method, "attempt", attempt+1, "status", resp.StatusCode)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}

		var envelope struct {
			OK          bool            `json:"ok"`
			Result      json.RawMessage `json:"result"`
			Description string          `json:"description"`
			ErrorCode   int             `json:"error_code"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("telegram: decode %s envelope: %w", method, err)
		}
		if !envelope.OK {
			return nil, fmt.Errorf("telegram: %s: api error %d: %s", method, envelope.ErrorCode, envelope.Description)
		}
		return envelope.Result, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("telegram: %s failed without response", method)
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
