// Package discord keeps the donation leaderboard message in a Discord channel
// up to date through the bot REST API (v10).
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kayyshop/donorboard/internal/domain"
)

// DefaultBaseURL is the Discord REST API root.
const DefaultBaseURL = "https://discord.com/api/v10"

const userAgent = "DiscordBot (https://github.com/kayyshop/donorboard, 1.0)"

// Channel is the subset of a Discord channel object used here.
type Channel struct {
	ID      string `json:"id"`
	Type    int    `json:"type"`
	GuildID string `json:"guild_id"`
	Name    string `json:"name"`
}

// Message is the subset of a Discord message object used here.
type Message struct {
	ID        string  `json:"id"`
	ChannelID string  `json:"channel_id"`
	Pinned    bool    `json:"pinned"`
	Embeds    []Embed `json:"embeds"`
}

type messagePayload struct {
	Embeds []Embed `json:"embeds"`
}

// Rate limit handling: a 429 asking for at most maxRetryWait is waited out
// and retried up to rateLimitRetries times.
const (
	defaultRateLimitRetries = 2
	defaultMaxRetryWait     = 10 * time.Second
)

// Client is a minimal Discord REST client authenticated as a bot.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	rateLimitRetries int
	maxRetryWait     time.Duration
}

// NewClient creates a Client. An empty baseURL selects DefaultBaseURL.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		rateLimitRetries: defaultRateLimitRetries,
		maxRetryWait:     defaultMaxRetryWait,
	}
}

// GetChannel fetches a channel by id.
func (c *Client) GetChannel(ctx context.Context, channelID string) (Channel, error) {
	var ch Channel
	if err := c.do(ctx, http.MethodGet, "/channels/"+channelID, nil, &ch); err != nil {
		return Channel{}, fmt.Errorf("discord: get channel %s: %w", channelID, err)
	}
	return ch, nil
}

// GetMessage fetches a message. It returns domain.ErrNotFound when the
// message or channel no longer exists.
func (c *Client) GetMessage(ctx context.Context, channelID, messageID string) (Message, error) {
	var m Message
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	if err := c.do(ctx, http.MethodGet, path, nil, &m); err != nil {
		return Message{}, fmt.Errorf("discord: get message %s: %w", messageID, err)
	}
	return m, nil
}

// CreateMessage posts a message carrying embeds.
func (c *Client) CreateMessage(ctx context.Context, channelID string, embeds ...Embed) (Message, error) {
	var m Message
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	if err := c.do(ctx, http.MethodPost, path, messagePayload{Embeds: embeds}, &m); err != nil {
		return Message{}, fmt.Errorf("discord: create message: %w", err)
	}
	return m, nil
}

// EditMessage replaces the embeds of an existing message.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, embeds ...Embed) (Message, error) {
	var m Message
	path := fmt.Sprintf("/channels/%s/messages/%s", channelID, messageID)
	if err := c.do(ctx, http.MethodPatch, path, messagePayload{Embeds: embeds}, &m); err != nil {
		return Message{}, fmt.Errorf("discord: edit message %s: %w", messageID, err)
	}
	return m, nil
}

// PinMessage pins a message in its channel.
func (c *Client) PinMessage(ctx context.Context, channelID, messageID string) error {
	path := fmt.Sprintf("/channels/%s/pins/%s", channelID, messageID)
	if err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("discord: pin message %s: %w", messageID, err)
	}
	return nil
}

// apiError is the Discord error body. RetryAfter is set on 429 responses.
type apiError struct {
	Code       int     `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

// RateLimitError is returned when Discord keeps answering 429 or asks for a
// wait longer than the client is willing to sleep. It matches
// domain.ErrTransport.
type RateLimitError struct {
	RetryAfter time.Duration
	Global     bool
}

func (e *RateLimitError) Error() string {
	scope := "route"
	if e.Global {
		scope = "global"
	}
	return fmt.Sprintf("%s: rate limited (%s), retry after %s", domain.ErrTransport, scope, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error { return domain.ErrTransport }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var data []byte
	if in != nil {
		var err error
		data, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	for attempt := 0; ; attempt++ {
		err := c.send(ctx, method, path, data, out)
		var rl *RateLimitError
		if !errors.As(err, &rl) || attempt >= c.rateLimitRetries || rl.RetryAfter > c.maxRetryWait {
			return err
		}
		timer := time.NewTimer(rl.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %v", domain.ErrTransport, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Client) send(ctx context.Context, method, path string, data []byte, out any) error {
	var body io.Reader
	if data != nil {
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", userAgent)
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		if resp.StatusCode == http.StatusTooManyRequests {
			return &RateLimitError{
				RetryAfter: retryAfter(resp.Header, apiErr.RetryAfter),
				Global:     apiErr.Global || resp.Header.Get("X-RateLimit-Global") == "true",
			}
		}
		detail := apiErr.Message
		if detail == "" {
			detail = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("%w: status %d: %s", statusError(resp.StatusCode), resp.StatusCode, detail)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// retryAfter prefers the body's fractional retry_after and falls back to the
// Retry-After header in whole seconds.
func retryAfter(h http.Header, body float64) time.Duration {
	if body > 0 {
		return time.Duration(body * float64(time.Second))
	}
	if secs, err := strconv.ParseFloat(h.Get("Retry-After"), 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return time.Second
}

func statusError(code int) error {
	switch code {
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case http.StatusForbidden:
		return domain.ErrForbidden
	default:
		return domain.ErrTransport
	}
}
