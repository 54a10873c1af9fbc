// Package telegram delivers alert photos to a Telegram chat and answers
// a small set of bot commands from that chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultAPIBaseURL is the public Bot API endpoint
const DefaultAPIBaseURL = "https://api.telegram.org"

var (
	// ErrCooldown is returned when an alert arrives inside the chat cooldown
	ErrCooldown = errors.New("telegram: alert cooldown period not yet elapsed")
	// ErrDisabled is returned by send operations while the bot is disabled
	ErrDisabled = errors.New("telegram: bot is disabled")
	// ErrNotConfigured is returned when the token or chat id is missing
	ErrNotConfigured = errors.New("telegram: bot token or chat ID not configured")
)

// Bot handles Telegram bot operations
type Bot struct {
	botToken   string
	chatID     string
	apiBaseURL string
	httpClient *http.Client
	now        func() time.Time

	mu              sync.RWMutex
	enabled         bool
	cooldownTracker map[string]time.Time
	cooldownPeriod  time.Duration
}

// Config holds Telegram bot configuration
type Config struct {
	BotToken   string
	ChatID     string
	Enabled    bool
	Cooldown   time.Duration // Minimum gap between alert photos per chat, default 30s
	APIBaseURL string        // Defaults to DefaultAPIBaseURL
}

// APIResponse represents the response envelope of the Bot API
type APIResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// BotUser is the identity returned by getMe
type BotUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// NewBot creates a new Telegram bot instance
func NewBot(config Config) *Bot {
	cooldown := config.Cooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}
	baseURL := strings.TrimRight(config.APIBaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}

	return &Bot{
		botToken:        config.BotToken,
		chatID:          config.ChatID,
		apiBaseURL:      baseURL,
		enabled:         config.Enabled,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		now:             time.Now,
		cooldownTracker: make(map[string]time.Time),
		cooldownPeriod:  cooldown,
	}
}

// Name identifies the notifier in logs and stats
func (b *Bot) Name() string {
	return "telegram"
}

// IsEnabled returns whether the bot is enabled
func (b *Bot) IsEnabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

// SetEnabled enables or disables the bot
func (b *Bot) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// ChatID returns the authorized chat
func (b *Bot) ChatID() string {
	return b.chatID
}

// Notify sends an alert photo with its caption. Alerts inside the cooldown
// window are refused with ErrCooldown. Without a readable image the caption
// is sent as a text message.
func (b *Bot) Notify(ctx context.Context, imagePath, caption string) error {
	if err := b.ready(); err != nil {
		return err
	}
	if !b.reserveCooldown(b.chatID) {
		return ErrCooldown
	}

	var err error
	if imagePath == "" {
		err = b.SendMessage(ctx, caption)
	} else {
		var data []byte
		data, err = os.ReadFile(imagePath)
		if err != nil {
			log.Printf("[Telegram] Could not read %s, sending caption only: %v", imagePath, err)
			err = b.SendMessage(ctx, caption)
		} else {
			err = b.sendPhoto(ctx, data, filepath.Base(imagePath), caption)
		}
	}

	if err != nil {
		b.releaseCooldown(b.chatID)
	}
	return err
}

// SendMessage sends a text message to the configured chat
func (b *Bot) SendMessage(ctx context.Context, message string) error {
	if err := b.ready(); err != nil {
		return err
	}

	payload := map[string]interface{}{
		"chat_id":    b.chatID,
		"text":       message,
		"parse_mode": "HTML",
	}
	return b.sendRequest(ctx, "sendMessage", payload, nil)
}

// SendPhoto sends a JPEG with an optional caption, bypassing the cooldown
func (b *Bot) SendPhoto(ctx context.Context, photoData []byte, caption string) error {
	if err := b.ready(); err != nil {
		return err
	}
	return b.sendPhoto(ctx, photoData, "snapshot.jpg", caption)
}

// GetMe retrieves information about the bot
func (b *Bot) GetMe(ctx context.Context) (*BotUser, error) {
	if b.botToken == "" {
		return nil, ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.methodURL("getMe"), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get bot info: %w", err)
	}
	defer resp.Body.Close()

	var user BotUser
	if err := b.handleResponse(resp, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (b *Bot) ready() error {
	if !b.IsEnabled() {
		return ErrDisabled
	}
	if b.botToken == "" || b.chatID == "" {
		return ErrNotConfigured
	}
	return nil
}

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.apiBaseURL, b.botToken, method)
}

// sendPhoto sends a photo using multipart form data
func (b *Bot) sendPhoto(ctx context.Context, photoData []byte, filename, caption string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", b.chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}

	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photoData); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL("sendPhoto"), &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	return b.handleResponse(resp, nil)
}

// sendRequest posts a JSON payload to a Bot API method
func (b *Bot) sendRequest(ctx context.Context, method string, payload map[string]interface{}, result interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL(method), bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return b.handleResponse(resp, result)
}

// handleResponse checks the API envelope and decodes its result into out
func (b *Bot) handleResponse(resp *http.Response, out interface{}) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}

	if !apiResp.OK {
		return fmt.Errorf("telegram API error %d: %s", apiResp.ErrorCode, apiResp.Description)
	}

	if out != nil && len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, out); err != nil {
			return fmt.Errorf("failed to decode result: %w", err)
		}
	}
	return nil
}

// reserveCooldown claims the chat's alert slot if the cooldown has elapsed
func (b *Bot) reserveCooldown(chatID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if last, ok := b.cooldownTracker[chatID]; ok && now.Sub(last) < b.cooldownPeriod {
		return false
	}
	b.cooldownTracker[chatID] = now
	return true
}

// releaseCooldown gives the slot back after a failed send
func (b *Bot) releaseCooldown(chatID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cooldownTracker, chatID)
}

// ValidateConfig validates the Telegram bot configuration
func ValidateConfig(config Config) error {
	if config.Enabled {
		if config.BotToken == "" {
			return fmt.Errorf("telegram bot token is required when enabled")
		}
		if config.ChatID == "" {
			return fmt.Errorf("telegram chat ID is required when enabled")
		}
	}

	if config.Cooldown < 0 {
		return fmt.Errorf("telegram cooldown cannot be negative")
	}

	return nil
}
