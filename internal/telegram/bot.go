// Package telegram sends notifications through the Telegram Bot API and
// answers bot commands from the configured chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"genwatch/internal/config"
	"genwatch/internal/logging"
	"genwatch/internal/visualize"
)

// DefaultAPIBase is the public Bot API endpoint.
const DefaultAPIBase = "https://api.telegram.org"

const (
	messageTimeout = 10 * time.Second
	photoTimeout   = 30 * time.Second
	maxCaptionLen  = 1024
)

var (
	ErrDisabled      = errors.New("telegram bot is disabled")
	ErrNotConfigured = errors.New("telegram bot not configured")
)

// Config holds Telegram bot configuration.
type Config struct {
	BotToken string
	ChatID   string
	Enabled  bool
	APIBase  string
	Logger   *slog.Logger
}

// APIResponse is the envelope of every Bot API response.
type APIResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

// Bot sends messages and photos to one chat.
type Bot struct {
	token      string
	chatID     string
	apiBase    string
	enabled    bool
	httpClient *http.Client
	logger     *slog.Logger
}

// ValidateConfig rejects empty or placeholder credentials on an enabled bot.
func ValidateConfig(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BotToken == "" || cfg.BotToken == config.PlaceholderBotToken {
		return fmt.Errorf("%w: bot token", ErrNotConfigured)
	}
	if cfg.ChatID == "" || cfg.ChatID == config.PlaceholderChatID {
		return fmt.Errorf("%w: chat id", ErrNotConfigured)
	}
	return nil
}

// NewBot validates cfg and creates a Bot.
func NewBot(cfg Config) (*Bot, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	return &Bot{
		token:      cfg.BotToken,
		chatID:     cfg.ChatID,
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
		enabled:    cfg.Enabled,
		httpClient: &http.Client{Timeout: photoTimeout},
		logger:     logging.Component(cfg.Logger, "telegram"),
	}, nil
}

// Enabled reports whether the bot sends anything.
func (b *Bot) Enabled() bool {
	return b.enabled
}

// ChatID returns the chat the bot serves.
func (b *Bot) ChatID() string {
	return b.chatID
}

// SendMessage sends an HTML-formatted text message.
func (b *Bot) SendMessage(ctx context.Context, text string) error {
	if !b.enabled {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, messageTimeout)
	defer cancel()

	payload := map[string]any{
		"chat_id":    b.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if err := b.call(ctx, "sendMessage", payload, nil); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	b.logger.Debug("message sent", "chars", len(text))
	return nil
}

// SendImage encodes img as JPEG and sends it with an HTML caption.
func (b *Bot) SendImage(ctx context.Context, img image.Image, caption string) error {
	data, err := visualize.EncodeJPEG(img, visualize.DefaultQuality)
	if err != nil {
		return err
	}
	return b.SendPhoto(ctx, data, caption)
}

// SendPhoto sends JPEG bytes with an HTML caption.
func (b *Bot) SendPhoto(ctx context.Context, photo []byte, caption string) error {
	if !b.enabled {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, photoTimeout)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("chat_id", b.chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", truncate(caption, maxCaptionLen)); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
		if err := writer.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("failed to write parse_mode field: %w", err)
		}
	}
	part, err := writer.CreateFormFile("photo", "generator.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
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

	resp, err := b.do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	if err := handleResponse(resp, nil); err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	return nil
}

func (b *Bot) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", b.apiBase, b.token, method)
}

// call posts payload as JSON to method and decodes the result into out when non-nil.
func (b *Bot) call(ctx context.Context, method string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.methodURL(method), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	return handleResponse(resp, out)
}

// do sends req and drops the request URL from transport errors, since the
// URL path carries the bot token.
func (b *Bot) do(req *http.Request) (*http.Response, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return nil, fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
		}
		return nil, err
	}
	return resp, nil
}

func handleResponse(resp *http.Response, out any) error {
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

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
