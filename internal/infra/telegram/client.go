package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/bryanwahyu/vscanbot/internal/domain/chat"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	// maxMessageLen is the Bot API limit for message text, in characters.
	maxMessageLen = 4096
)

// Client is a minimal Telegram Bot API client. It implements chat.Transport.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	logger  *zap.Logger
}

type Options struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func NewClient(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		http:    opts.HTTPClient,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		logger:  opts.Logger.Named("telegram"),
	}
}

// APIError is a failed Bot API call.
type APIError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	desc := strings.TrimSpace(e.Description)
	if desc == "" {
		desc = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("telegram %s: http %d: %s", e.Method, e.StatusCode, desc)
}

func isParseError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	desc := strings.ToLower(apiErr.Description)
	return strings.Contains(desc, "can't parse entities") || strings.Contains(desc, "can't parse entity")
}

func isNotModified(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && strings.Contains(strings.ToLower(apiErr.Description), "message is not modified")
}

type response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

// call posts body as JSON to method and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("telegram %s: encode: %w", method, err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s: %w", method, redact(err))
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{Method: method, StatusCode: resp.StatusCode, Description: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("telegram %s: decode: %w", method, err)
	}
	if !r.OK || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Method: method, StatusCode: resp.StatusCode, ErrorCode: r.ErrorCode, Description: r.Description}
		if r.Parameters != nil && r.Parameters.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(r.Parameters.RetryAfter) * time.Second
		}
		return apiErr
	}
	if out == nil || len(r.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Result, out); err != nil {
		return fmt.Errorf("telegram %s: decode result: %w", method, err)
	}
	return nil
}

type inlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineKeyboardButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID                int64        `json:"chat_id"`
	MessageID             int64        `json:"message_id,omitempty"`
	Text                  string       `json:"text"`
	ParseMode             string       `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool         `json:"disable_web_page_preview,omitempty"`
	ReplyMarkup           *replyMarkup `json:"reply_markup,omitempty"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
}

func newSendRequest(chatID int64, r chat.Reply) sendMessageRequest {
	req := sendMessageRequest{
		ChatID:                chatID,
		Text:                  r.Text,
		ParseMode:             r.ParseMode,
		DisableWebPagePreview: true,
	}
	if strings.TrimSpace(req.Text) == "" {
		req.Text, req.ParseMode = "…", chat.ParseModeNone
	}
	if utf8.RuneCountInString(req.Text) > maxMessageLen {
		// cutting markup could leave unbalanced tags
		req.Text = truncateRunes(plainText(req.Text, req.ParseMode), maxMessageLen)
		req.ParseMode = chat.ParseModeNone
	}
	if len(r.Keyboard) > 0 {
		m := &replyMarkup{}
		for _, row := range r.Keyboard {
			var out []inlineKeyboardButton
			for _, b := range row {
				out = append(out, inlineKeyboardButton{Text: b.Text, CallbackData: b.CallbackData})
			}
			m.InlineKeyboard = append(m.InlineKeyboard, out)
		}
		req.ReplyMarkup = m
	}
	return req
}

// SendMessage sends r to chatID. Markup the API refuses to parse is resent
// as plain text.
func (c *Client) SendMessage(ctx context.Context, chatID int64, r chat.Reply) (chat.MessageRef, error) {
	req := newSendRequest(chatID, r)
	var out sentMessage
	err := c.call(ctx, "sendMessage", req, &out)
	if err != nil && req.ParseMode != chat.ParseModeNone && isParseError(err) {
		c.logger.Warn("markup rejected, resending as plain text", zap.Int64("chat_id", chatID), zap.Error(err))
		req.Text, req.ParseMode = plainText(req.Text, req.ParseMode), chat.ParseModeNone
		err = c.call(ctx, "sendMessage", req, &out)
	}
	if err != nil {
		return chat.MessageRef{}, err
	}
	return chat.MessageRef{ChatID: chatID, MessageID: out.MessageID}, nil
}

// EditMessage replaces the text of a message sent earlier.
func (c *Client) EditMessage(ctx context.Context, ref chat.MessageRef, r chat.Reply) error {
	req := newSendRequest(ref.ChatID, r)
	req.MessageID = ref.MessageID
	err := c.call(ctx, "editMessageText", req, nil)
	if err != nil && req.ParseMode != chat.ParseModeNone && isParseError(err) {
		c.logger.Warn("markup rejected, editing as plain text", zap.Int64("chat_id", ref.ChatID), zap.Error(err))
		req.Text, req.ParseMode = plainText(req.Text, req.ParseMode), chat.ParseModeNone
		err = c.call(ctx, "editMessageText", req, nil)
	}
	if isNotModified(err) {
		return nil
	}
	return err
}

func (c *Client) AnswerCallback(ctx context.Context, callbackID string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]string{"callback_query_id": callbackID}, nil)
}

// Me is the bot identity reported by getMe.
type Me struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

func (c *Client) GetMe(ctx context.Context) (Me, error) {
	var me Me
	err := c.call(ctx, "getMe", struct{}{}, &me)
	return me, err
}

type setWebhookRequest struct {
	URL                string   `json:"url"`
	SecretToken        string   `json:"secret_token,omitempty"`
	AllowedUpdates     []string `json:"allowed_updates,omitempty"`
	DropPendingUpdates bool     `json:"drop_pending_updates,omitempty"`
}

// SetWebhook registers webhookURL as the update endpoint. Telegram echoes secret in
// the X-Telegram-Bot-Api-Secret-Token header of every delivery.
func (c *Client) SetWebhook(ctx context.Context, webhookURL, secret string, dropPending bool) error {
	return c.call(ctx, "setWebhook", setWebhookRequest{
		URL:                webhookURL,
		SecretToken:        secret,
		AllowedUpdates:     []string{"message", "callback_query"},
		DropPendingUpdates: dropPending,
	}, nil)
}

func (c *Client) DeleteWebhook(ctx context.Context, dropPending bool) error {
	return c.call(ctx, "deleteWebhook", map[string]bool{"drop_pending_updates": dropPending}, nil)
}

// redact drops the request URL, which carries the bot token, from transport errors.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// plainText strips HTML markup so the text can be sent without a parse mode.
func plainText(s, parseMode string) string {
	if parseMode != chat.ParseModeHTML {
		return s
	}
	return html.UnescapeString(tagPattern.ReplaceAllString(s, ""))
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
