package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// apiResponse is the envelope every Bot API method returns.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// User is the bot's own identity, as reported by getMe.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Update is one long-polling update. Only the fields the bot acts on are
// mapped; everything else is ignored.
type Update struct {
	ID            int64          `json:"update_id"`
	Message       *IncomingText  `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// IncomingText is a text message received from a chat.
type IncomingText struct {
	Chat Chat   `json:"chat"`
	Text string `json:"text"`
}

// Chat identifies the conversation an update belongs to.
type Chat struct {
	ID int64 `json:"id"`
}

// CallbackQuery is a press on an inline keyboard button.
type CallbackQuery struct {
	ID      string        `json:"id"`
	Message *IncomingText `json:"message"`
	Data    string        `json:"data"`
}

// botCommand is one entry of the command menu set via setMyCommands.
type botCommand struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// inlineButton and inlineKeyboard model the reply_markup payload of
// sendMessage.
type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type inlineKeyboard struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

// outgoingMessage is the sendMessage request body.
type outgoingMessage struct {
	ChatID              string          `json:"chat_id"`
	Text                string          `json:"text"`
	ParseMode           string          `json:"parse_mode,omitempty"`
	ReplyMarkup         *inlineKeyboard `json:"reply_markup,omitempty"`
	DisableNotification bool            `json:"disable_notification"`
}

// client is a minimal Bot API client. It speaks plain HTTPS with an optional
// proxy; polling timeouts ride on top of the request timeout so a healthy
// long poll is never cut short.
type client struct {
	baseURL     string
	httpClient  *http.Client
	pollTimeout time.Duration
}

func newClient(token string, proxyURL string, pollTimeout time.Duration) (*client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		proxy, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &client{
		baseURL: "https://api.telegram.org/bot" + token + "/",
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   pollTimeout + 10*time.Second,
		},
		pollTimeout: pollTimeout,
	}, nil
}

// call posts a JSON body to one API method and decodes the result envelope.
// A nil body issues a GET.
func (c *client) call(ctx context.Context, method string, body, result any) error {
	var req *http.Request
	var err error
	if body == nil {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+method, nil)
	} else {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encode %s request: %w", method, err)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+method, &buf)
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode %s response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s failed (HTTP %d): %s", method, resp.StatusCode, envelope.Description)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func (c *client) getMe(ctx context.Context) (User, error) {
	var u User
	err := c.call(ctx, "getMe", nil, &u)
	return u, err
}

func (c *client) setMyCommands(ctx context.Context, commands []botCommand) error {
	return c.call(ctx, "setMyCommands", map[string]any{"commands": commands}, nil)
}

// getUpdates long-polls for updates past offset. The server holds the
// request open for pollTimeout seconds when nothing is pending.
func (c *client) getUpdates(ctx context.Context, offset int64) ([]Update, error) {
	body := map[string]any{
		"offset":  offset,
		"timeout": int(c.pollTimeout / time.Second),
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", body, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *client) sendMessage(ctx context.Context, msg outgoingMessage) error {
	return c.call(ctx, "sendMessage", msg, nil)
}

func (c *client) answerCallbackQuery(ctx context.Context, queryID, text string) error {
	body := map[string]any{
		"callback_query_id": queryID,
		"text":              text,
	}
	return c.call(ctx, "answerCallbackQuery", body, nil)
}

func chatIDString(id int64) string {
	return strconv.FormatInt(id, 10)
}
