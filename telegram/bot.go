// Package telegram relays SMS traffic to and from a Telegram chat: inbound
// messages are forwarded to a single authorized chat, and a guided
// conversation flow lets that chat send SMS back out through the modem.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoToken is returned when the config is missing the bot API token.
	ErrNoToken = errors.New("no bot token configured")
	// ErrNoChatID is returned when the config is missing the authorized chat.
	ErrNoChatID = errors.New("no chat ID configured")
	// ErrNoSendFunc is returned when the config is missing the SMS send callback.
	ErrNoSendFunc = errors.New("no SMS send callback configured")
	// ErrPollingExhausted is returned by Run when the update loop hit its
	// consecutive error budget and gave up.
	ErrPollingExhausted = errors.New("polling error budget exhausted")
	// ErrAlreadyClosed is returned by Run on a closed bot.
	ErrAlreadyClosed = errors.New("bot is closed")
)

// SendSMS submits one SMS through the modem. It blocks until the submission
// is acknowledged or fails.
type SendSMS func(ctx context.Context, destination, text string) error

// Config carries the bot's identity and policy knobs.
type Config struct {
	Token  string
	ChatID string
	// ProxyURL routes all API traffic through an HTTP proxy when set.
	ProxyURL string
	SendSMS  SendSMS
	Logger   *slog.Logger

	// PollTimeout is the long-polling hold time requested from the API.
	PollTimeout time.Duration
	// MaxRetries bounds sendMessage attempts per message.
	MaxRetries int
	// RetryDelay is the pause between sendMessage attempts and between
	// polling retries.
	RetryDelay time.Duration
	// ErrorBudget is the number of consecutive polling failures tolerated
	// before the bot gives up.
	ErrorBudget int
}

func (c *Config) validate() error {
	if c.Token == "" {
		return ErrNoToken
	}
	if c.ChatID == "" {
		return ErrNoChatID
	}
	if c.SendSMS == nil {
		return ErrNoSendFunc
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 50 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.ErrorBudget == 0 {
		c.ErrorBudget = 5
	}
}

// Bot runs the Telegram side of the bridge.
type Bot struct {
	config Config
	logger *slog.Logger
	client *client

	mu            sync.Mutex
	conversations map[int64]*conversation
	closed        bool
	cancel        context.CancelFunc

	offset    int64
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

func NewBot(config Config) (*Bot, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	c, err := newClient(config.Token, config.ProxyURL, config.PollTimeout)
	if err != nil {
		return nil, err
	}
	return &Bot{
		config:        config,
		logger:        config.Logger.With("component", "telegram"),
		client:        c,
		conversations: make(map[int64]*conversation),
		ready:         make(chan struct{}),
		done:          make(chan struct{}),
	}, nil
}

// Run verifies the API connection, announces itself in the chat and then
// long-polls for updates until the context is cancelled, the bot is closed,
// or the error budget runs out.
func (b *Bot) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrAlreadyClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mu.Unlock()

	defer cancel()
	defer close(b.done)

	me, err := b.client.getMe(ctx)
	if err != nil {
		return fmt.Errorf("verify bot identity: %w", err)
	}
	b.logger.Info("Connected to Telegram", "username", me.Username)

	if err := b.client.setMyCommands(ctx, menuCommands); err != nil {
		b.logger.Warn("Failed to set command menu", "error", err)
	}
	if err := b.send(ctx, welcomeText, "HTML", nil, false); err != nil {
		b.logger.Warn("Failed to send welcome message", "error", err)
	}

	b.readyOnce.Do(func() { close(b.ready) })
	return b.pollLoop(ctx)
}

// Ready is closed once the bot has verified its API connection, or when
// the bot is closed.
func (b *Bot) Ready() <-chan struct{} {
	return b.ready
}

// Done is closed when Run has returned.
func (b *Bot) Done() <-chan struct{} {
	return b.done
}

// Close stops the update loop. It is idempotent.
func (b *Bot) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.readyOnce.Do(func() { close(b.ready) })
	b.logger.Info("Bot closed")
	return nil
}

func (b *Bot) pollLoop(ctx context.Context) error {
	consecutive := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := b.client.getUpdates(ctx, b.offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			consecutive++
			b.logger.Error("Failed to fetch updates", "consecutive", consecutive, "error", err)
			if consecutive >= b.config.ErrorBudget {
				return fmt.Errorf("%w: %v", ErrPollingExhausted, err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.config.RetryDelay):
			}
			continue
		}
		consecutive = 0

		for _, update := range updates {
			if update.ID >= b.offset {
				b.offset = update.ID + 1
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update Update) {
	switch {
	case update.Message != nil && update.Message.Text != "":
		chatID := update.Message.Chat.ID
		if chatIDString(chatID) != b.config.ChatID {
			b.logger.Warn("Message from unauthorized chat", "chat_id", chatID)
			return
		}
		b.handleText(ctx, chatID, update.Message.Text)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	default:
		b.logger.Warn("Unhandled update", "update_id", update.ID)
	}
}

func (b *Bot) handleText(ctx context.Context, chatID int64, text string) {
	b.logger.Info("Chat message received", "chat_id", chatID, "length", len(text))

	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, chatID, text)
		return
	}

	switch b.state(chatID).state {
	case stateAwaitingNumber:
		b.handleNumberInput(ctx, chatID, text)
	case stateAwaitingContent:
		b.handleContentInput(ctx, chatID, text)
	default:
		b.reply(ctx, idleHintText, "", nil)
	}
}

func (b *Bot) handleCommand(ctx context.Context, chatID int64, text string) {
	command := strings.ToLower(strings.TrimPrefix(strings.Fields(text)[0], "/"))
	switch command {
	case "start":
		b.reply(ctx, welcomeText, "HTML", nil)
	case "help":
		b.reply(ctx, helpText, "HTML", nil)
	case "sendsms":
		b.setState(chatID, conversation{state: stateAwaitingNumber})
		b.reply(ctx, askNumberText, "", cancelKeyboard())
	default:
		b.reply(ctx, unknownCommandText, "", nil)
	}
}

func (b *Bot) handleNumberInput(ctx context.Context, chatID int64, text string) {
	if !phoneNumber.MatchString(text) {
		b.reply(ctx, badNumberText, "", cancelKeyboard())
		return
	}
	b.setState(chatID, conversation{state: stateAwaitingContent, number: text})
	b.reply(ctx, askContentText, "", cancelKeyboard())
}

func (b *Bot) handleContentInput(ctx context.Context, chatID int64, text string) {
	number := b.state(chatID).number
	b.clearState(chatID)

	result := sentOKText
	if err := b.config.SendSMS(ctx, number, text); err != nil {
		b.logger.Error("SMS submission failed", "destination", number, "error", err)
		result = sentFailText
	}
	b.reply(ctx, result, "", replyKeyboard(number))
}

func (b *Bot) handleCallback(ctx context.Context, query *CallbackQuery) {
	if query.Message == nil {
		return
	}
	chatID := query.Message.Chat.ID

	switch {
	case query.Data == callbackCancel:
		b.clearState(chatID)
		b.answer(ctx, query.ID, "Operation cancelled")
		b.reply(ctx, cancelledText, "", nil)
	case strings.HasPrefix(query.Data, callbackReplyPrefix):
		number := strings.TrimPrefix(query.Data, callbackReplyPrefix)
		b.setState(chatID, conversation{state: stateAwaitingContent, number: number})
		b.answer(ctx, query.ID, "Enter the reply text")
		b.reply(ctx, fmt.Sprintf("📄 Enter the reply to send to %s:", number), "", cancelKeyboard())
	default:
		b.logger.Warn("Unexpected callback data", "data", query.Data)
		b.answer(ctx, query.ID, "")
	}
}

// Forward relays one inbound SMS to the authorized chat. The return value
// reports whether delivery succeeded within the retry budget.
func (b *Bot) Forward(ctx context.Context, sender string, timestamp time.Time, text string) bool {
	safeSender := html.EscapeString(sender)
	message := fmt.Sprintf(
		"📩 <b>New SMS received</b>\n"+
			"📞 <b>From</b>: <code>%s</code>\n"+
			"🕒 <b>Time</b>: %s\n"+
			"📄 <b>Text</b>:\n%s",
		safeSender,
		timestamp.Format(time.RFC3339),
		html.EscapeString(text),
	)

	if err := b.send(ctx, message, "HTML", replyKeyboard(safeSender), true); err != nil {
		b.logger.Error("Failed to forward SMS", "sender", sender, "error", err)
		return false
	}
	return true
}

// send posts one message to the authorized chat, retrying on failure.
func (b *Bot) send(ctx context.Context, text, parseMode string, keyboard *inlineKeyboard, notify bool) error {
	msg := outgoingMessage{
		ChatID:              b.config.ChatID,
		Text:                text,
		ParseMode:           parseMode,
		ReplyMarkup:         keyboard,
		DisableNotification: !notify,
	}

	var lastErr error
	for attempt := 1; attempt <= b.config.MaxRetries; attempt++ {
		lastErr = b.client.sendMessage(ctx, msg)
		if lastErr == nil {
			return nil
		}
		b.logger.Warn("sendMessage failed", "attempt", attempt, "error", lastErr)
		if attempt < b.config.MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.config.RetryDelay):
			}
		}
	}
	return lastErr
}

func (b *Bot) reply(ctx context.Context, text, parseMode string, keyboard *inlineKeyboard) {
	if err := b.send(ctx, text, parseMode, keyboard, false); err != nil {
		b.logger.Error("Failed to send reply", "error", err)
	}
}

func (b *Bot) answer(ctx context.Context, queryID, text string) {
	if err := b.client.answerCallbackQuery(ctx, queryID, text); err != nil {
		b.logger.Warn("Failed to answer callback query", "error", err)
	}
}

func (b *Bot) state(chatID int64) conversation {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.conversations[chatID]; ok {
		return *s
	}
	return conversation{}
}

func (b *Bot) setState(chatID int64, s conversation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[chatID] = &s
}

func (b *Bot) clearState(chatID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, chatID)
}
