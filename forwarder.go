package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/telforge/smsbridge/modem"
	"github.com/telforge/smsbridge/telegram"
)

const (
	// modemReadyTimeout covers dialing, the full initialization sequence and
	// the connection retry budget.
	modemReadyTimeout = 40 * time.Second
	// botReadyTimeout covers the Telegram identity check and announcement.
	botReadyTimeout = 30 * time.Second
	// healthInterval is how often the supervisor refreshes the health file.
	healthInterval = 10 * time.Second
	// forwardTimeout bounds a single inbound relay to Telegram, retries
	// included.
	forwardTimeout = 30 * time.Second
)

// Forwarder supervises the two halves of the bridge: the modem session and
// the Telegram bot. It wires inbound SMS to chat forwards and chat commands
// to outbound submissions, and maintains a health file while both run.
type Forwarder struct {
	config  *Config
	logger  *slog.Logger
	session *modem.Session
	bot     *telegram.Bot
}

func NewForwarder(config *Config, logger *slog.Logger) (*Forwarder, error) {
	f := &Forwarder{config: config, logger: logger.With("component", "forwarder")}

	modemConfig, err := modem.NewConfigBuilder().
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		WithHandler(f.forwardSMS).
		WithLogger(logger).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build modem config: %w", err)
	}
	f.session, err = modem.NewSession(modemConfig)
	if err != nil {
		return nil, fmt.Errorf("create modem session: %w", err)
	}

	f.bot, err = telegram.NewBot(telegram.Config{
		Token:    config.BotToken,
		ChatID:   config.ChatID,
		ProxyURL: config.ProxyURL,
		SendSMS:  f.session.Send,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return f, nil
}

// Run starts the modem session first, then the bot, and then monitors both
// until one fails or the context is cancelled. Either component stopping on
// its own is a fatal condition: the process exits and leaves restarting to
// the host.
func (f *Forwarder) Run(ctx context.Context) error {
	defer f.markUnhealthy()
	defer f.shutdown()

	errs := make(chan error, 2)

	f.logger.Info("Starting modem session")
	go func() { errs <- fmt.Errorf("modem session stopped: %w", f.session.Run(ctx)) }()
	if err := awaitReady(ctx, f.session.Ready(), errs, modemReadyTimeout); err != nil {
		return fmt.Errorf("modem session failed to start: %w", err)
	}

	f.logger.Info("Starting Telegram bot")
	go func() { errs <- fmt.Errorf("telegram bot stopped: %w", f.bot.Run(ctx)) }()
	if err := awaitReady(ctx, f.bot.Ready(), errs, botReadyTimeout); err != nil {
		return fmt.Errorf("telegram bot failed to start: %w", err)
	}

	f.markHealthy()
	f.logger.Info("Bridge is up")

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Shutting down")
			return nil
		case err := <-errs:
			return err
		case <-ticker.C:
			f.markHealthy()
		}
	}
}

func awaitReady(ctx context.Context, ready <-chan struct{}, errs <-chan error, timeout time.Duration) error {
	select {
	case <-ready:
		return nil
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("not ready within %s", timeout)
	}
}

func (f *Forwarder) shutdown() {
	if err := f.bot.Close(); err != nil {
		f.logger.Error("Failed to close bot", "error", err)
	}
	if err := f.session.Close(); err != nil {
		f.logger.Error("Failed to close modem session", "error", err)
	}
}

// forwardSMS relays one decoded inbound message to the chat.
func (f *Forwarder) forwardSMS(sender string, timestamp time.Time, text string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
	defer cancel()
	return f.bot.Forward(ctx, sender, timestamp, text)
}

// markHealthy writes the pid to the health file, so a host-level liveness
// probe can watch it.
func (f *Forwarder) markHealthy() {
	if f.config.HealthFile == "" {
		return
	}
	if err := os.WriteFile(f.config.HealthFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		f.logger.Warn("Failed to write health file", "path", f.config.HealthFile, "error", err)
	}
}

func (f *Forwarder) markUnhealthy() {
	if f.config.HealthFile == "" {
		return
	}
	if err := os.Remove(f.config.HealthFile); err != nil && !os.IsNotExist(err) {
		f.logger.Warn("Failed to remove health file", "path", f.config.HealthFile, "error", err)
	}
}
