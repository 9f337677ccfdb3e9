package modem

import (
	"log/slog"
	"time"
)

// Handler consumes one fully decoded inbound message. The timestamp is the
// service-centre timestamp of the message (for multi-part messages, of the
// first part received). The return value reports whether the consumer
// accepted the message; a rejected message is logged but never retried.
type Handler func(sender string, timestamp time.Time, text string) bool

// Config carries the session policy knobs. The retry and timing constants
// are policy, not mechanism: the state machines do not depend on their
// values.
type Config struct {
	Dialer  Dialer
	Handler Handler
	Codec   Codec
	Logger  *slog.Logger

	// MaxRetries bounds connection attempts and consecutive process-loop
	// errors.
	MaxRetries int
	// ReadErrorThreshold is the number of consecutive read errors after
	// which the read task declares the line dead and triggers a reconnect.
	ReadErrorThreshold int
	// RetryDelay is the pause between connection attempts and before a
	// reconnect.
	RetryDelay time.Duration
	// RetryDelayMax caps the backoff between connection attempts. When left
	// equal to RetryDelay the delay is fixed.
	RetryDelayMax time.Duration
	// InitCommandDelay is the settling pause before each initialization
	// command. The modem firmware drops or garbles commands issued
	// back-to-back.
	InitCommandDelay time.Duration
	// FlushAfter is the quiet period after which a pending inbound PDU is
	// force-flushed, so a payload whose trailer never arrives cannot stall
	// the pipeline forever.
	FlushAfter time.Duration
	// ConcatTTL is the age after which an incomplete multi-part entry is
	// evicted.
	ConcatTTL time.Duration
	// SubmitTimeout bounds the wait for a submission acknowledgement.
	SubmitTimeout time.Duration
	// SubmitSettleDelay is the pause between AT+CMGS and the PDU payload.
	SubmitSettleDelay time.Duration
	// QueueSize bounds the line queue between the read and process tasks.
	QueueSize int
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	if c.Handler == nil {
		return ErrNoHandler
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Codec == nil {
		c.Codec = GSMCodec{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.ReadErrorThreshold == 0 {
		c.ReadErrorThreshold = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.RetryDelayMax == 0 {
		c.RetryDelayMax = c.RetryDelay
	}
	if c.InitCommandDelay == 0 {
		c.InitCommandDelay = 2 * time.Second
	}
	if c.FlushAfter == 0 {
		c.FlushAfter = 5 * time.Second
	}
	if c.ConcatTTL == 0 {
		c.ConcatTTL = time.Minute
	}
	if c.SubmitTimeout == 0 {
		c.SubmitTimeout = 10 * time.Second
	}
	if c.SubmitSettleDelay == 0 {
		c.SubmitSettleDelay = time.Second
	}
	if c.QueueSize == 0 {
		c.QueueSize = 100
	}
}

// ConfigBuilder assembles a Config fluently. Zero-valued knobs fall back to
// defaults at Build time.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithHandler(h Handler) *ConfigBuilder {
	b.config.Handler = h
	return b
}

func (b *ConfigBuilder) WithCodec(c Codec) *ConfigBuilder {
	b.config.Codec = c
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithMaxRetries(n int) *ConfigBuilder {
	b.config.MaxRetries = n
	return b
}

func (b *ConfigBuilder) WithReadErrorThreshold(n int) *ConfigBuilder {
	b.config.ReadErrorThreshold = n
	return b
}

func (b *ConfigBuilder) WithRetryDelay(d time.Duration) *ConfigBuilder {
	b.config.RetryDelay = d
	return b
}

func (b *ConfigBuilder) WithRetryDelayMax(d time.Duration) *ConfigBuilder {
	b.config.RetryDelayMax = d
	return b
}

func (b *ConfigBuilder) WithInitCommandDelay(d time.Duration) *ConfigBuilder {
	b.config.InitCommandDelay = d
	return b
}

func (b *ConfigBuilder) WithFlushAfter(d time.Duration) *ConfigBuilder {
	b.config.FlushAfter = d
	return b
}

func (b *ConfigBuilder) WithConcatTTL(d time.Duration) *ConfigBuilder {
	b.config.ConcatTTL = d
	return b
}

func (b *ConfigBuilder) WithSubmitTimeout(d time.Duration) *ConfigBuilder {
	b.config.SubmitTimeout = d
	return b
}

func (b *ConfigBuilder) WithSubmitSettleDelay(d time.Duration) *ConfigBuilder {
	b.config.SubmitSettleDelay = d
	return b
}

func (b *ConfigBuilder) Build() (Config, error) {
	if err := b.config.validate(); err != nil {
		return Config{}, err
	}
	config := b.config
	config.setDefaults()
	return config, nil
}
