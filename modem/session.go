package modem

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/telforge/smsbridge/at"
)

// Session owns one physical modem line. It multiplexes three concerns over
// the single serial stream: unsolicited notifications (incoming PDUs,
// registration events), synchronous command writes, and hex payload
// continuation.
//
// Two tasks run while the session is up. The read task is the only reader of
// the transport and tokenizes the stream into a bounded frame queue; the
// process task is the only consumer of that queue and the only mutator of
// the assembler and the concatenation cache, so neither needs fine-grained
// locking. Outbound submissions share the transport write path and are
// serialized by Send.
type Session struct {
	config Config
	logger *slog.Logger

	assembler *assembler
	cache     *concatCache

	// mu guards transport, closed, cancel and readCancel.
	mu         sync.Mutex
	transport  Transport
	closed     bool
	cancel     context.CancelFunc
	readCancel context.CancelFunc

	// submitMu serializes outbound submissions; submitAck is set by the
	// process task when it sees a +CMGS acknowledgement.
	submitMu  sync.Mutex
	submitAck *signal

	lines      chan string
	readFailed chan error

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
}

// NewSession creates a Session for the given configuration. The session does
// not touch the device until Run is called.
func NewSession(config Config) (*Session, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	s := &Session{
		config:     config,
		logger:     config.Logger.With("component", "session"),
		submitAck:  newSignal(),
		lines:      make(chan string, config.QueueSize),
		readFailed: make(chan error, 1),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.assembler = newAssembler(config.Codec, s.logger, s.dispatchMessage)
	s.cache = newConcatCache(config.ConcatTTL, s.logger)
	return s, nil
}

// Run connects to the device, performs initialization and drives the process
// loop until a fatal error or Close. It must be called at most once.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrAlreadyClosed
	}
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	defer cancel()
	defer close(s.done)

	if err := s.connect(ctx); err != nil {
		return err
	}
	s.readyOnce.Do(func() { close(s.ready) })

	err := s.processLoop(ctx)
	s.closeTransport()
	return err
}

// Ready is closed once the session has completed initialization and is
// accepting traffic, or when the session is closed. The session imposes no
// startup timeout of its own; callers enforce theirs.
func (s *Session) Ready() <-chan struct{} {
	return s.ready
}

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close shuts the session down: it cancels both tasks, closes the transport
// and unblocks any caller waiting on readiness. Close is idempotent and safe
// to call concurrently with an in-progress reconnect.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.closeTransport()
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("Session closed")
	return nil
}

// connect dials the device with a bounded retry budget, runs the
// initialization sequence and starts the read task. After the budget is
// exhausted it fails with ErrConnectionExhausted and the line must not be
// assumed usable.
func (s *Session) connect(ctx context.Context) error {
	delay := &backoff.Backoff{
		Min: s.config.RetryDelay,
		Max: s.config.RetryDelayMax,
	}

	var lastErr error
	for attempt := 1; attempt <= s.config.MaxRetries; attempt++ {
		transport, err := s.config.Dialer.Dial()
		if err == nil {
			err = s.initialize(ctx, transport)
			if err == nil {
				s.mu.Lock()
				if s.closed {
					s.mu.Unlock()
					transport.Close()
					return ErrAlreadyClosed
				}
				s.transport = transport
				var readCtx context.Context
				readCtx, s.readCancel = context.WithCancel(ctx)
				s.mu.Unlock()

				s.startReadLoop(readCtx, transport)
				s.logger.Info("Connected to modem", "attempt", attempt)
				return nil
			}
			transport.Close()
		}
		lastErr = err
		s.logger.Warn("Connection attempt failed", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay.Duration()):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrConnectionExhausted, s.config.MaxRetries, lastErr)
}

// reconnect performs a full close + delay + connect. It is used when the
// read or process path has detected that the line is unusable.
func (s *Session) reconnect(ctx context.Context) error {
	s.logger.Info("Reconnecting to modem")
	s.closeTransport()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.config.RetryDelay):
	}
	return s.connect(ctx)
}

func (s *Session) closeTransport() {
	s.mu.Lock()
	transport := s.transport
	readCancel := s.readCancel
	s.transport = nil
	s.readCancel = nil
	s.mu.Unlock()

	if readCancel != nil {
		readCancel()
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			s.logger.Warn("Failed to close transport", "error", err)
		}
	}
}

// initialize runs the fixed modem setup sequence. Each command is preceded
// by a settling delay: the firmware drops or garbles commands issued
// back-to-back. Responses are not awaited; the dispatcher discards the OKs
// as noise once the read task starts.
func (s *Session) initialize(ctx context.Context, transport Transport) error {
	for _, cmd := range initCommands(time.Now()) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.InitCommandDelay):
		}
		if err := writeCommand(transport, cmd); err != nil {
			return fmt.Errorf("initialize with %q: %w", cmd, err)
		}
	}
	return nil
}

// initCommands is the ordered initialization sequence. The clock command is
// rendered from the host time with the zone offset in quarter hours, as
// AT+CCLK expects.
func initCommands(now time.Time) []string {
	_, offset := now.Zone()
	clock := fmt.Sprintf(`AT+CCLK="%s%+03d"`, now.Format("06/01/02,15:04:05"), offset/900)
	return []string{
		"AT&F",                            // factory defaults
		"ATE0",                            // echo off
		"AT+CFUN=1",                       // full functionality
		"AT+CMGF=0",                       // PDU mode
		`AT+CSCS="UCS2"`,                  // character set
		"AT+CSMS=1",                       // SMS service phase 2+
		"AT+CREG=2",                       // registration URCs with location
		"AT+CTZU=3",                       // NITZ time sync to RTC
		"AT+CTZR=0",                       // no time-zone change reports
		clock,                             // module clock from host time
		`AT+QCFG="urc/cache",0`,           // deliver URCs immediately
		`AT+QURCCFG="urcport","usbmodem"`, // URCs on the USB modem port
		`AT+CPMS="ME","ME","ME"`,          // message storage
		"AT+CMGD=1,4",                     // clear stored messages
		"AT+CNMI=2,2,0,0,0",               // deliver new messages directly
		"AT+CSMP=17,167,0,8",              // SMS parameters, long messages
		"AT+CSDH=1",                       // detailed header info
		"AT+CMMS=2",                       // keep link open between sends
		"AT&W",                            // persist settings
	}
}

// startReadLoop launches the read task for one connection. It is the only
// reader of the transport: it tokenizes the stream with at.Splitter, so the
// AT+CMGS data prompt ("> ", which carries no line terminator) arrives as a
// frame of its own, produces frames into the bounded queue, counts
// consecutive scan errors and reports a device read failure once the
// threshold is reached, so a dead device surfaces as a reconnect instead of
// an infinite retry loop.
func (s *Session) startReadLoop(ctx context.Context, transport Transport) {
	// Drop any stale failure report from a previous connection.
	select {
	case <-s.readFailed:
	default:
	}

	go func() {
		errCount := 0
		for {
			if ctx.Err() != nil {
				return
			}

			scanner := bufio.NewScanner(transport)
			scanner.Split(at.Splitter)
			for scanner.Scan() {
				errCount = 0
				frame := scanner.Text()
				if frame == "" {
					continue
				}
				select {
				case s.lines <- frame:
				case <-ctx.Done():
					return
				}
			}

			err := scanner.Err()
			if err == nil {
				// Clean EOF: the transport was closed under us.
				return
			}

			errCount++
			s.logger.Warn("Read error", "error", err, "consecutive_errors", errCount)
			if errCount >= s.config.ReadErrorThreshold {
				select {
				case s.readFailed <- fmt.Errorf("%w: %v", ErrDeviceRead, err):
				default:
				}
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(s.config.RetryDelay):
			}
		}
	}()
}

// processLoop consumes the line queue, drives the assembler and the
// concatenation cache, force-flushes the assembler after a quiet period and
// reacts to read failures. Errors are counted until the budget is exhausted,
// at which point the session is torn down rather than silently retried
// forever.
func (s *Session) processLoop(ctx context.Context) error {
	idle := time.NewTimer(s.config.FlushAfter)
	defer idle.Stop()

	procErrs := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw := <-s.lines:
			s.processFrame(raw)
			procErrs = 0
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.config.FlushAfter)

		case <-idle.C:
			s.assembler.Flush()
			idle.Reset(s.config.FlushAfter)

		case err := <-s.readFailed:
			procErrs++
			s.logger.Error("Device read failure", "error", err, "consecutive_errors", procErrs)
			if procErrs >= s.config.MaxRetries {
				return fmt.Errorf("process error budget exhausted: %w", err)
			}
			if rerr := s.reconnect(ctx); rerr != nil {
				return rerr
			}
		}
	}
}

// processFrame classifies one frame and routes it. The priority order
// matters: headers may interrupt an accumulating payload, but while a
// payload is pending every other non-noise line is a continuation of it.
func (s *Session) processFrame(raw string) {
	frame := at.TrimFrame(raw)
	kind := at.Classify(frame)

	switch {
	case kind == at.KindNoise:

	case kind == at.KindIncomingHeader:
		s.assembler.HandleHeader(frame)

	case s.assembler.Accumulating():
		s.assembler.HandleLine(frame)

	case kind == at.KindSubmitAck:
		s.logger.Info("Submission acknowledged", "response", frame)
		s.submitAck.Set()

	case kind == at.KindRegStatus:
		s.logRegistration(frame)

	case kind == at.KindError:
		s.logger.Warn("Modem reported error", "response", frame)

	default:
		s.logger.Warn("Unhandled frame", "frame", frame)
	}
}

// dispatchMessage receives every message the assembler decodes. Multi-part
// segments detour through the concatenation cache; complete messages go to
// the handler. A rejected message is logged, never retried.
func (s *Session) dispatchMessage(msg Message) {
	if msg.Concat != nil {
		merged, ok := s.cache.Add(msg)
		if !ok {
			return
		}
		msg = merged
	}

	s.logger.Info("Decoded incoming SMS",
		"sender", msg.Sender, "timestamp", msg.Timestamp, "length", len(msg.Text))
	if !s.config.Handler(msg.Sender, msg.Timestamp, msg.Text) {
		s.logger.Error("Message handler rejected message", "sender", msg.Sender)
	}
}

// Registration frames are informational only: parsed for the log, never
// surfaced.
func (s *Session) logRegistration(frame string) {
	reg, err := at.ParseRegistration(frame)
	if err != nil {
		s.logger.Debug("Could not parse registration status", "error", err, "frame", frame)
		return
	}
	s.logger.Debug("Network registration update",
		"status", reg.Status, "lac", reg.LAC, "ci", reg.CI, "access_tech", reg.AccessTech)
}

// sendCommand writes one command over the open transport with the line
// terminator appended. It fails when the transport is not open.
func (s *Session) sendCommand(text string) error {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()

	if transport == nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, ErrNotConnected)
	}
	return writeCommand(transport, text)
}

// writeCommand appends CRLF unless the command already ends with Ctrl-Z or
// ESC, which terminate an AT+CMGS data entry by themselves.
func writeCommand(transport Transport, text string) error {
	wire := text
	if n := len(text); n == 0 || (text[n-1] != 0x1a && text[n-1] != 0x1b) {
		wire = text + at.CRLF
	}
	if _, err := transport.Write([]byte(wire)); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrWriteFailed, text, err)
	}
	return nil
}
