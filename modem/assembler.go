package modem

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// headerLength matches the numeric length field of a +CMT header, tolerating
// an optional leading comma before the number ("+CMT: ,28" and "+CMT: 28").
var headerLength = regexp.MustCompile(`\+CMT:\s*(?:,\s*)?(\d+)`)

// assembler turns a +CMT header plus one or more raw hex continuation lines
// into one decoded message. It has two states: idle (pending == nil) and
// accumulating (pending != nil). It is driven exclusively by the session's
// process task, so it needs no locking.
type assembler struct {
	codec  Codec
	logger *slog.Logger
	emit   func(Message)

	pending *pendingHeader
}

// pendingHeader is the single in-flight inbound message.
type pendingHeader struct {
	expected int             // announced payload length in octets
	buf      strings.Builder // accumulated hex text
}

func newAssembler(codec Codec, logger *slog.Logger, emit func(Message)) *assembler {
	return &assembler{codec: codec, logger: logger, emit: emit}
}

// Accumulating reports whether a header is open, in which case continuation
// lines must be routed here.
func (a *assembler) Accumulating() bool { return a.pending != nil }

// HandleHeader transitions idle to accumulating. A malformed header is
// logged and leaves the assembler idle, so it can never corrupt subsequent
// framing. A header arriving while another is still open force-flushes the
// open one first.
func (a *assembler) HandleHeader(frame string) {
	if a.pending != nil {
		a.logger.Warn("New header while a payload is pending, flushing",
			"expected_octets", a.pending.expected)
		a.Flush()
	}

	m := headerLength.FindStringSubmatch(frame)
	if m == nil {
		a.logger.Warn("Could not parse PDU length from header", "header", frame)
		return
	}
	length, err := strconv.Atoi(m[1])
	if err != nil {
		a.logger.Warn("Could not parse PDU length from header", "header", frame, "error", err)
		return
	}

	a.pending = &pendingHeader{expected: length}
	a.logger.Debug("Awaiting PDU payload", "expected_octets", length)
}

// HandleLine appends one continuation line. The length field counts octets
// and the accumulator holds hex text, so the payload is complete once the
// accumulator reaches twice the announced count.
func (a *assembler) HandleLine(frame string) {
	if a.pending == nil {
		return
	}

	a.pending.buf.WriteString(frame)
	if a.pending.buf.Len() >= a.pending.expected*2 {
		a.finish(false)
		return
	}
	a.logger.Debug("PDU payload incomplete",
		"received_chars", a.pending.buf.Len(),
		"expected_chars", a.pending.expected*2)
}

// Flush force-completes the pending payload, if any. The process task calls
// it when no line has arrived within the quiet period, so a payload whose
// trailer never arrives does not stall the pipeline forever.
func (a *assembler) Flush() {
	if a.pending == nil {
		return
	}
	a.finish(true)
}

func (a *assembler) finish(forced bool) {
	payload := strings.TrimSpace(a.pending.buf.String())
	expected := a.pending.expected
	// Reset before decoding: no error path below may leave a stale header
	// behind that would block future messages.
	a.pending = nil

	msg, err := a.codec.Decode(payload)
	if err != nil {
		// Log the raw payload for diagnosis and drop the message.
		a.logger.Error("Failed to decode PDU", "error", err, "forced", forced,
			"expected_octets", expected, "payload", payload)
		return
	}
	if forced {
		a.logger.Warn("Force-decoded possibly incomplete PDU", "sender", msg.Sender)
	}
	a.emit(msg)
}
