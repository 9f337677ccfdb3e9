package modem

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/telforge/smsbridge/at"
)

// Send encodes text into one or more PDUs and drives the per-PDU
// submit/acknowledge protocol. Submissions are serialized: only one is in
// flight at a time, and the call blocks until the modem acknowledges the
// submission or the acknowledgement window elapses. A timeout is failure,
// not "unknown".
func (s *Session) Send(ctx context.Context, destination, text string) error {
	if strings.TrimSpace(destination) == "" {
		return ErrEmptyDestination
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	// Clear before sending and again on the way out, so a stale
	// acknowledgement from an earlier operation can never be misread as
	// success for this or a later one.
	s.submitAck.Clear()
	defer s.submitAck.Clear()

	pdus, err := s.config.Codec.Encode(destination, text)
	if err != nil {
		return fmt.Errorf("encode outbound SMS: %w", err)
	}
	s.logger.Debug("Submitting SMS", "destination", destination, "pdus", len(pdus))

	for i, pdu := range pdus {
		if err := s.sendCommand(fmt.Sprintf("AT+CMGS=%d", pdu.Length)); err != nil {
			return err
		}

		// Give the modem a moment to raise the data prompt; the prompt
		// itself is discarded by the dispatcher as noise.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.config.SubmitSettleDelay):
		}

		if err := s.sendCommand(pdu.Hex + at.CtrlZ); err != nil {
			return err
		}
		s.logger.Debug("PDU written", "part", i+1, "total", len(pdus), "octets", pdu.Length)
	}

	if err := s.submitAck.Wait(ctx, s.config.SubmitTimeout); err != nil {
		s.logger.Error("Submission failed", "destination", destination, "error", err)
		return err
	}

	s.logger.Info("SMS submitted", "destination", destination, "pdus", len(pdus))
	return nil
}
