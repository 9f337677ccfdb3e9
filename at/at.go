package at

import "strings"

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = "> "
	// CtrlZ terminates PDU data after an AT+CMGS command.
	CtrlZ = "\x1a"
	// Esc aborts a pending AT+CMGS data entry.
	Esc = "\x1b"

	// Response Codes
	OK       = "OK"
	ERROR    = "ERROR"
	CmeError = "+CME ERROR:"
	CmsError = "+CMS ERROR:"

	// URCs (Unsolicited Result Codes)
	UrcIncomingPDU = "+CMT:"  // incoming message header, PDU payload follows
	UrcSubmitRef   = "+CMGS:" // message reference reported after a submit
	UrcRegStatus   = "+CREG:" // network registration status
)

// FrameKind identifies what a received frame means to the session.
type FrameKind int

const (
	KindNoise          FrameKind = iota // empty lines, bare OK, the SMS prompt
	KindIncomingHeader                  // +CMT: header announcing a PDU payload
	KindSubmitAck                       // +CMGS: successful submission acknowledgement
	KindRegStatus                       // +CREG: registration status, parsed for logging only
	KindError                           // ERROR, +CME ERROR, +CMS ERROR
	KindOther                           // anything else
)

// Classify identifies the nature of a trimmed modem frame.
//
// Classification is stateless: a continuation line of a pending PDU payload
// looks like KindOther here and is claimed by the session while its
// assembler is accumulating.
func Classify(frame string) FrameKind {
	switch frame {
	case "", " ", OK, ">", Prompt:
		return KindNoise
	}

	switch {
	case strings.HasPrefix(frame, UrcIncomingPDU):
		return KindIncomingHeader
	case strings.HasPrefix(frame, UrcSubmitRef):
		return KindSubmitAck
	case strings.HasPrefix(frame, UrcRegStatus):
		return KindRegStatus
	case frame == ERROR, strings.HasPrefix(frame, CmeError), strings.HasPrefix(frame, CmsError):
		return KindError
	default:
		return KindOther
	}
}
