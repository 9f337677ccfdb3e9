package modem

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warthog618/sms"
	"github.com/warthog618/sms/encoding/pdumode"
	"github.com/warthog618/sms/encoding/tpdu"
)

// Message is one decoded inbound SMS.
type Message struct {
	Sender    string
	Timestamp time.Time
	Text      string
	// Concat carries the UDH concatenation metadata when this message is
	// one segment of a multi-part sequence, nil otherwise.
	Concat *ConcatInfo
}

// ConcatInfo is the per-segment concatenation header of a multi-part SMS.
type ConcatInfo struct {
	Ref   int // reference number shared by all parts
	Seq   int // 1-based sequence number of this part
	Total int // total number of parts
}

// EncodedPDU is one outbound frame ready for the AT+CMGS handshake.
type EncodedPDU struct {
	// Hex is the full PDU including the SMSC address prefix, in upper-case hex.
	Hex string
	// Length is the TPDU length in octets, excluding the SMSC prefix, as
	// required by the AT+CMGS argument.
	Length int
}

// Codec translates between hex-encoded PDUs and logical messages. The
// bit-level packing (7-bit/UCS2 alphabets, address formats) lives entirely
// behind this boundary.
type Codec interface {
	Decode(pduHex string) (Message, error)
	Encode(destination, text string) ([]EncodedPDU, error)
}

// GSMCodec implements Codec on top of github.com/warthog618/sms.
type GSMCodec struct{}

// Decode parses a hex SMS-DELIVER PDU into a Message.
func (GSMCodec) Decode(pduHex string) (Message, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(pduHex))
	if err != nil {
		return Message{}, fmt.Errorf("invalid PDU hex: %w", err)
	}

	p, err := pdumode.UnmarshalBinary(raw)
	if err != nil {
		return Message{}, fmt.Errorf("unmarshal PDU: %w", err)
	}

	t := &tpdu.TPDU{}
	if err := t.UnmarshalBinary(p.TPDU); err != nil {
		return Message{}, fmt.Errorf("unmarshal TPDU: %w", err)
	}
	if t.SmsType() != tpdu.SmsDeliver {
		return Message{}, fmt.Errorf("unsupported PDU type: %v", t.SmsType())
	}

	alpha, _ := t.Alphabet()
	ud, err := tpdu.DecodeUserData(t.UD, t.UDH, alpha)
	if err != nil {
		return Message{}, fmt.Errorf("decode user data: %w", err)
	}

	msg := Message{
		Sender:    t.OA.Number(),
		Timestamp: t.SCTS.Time,
		Text:      string(ud),
	}
	if total, seq, ref, ok := t.ConcatInfo(); ok && total > 1 {
		msg.Concat = &ConcatInfo{Ref: ref, Seq: seq, Total: total}
	}
	return msg, nil
}

// Encode packs a logical message into one or more SMS-SUBMIT PDUs, splitting
// and choosing the alphabet as needed. Each PDU requests a delivery status
// report.
func (GSMCodec) Encode(destination, text string) ([]EncodedPDU, error) {
	tpdus, err := sms.Encode([]byte(text), sms.To(destination), sms.WithAllCharsets)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	out := make([]EncodedPDU, 0, len(tpdus))
	for i := range tpdus {
		// TP-SRR: request a delivery status report from the SMSC.
		tpdus[i].FirstOctet |= 0x20

		tb, err := tpdus[i].MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal TPDU %d/%d: %w", i+1, len(tpdus), err)
		}
		// An empty SMSC address prefix makes the modem fall back to the
		// SIM's default service centre.
		p := pdumode.PDU{TPDU: tb}
		b, err := p.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal PDU %d/%d: %w", i+1, len(tpdus), err)
		}

		h := strings.ToUpper(hex.EncodeToString(b))
		out = append(out, EncodedPDU{Hex: h, Length: PayloadLength(h)})
	}
	return out, nil
}

// PayloadLength computes the AT+CMGS length argument from a full PDU hex
// string: the total octet count minus the SMSC address prefix, that is the
// length octet itself plus the octets it counts.
func PayloadLength(pduHex string) int {
	if len(pduHex) < 2 {
		return 0
	}
	smscLen, err := strconv.ParseInt(pduHex[:2], 16, 32)
	if err != nil {
		return 0
	}
	n := len(pduHex)/2 - int(smscLen) - 1
	if n < 0 {
		return 0
	}
	return n
}
