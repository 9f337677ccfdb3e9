package modem_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telforge/smsbridge/modem"
)

// Classic single-part SMS-DELIVER: "How are you?" from +31641600986, with a
// 7-octet SMSC prefix.
const deliverPDU = "07911326040000F0040B911346610089F60000208062917314080CC8F71D14969741F977FD07"

func TestGSMCodecDecode(t *testing.T) {
	msg, err := modem.GSMCodec{}.Decode(deliverPDU)
	require.NoError(t, err)

	assert.Equal(t, "How are you?", msg.Text)
	assert.Contains(t, msg.Sender, "31641600986")
	assert.False(t, msg.Timestamp.IsZero())
	assert.Nil(t, msg.Concat)
}

func TestGSMCodecDecodeRejectsBadInput(t *testing.T) {
	_, err := modem.GSMCodec{}.Decode("not hex at all")
	assert.Error(t, err)

	_, err = modem.GSMCodec{}.Decode("07")
	assert.Error(t, err)
}

func TestGSMCodecEncode(t *testing.T) {
	pdus, err := modem.GSMCodec{}.Encode("+15555521435", "Hello")
	require.NoError(t, err)
	require.Len(t, pdus, 1)

	pdu := pdus[0]
	// No SMSC prefix: the modem falls back to the SIM's service centre.
	assert.True(t, strings.HasPrefix(pdu.Hex, "00"))
	assert.Equal(t, strings.ToUpper(pdu.Hex), pdu.Hex)
	assert.Equal(t, len(pdu.Hex)/2-1, pdu.Length)
}

func TestGSMCodecEncodeSplitsLongMessages(t *testing.T) {
	pdus, err := modem.GSMCodec{}.Encode("+15555521435", strings.Repeat("x", 400))
	require.NoError(t, err)
	assert.Greater(t, len(pdus), 1)
	for _, pdu := range pdus {
		assert.Equal(t, len(pdu.Hex)/2-1, pdu.Length)
	}
}

func TestPayloadLength(t *testing.T) {
	tests := []struct {
		name   string
		pduHex string
		want   int
	}{
		{"no SMSC prefix", "0001000B915155551234F500000548656C6C6F", 18},
		{"seven octet SMSC prefix", deliverPDU, len(deliverPDU)/2 - 8},
		{"empty", "", 0},
		{"not hex", "ZZ01", 0},
		{"prefix longer than PDU", "FF", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, modem.PayloadLength(tt.pduHex))
		})
	}
}
