package modem

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureCodec records every payload handed to Decode and returns a canned
// result, so the framing logic can be tested without real PDUs.
type captureCodec struct {
	payloads []string
	msg      Message
	err      error
}

func (c *captureCodec) Decode(pduHex string) (Message, error) {
	c.payloads = append(c.payloads, pduHex)
	return c.msg, c.err
}

func (c *captureCodec) Encode(destination, text string) ([]EncodedPDU, error) {
	return nil, errors.New("capture codec cannot encode")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAssembler(codec Codec) (*assembler, *[]Message) {
	emitted := &[]Message{}
	a := newAssembler(codec, discardLogger(), func(m Message) {
		*emitted = append(*emitted, m)
	})
	return a, emitted
}

func TestAssemblerFlushesExactlyAtAnnouncedLength(t *testing.T) {
	codec := &captureCodec{msg: Message{Sender: "+1555", Text: "hi"}}
	a, emitted := newTestAssembler(codec)

	a.HandleHeader("+CMT: ,10")
	require.True(t, a.Accumulating())

	// 19 of the 20 expected hex chars: must not decode yet.
	a.HandleLine(strings.Repeat("A", 19))
	assert.True(t, a.Accumulating())
	assert.Empty(t, codec.payloads)

	a.HandleLine("B")
	assert.False(t, a.Accumulating())
	require.Len(t, codec.payloads, 1)
	assert.Len(t, codec.payloads[0], 20)
	require.Len(t, *emitted, 1)
	assert.Equal(t, "+1555", (*emitted)[0].Sender)
}

func TestAssemblerTwoContinuationLines(t *testing.T) {
	// Header announces 10 octets (20 hex chars); the payload arrives as a
	// 12-char line followed by an 8-char line.
	codec := &captureCodec{}
	a, _ := newTestAssembler(codec)

	a.HandleHeader("+CMT: 10")
	a.HandleLine("AAAAAAAAAAAA")
	require.True(t, a.Accumulating())
	require.Empty(t, codec.payloads)

	a.HandleLine("BBBBBBBB")
	assert.False(t, a.Accumulating())
	require.Len(t, codec.payloads, 1)
	assert.Equal(t, "AAAAAAAAAAAABBBBBBBB", codec.payloads[0])
}

func TestAssemblerHeaderVariants(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		expected int
	}{
		{name: "plain", header: "+CMT: 28", expected: 28},
		{name: "leading comma", header: "+CMT: ,28", expected: 28},
		{name: "no space", header: "+CMT:42", expected: 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newTestAssembler(&captureCodec{})
			a.HandleHeader(tt.header)
			require.True(t, a.Accumulating())
			assert.Equal(t, tt.expected, a.pending.expected)
		})
	}
}

func TestAssemblerMalformedHeaderStaysIdle(t *testing.T) {
	codec := &captureCodec{}
	a, emitted := newTestAssembler(codec)

	a.HandleHeader("+CMT: garbage")
	assert.False(t, a.Accumulating(), "malformed header must not open a pending payload")
	assert.Empty(t, codec.payloads)
	assert.Empty(t, *emitted)
}

func TestAssemblerForceFlush(t *testing.T) {
	codec := &captureCodec{}
	a, _ := newTestAssembler(codec)

	a.HandleHeader("+CMT: ,100")
	a.HandleLine("AB")
	require.True(t, a.Accumulating())

	a.Flush()
	assert.False(t, a.Accumulating())
	require.Len(t, codec.payloads, 1)
	assert.Equal(t, "AB", codec.payloads[0])

	// Flushing while idle is a no-op.
	a.Flush()
	assert.Len(t, codec.payloads, 1)
}

func TestAssemblerDecodeFailureResetsState(t *testing.T) {
	codec := &captureCodec{err: errors.New("truncated PDU")}
	a, emitted := newTestAssembler(codec)

	a.HandleHeader("+CMT: 2")
	a.HandleLine("ZZZZ")

	assert.False(t, a.Accumulating(), "decode failure must not leak a pending header")
	assert.Empty(t, *emitted)

	// The next message must assemble normally.
	codec.err = nil
	a.HandleHeader("+CMT: 2")
	a.HandleLine("AAAA")
	assert.Len(t, *emitted, 1)
}

func TestAssemblerHeaderWhilePendingFlushesPrior(t *testing.T) {
	codec := &captureCodec{}
	a, _ := newTestAssembler(codec)

	a.HandleHeader("+CMT: 10")
	a.HandleLine("ABCD")

	a.HandleHeader("+CMT: 2")
	require.Len(t, codec.payloads, 1, "prior payload must be flushed before the new header opens")
	assert.Equal(t, "ABCD", codec.payloads[0])

	a.HandleLine("EEEE")
	require.Len(t, codec.payloads, 2)
	assert.Equal(t, "EEEE", codec.payloads[1])
}
