package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is used for tokenizing AT command modem responses. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// It splits the input by CRLF line endings and also
// recognizes the SMS input prompt ("> ").
//
// Important: This splitter assumes "No Echo" mode (ATE0). If echo is enabled,
// it would need modification to handle command echoes that precede the actual
// response.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match SMS Prompt
	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[0:len(Prompt)], nil
	}

	// 2. Match standard line ending with CRLF
	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// TrimFrame normalizes a raw frame before classification: it strips the line
// terminator, surrounding whitespace and one pair of surrounding quote
// characters. Quoting shows up when the modem echoes stored parameters.
func TrimFrame(raw string) string {
	frame := strings.TrimRight(raw, "\r\n")
	frame = strings.TrimSpace(frame)
	if len(frame) >= 2 && frame[0] == '"' && frame[len(frame)-1] == '"' {
		frame = frame[1 : len(frame)-1]
	}
	return frame
}
