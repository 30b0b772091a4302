package at

import (
	"bufio"
	"bytes"
	"strings"
)

// LineKind tells how the command channel treats a line of modem output.
type LineKind int

const (
	// LineFinal terminates the outstanding command.
	LineFinal LineKind = iota
	// LineUnsolicited is never part of a command response.
	LineUnsolicited
	// LineData is intermediate output of the outstanding command, or a
	// notification the channel recognises by its prefix.
	LineData
	// LinePrompt asks for a payload after the command line.
	LinePrompt
)

func (k LineKind) String() string {
	switch k {
	case LineFinal:
		return "final"
	case LineUnsolicited:
		return "unsolicited"
	case LineData:
		return "data"
	case LinePrompt:
		return "prompt"
	default:
		return "unknown"
	}
}

// always unsolicited, whatever command is outstanding
var unsolicitedPrefixes = []string{
	"RING",
	"+CRING:",
	"+CLIP:",
	"+CMTI:",
	"+CDSI:",
	"+CBM:",
	"+CUSD:",
}

// ScanLines is a bufio.SplitFunc for modem output. Tokens are the lines
// without their CRLF. The input prompt is returned as a token of its own
// since the modem does not terminate it.
//
// Echo is expected to be off (ATE0). An echoed command comes back as an
// ordinary line.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[:len(Prompt)], nil
	}
	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	// request more data
	return 0, nil, nil
}

var _ bufio.SplitFunc = ScanLines

// KindOf classifies a trimmed line of modem output. Lines such as +CREG:
// that are only sometimes unsolicited are LineData; the channel decides
// their fate from the command it is waiting for.
func KindOf(line string) LineKind {
	if line == Prompt {
		return LinePrompt
	}
	if IsFinal(line) {
		return LineFinal
	}
	for _, prefix := range unsolicitedPrefixes {
		if strings.HasPrefix(line, prefix) {
			return LineUnsolicited
		}
	}
	return LineData
}

// IsFinal reports whether line ends a command response.
func IsFinal(line string) bool {
	switch line {
	case OK, ERROR, NoCarrier, NoDialtone, Busy, NoAnswer:
		return true
	}
	return line == Connect || strings.HasPrefix(line, Connect+" ") ||
		strings.HasPrefix(line, CmeError) || strings.HasPrefix(line, CmsError)
}
