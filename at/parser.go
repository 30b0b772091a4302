package at

import (
	"fmt"
	"iter"
	"strings"
)

// Parser is a cursor over the text of a single AT response or unsolicited
// notification. It extracts the fields defined by 3GPP TS 27.007 and 27.005
// on demand.
//
// A Parser never fails: malformed or missing input yields zero values
// (false, 0, "" or an empty list). Callers detect the end of the records
// they are interested in by checking the result of Next.
//
// Lines are delimited by '\n' only. Content produced by the modem package is
// already free of '\r'; other callers must normalise line endings first.
type Parser struct {
	response     string
	pos          int
	line         string
	linePos      int
	notification bool
}

// NewParser returns a parser over the content of a command response,
// positioned before its first line.
func NewParser(content string) *Parser {
	return &Parser{response: content}
}

// NewParserFromResult returns a parser over res.Content.
func NewParserFromResult(res Result) *Parser {
	return NewParser(res.Content)
}

// NewNotificationParser returns a parser over a single notification line.
// Everything up to and including the first colon is dropped, as are the
// spaces that follow it, so the fields can be read without calling Next.
func NewNotificationParser(notification string) *Parser {
	line := notification
	if i := strings.IndexByte(line, ':'); i >= 0 {
		line = line[i+1:]
	}
	return &Parser{
		line:         strings.TrimLeft(line, " "),
		notification: true,
	}
}

// Next advances to the next line that starts with prefix. The prefix and
// the spaces following it are stripped from the line, which becomes
// available through Line and the Read methods.
//
// Lines that do not match are consumed. When no further line matches, Next
// returns false and leaves the current line untouched.
func (p *Parser) Next(prefix string) bool {
	for p.pos < len(p.response) {
		line := p.scanLine()
		if strings.HasPrefix(line, prefix) {
			p.line = strings.TrimLeft(line[len(prefix):], " ")
			p.linePos = 0
			return true
		}
	}
	return false
}

// Reset rewinds the parser. A notification parser only rewinds within its
// single line.
func (p *Parser) Reset() {
	p.linePos = 0
	if p.notification {
		return
	}
	p.pos = 0
	p.line = ""
}

// Line returns the current line with its prefix removed.
func (p *Parser) Line() string {
	return p.line
}

// More reports whether unread characters remain on the current line.
func (p *Parser) More() bool {
	return p.linePos < len(p.line)
}

// ReadNumeric reads a decimal number at the cursor, then a single trailing
// comma and any spaces. It returns 0 when no digits are present. Values that
// do not fit in 32 bits wrap around.
func (p *Parser) ReadNumeric() uint32 {
	value := p.scanNumber()
	p.skipSeparator()
	return value
}

// ReadString reads a quoted string at the cursor, decoding \XX hex escapes,
// then a single trailing comma and any spaces. A field that is not quoted is
// returned verbatim up to the next comma.
func (p *Parser) ReadString() string {
	value := p.scanString()
	p.skipSeparator()
	return value
}

// Skip consumes an optional comma and then everything up to, but not
// including, the next comma.
func (p *Parser) Skip() {
	if p.linePos < len(p.line) && p.line[p.linePos] == ',' {
		p.linePos++
	}
	for p.linePos < len(p.line) && p.line[p.linePos] != ',' {
		p.linePos++
	}
}

// ReadNextLine returns the next raw line of the response without any prefix
// matching. It is used for data lines that follow a tagged line, such as PDU
// dumps. The current line is left untouched.
func (p *Parser) ReadNextLine() string {
	if p.pos >= len(p.response) {
		return ""
	}
	return p.scanLine()
}

// Lines yields the stripped text of every remaining line starting with
// prefix. The sequence consumes the parser and cannot be restarted without
// Reset.
func (p *Parser) Lines(prefix string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for p.Next(prefix) {
			if !yield(p.line) {
				return
			}
		}
	}
}

// ReadList reads a parenthesised list such as (1,2-5,"x",(3)).
//
// When the cursor is on a comma the empty field is consumed and an empty
// list returned. Any other character outside a list, or an unrecognised
// character inside one, moves the cursor to the end of the line; the items
// read up to that point are returned.
func (p *Parser) ReadList() []Node {
	if p.linePos >= len(p.line) {
		return nil
	}
	switch p.line[p.linePos] {
	case '(':
		list, ok := p.scanList()
		if !ok {
			p.linePos = len(p.line)
			return list
		}
		p.skipSeparator()
		return list
	case ',':
		p.skipSeparator()
		return nil
	default:
		p.linePos = len(p.line)
		return nil
	}
}

func (p *Parser) scanLine() string {
	rest := p.response[p.pos:]
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		p.pos += i + 1
		return rest[:i]
	}
	p.pos = len(p.response)
	return rest
}

func (p *Parser) scanNumber() uint32 {
	var value uint32
	for p.linePos < len(p.line) && isDigit(p.line[p.linePos]) {
		value = value*10 + uint32(p.line[p.linePos]-'0')
		p.linePos++
	}
	return value
}

func (p *Parser) scanString() string {
	if p.linePos >= len(p.line) {
		return ""
	}
	if p.line[p.linePos] != '"' {
		start := p.linePos
		for p.linePos < len(p.line) && p.line[p.linePos] != ',' {
			p.linePos++
		}
		return strings.TrimSpace(p.line[start:p.linePos])
	}

	p.linePos++
	var b strings.Builder
	for p.linePos < len(p.line) {
		c := p.line[p.linePos]
		if c == '"' {
			p.linePos++
			return b.String()
		}
		if c == '\\' && p.linePos+2 < len(p.line) {
			hi, okHi := unhex(p.line[p.linePos+1])
			lo, okLo := unhex(p.line[p.linePos+2])
			if okHi && okLo {
				b.WriteByte(hi<<4 | lo)
				p.linePos += 3
				continue
			}
		}
		b.WriteByte(c)
		p.linePos++
	}
	// unterminated: everything up to the end of the line
	return b.String()
}

// scanList parses from an opening parenthesis to its match. ok is false
// when an unrecognised character stopped the scan.
func (p *Parser) scanList() (list []Node, ok bool) {
	p.linePos++
	for p.linePos < len(p.line) {
		c := p.line[p.linePos]
		switch {
		case c == ')':
			p.linePos++
			return list, true
		case c == ',', c == ' ':
			p.linePos++
		case isDigit(c):
			first := p.scanNumber()
			if p.linePos < len(p.line) && p.line[p.linePos] == '-' {
				p.linePos++
				list = append(list, NewRange(first, p.scanNumber()))
			} else {
				list = append(list, NewNumber(first))
			}
		case c == '"':
			list = append(list, NewString(p.scanString()))
		case c == '(':
			nested, nestedOK := p.scanList()
			list = append(list, NewList(nested))
			if !nestedOK {
				return list, false
			}
		default:
			return list, false
		}
	}
	return list, true
}

func (p *Parser) skipSeparator() {
	if p.linePos < len(p.line) && p.line[p.linePos] == ',' {
		p.linePos++
	}
	for p.linePos < len(p.line) && p.line[p.linePos] == ' ' {
		p.linePos++
	}
}

// Quote returns s as an AT string parameter, surrounded by double quotes.
// Quotes, backslashes and control characters are written as \XX escapes.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' || c < 0x20 {
			fmt.Fprintf(&b, "\\%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}
