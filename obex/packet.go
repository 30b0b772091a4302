package obex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf16"
)

// Opcode is the first byte of a request packet. The high bit marks the
// final packet of a request.
type Opcode byte

const (
	OpConnect    Opcode = 0x80
	OpDisconnect Opcode = 0x81
	OpPut        Opcode = 0x02
	OpPutFinal   Opcode = 0x82
	OpGet        Opcode = 0x03
	OpGetFinal   Opcode = 0x83
	OpSetPath    Opcode = 0x85
	OpAbort      Opcode = 0xFF
)

const finalBit = 0x80

// Final reports whether op carries the final bit.
func (op Opcode) Final() bool {
	return op&finalBit != 0
}

// ResponseCode is the first byte of a response packet. All codes used here
// carry the final bit.
type ResponseCode byte

const (
	ResponseContinue            ResponseCode = 0x90
	ResponseSuccess             ResponseCode = 0xA0
	ResponseBadRequest          ResponseCode = 0xC0
	ResponseForbidden           ResponseCode = 0xC3
	ResponseNotFound            ResponseCode = 0xC4
	ResponseInternalServerError ResponseCode = 0xD0
	ResponseNotImplemented      ResponseCode = 0xD1
	ResponseServiceUnavailable  ResponseCode = 0xD3
)

func (c ResponseCode) String() string {
	switch c {
	case ResponseContinue:
		return "Continue"
	case ResponseSuccess:
		return "Success"
	case ResponseBadRequest:
		return "BadRequest"
	case ResponseForbidden:
		return "Forbidden"
	case ResponseNotFound:
		return "NotFound"
	case ResponseInternalServerError:
		return "InternalServerError"
	case ResponseNotImplemented:
		return "NotImplemented"
	case ResponseServiceUnavailable:
		return "ServiceUnavailable"
	default:
		return fmt.Sprintf("0x%02X", byte(c))
	}
}

// HeaderID identifies a header. Its top two bits give the encoding:
// 00 UTF-16BE text, 01 byte sequence, 10 one byte, 11 four bytes.
type HeaderID byte

const (
	HeaderName         HeaderID = 0x01
	HeaderDescription  HeaderID = 0x05
	HeaderType         HeaderID = 0x42
	HeaderBody         HeaderID = 0x48
	HeaderEndOfBody    HeaderID = 0x49
	HeaderLength       HeaderID = 0xC3
	HeaderConnectionID HeaderID = 0xCB
)

const (
	encodingMask    = 0xC0
	encodingUnicode = 0x00
	encodingBytes   = 0x40
	encodingByte    = 0x80
	encodingUint32  = 0xC0
)

const (
	// Version is the OBEX protocol version sent in Connect responses (1.0).
	Version = 0x10
	// MaxPacketLength is the largest packet this implementation accepts.
	MaxPacketLength = 0xFFFF
	// MinPacketLength is the smallest maximum a peer may announce.
	MinPacketLength = 255
)

// Field is one header of a packet. Text is used by Unicode headers, Data by
// byte-sequence headers and Value by one and four byte headers.
type Field struct {
	ID    HeaderID
	Text  string
	Data  []byte
	Value uint32
}

// TextField returns a Unicode header.
func TextField(id HeaderID, text string) Field { return Field{ID: id, Text: text} }

// DataField returns a byte-sequence header.
func DataField(id HeaderID, data []byte) Field { return Field{ID: id, Data: data} }

// ValueField returns a one or four byte header.
func ValueField(id HeaderID, v uint32) Field { return Field{ID: id, Value: v} }

// Packet is a request or response. Prefix holds the fields that sit
// between the length and the headers: version, flags and maximum length
// for Connect, flags and constants for SetPath.
type Packet struct {
	Code   byte
	Prefix []byte
	Fields []Field
}

// Opcode returns the code of a request packet.
func (p *Packet) Opcode() Opcode { return Opcode(p.Code) }

// Response returns the code of a response packet.
func (p *Packet) Response() ResponseCode { return ResponseCode(p.Code) }

// Field returns the first header with the given id.
func (p *Packet) Field(id HeaderID) (Field, bool) {
	for _, f := range p.Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// Header collects the headers a Session needs.
func (p *Packet) Header() Header {
	var h Header
	for _, f := range p.Fields {
		switch f.ID {
		case HeaderName:
			h.Name = f.Text
		case HeaderDescription:
			h.Description = f.Text
		case HeaderType:
			h.Type = string(bytes.TrimRight(f.Data, "\x00"))
		case HeaderLength:
			h.Length = f.Value
		}
	}
	return h
}

// Body returns the concatenated Body and EndOfBody data, and whether an
// EndOfBody header was present.
func (p *Packet) Body() (body []byte, end bool) {
	for _, f := range p.Fields {
		switch f.ID {
		case HeaderBody:
			body = append(body, f.Data...)
		case HeaderEndOfBody:
			body = append(body, f.Data...)
			end = true
		}
	}
	return body, end
}

// PeerMaxPacketLength returns the maximum packet length announced in a
// Connect prefix, or MinPacketLength when it is missing or too small.
func (p *Packet) PeerMaxPacketLength() int {
	if len(p.Prefix) < 4 {
		return MinPacketLength
	}
	n := int(binary.BigEndian.Uint16(p.Prefix[2:4]))
	if n < MinPacketLength {
		return MinPacketLength
	}
	return n
}

// ConnectPrefix returns the prefix of a Connect request or response.
func ConnectPrefix(maxPacketLength int) []byte {
	prefix := []byte{Version, 0, 0, 0}
	binary.BigEndian.PutUint16(prefix[2:], uint16(maxPacketLength))
	return prefix
}

// MarshalBinary encodes the packet.
func (p *Packet) MarshalBinary() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte(p.Code)
	b.Write([]byte{0, 0})
	b.Write(p.Prefix)
	for _, f := range p.Fields {
		if err := f.encode(&b); err != nil {
			return nil, err
		}
	}
	if b.Len() > MaxPacketLength {
		return nil, ErrPacketTooLarge
	}
	data := b.Bytes()
	binary.BigEndian.PutUint16(data[1:3], uint16(len(data)))
	return data, nil
}

// Len returns the encoded size of the packet.
func (p *Packet) Len() int {
	n := 3 + len(p.Prefix)
	for _, f := range p.Fields {
		n += f.Len()
	}
	return n
}

// WritePacket encodes p to w.
func WritePacket(w io.Writer, p *Packet) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// MalformedError reports a packet that was read completely but whose
// prefix or headers could not be decoded. The stream is still in sync, so
// the reader may answer it and carry on.
type MalformedError struct {
	Code byte
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("obex: malformed packet 0x%02X: %v", e.Code, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// ReadRequest reads one request packet. A packet with a bad prefix or
// header is reported as a *MalformedError.
func ReadRequest(r io.Reader) (*Packet, error) {
	return readPacket(r, func(code byte) int {
		switch Opcode(code) {
		case OpConnect:
			return 4
		case OpSetPath:
			return 2
		default:
			return 0
		}
	})
}

// ReadResponse reads one response packet. toConnect must be set when the
// response answers a Connect request, which adds a prefix.
func ReadResponse(r io.Reader, toConnect bool) (*Packet, error) {
	return readPacket(r, func(byte) int {
		if toConnect {
			return 4
		}
		return 0
	})
}

func readPacket(r io.Reader, prefixLen func(code byte) int) (*Packet, error) {
	var head [3]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(head[1:3]))
	if length < 3 {
		return nil, ErrShortPacket
	}
	rest := make([]byte, length-3)
	if _, err := io.ReadFull(r, rest); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	p := &Packet{Code: head[0]}
	n := prefixLen(p.Code)
	if len(rest) < n {
		return nil, &MalformedError{Code: p.Code, Err: ErrShortPacket}
	}
	if n > 0 {
		p.Prefix = rest[:n]
	}
	fields, err := decodeFields(rest[n:])
	if err != nil {
		return nil, &MalformedError{Code: p.Code, Err: err}
	}
	p.Fields = fields
	return p, nil
}

// Len returns the encoded size of the header.
func (f Field) Len() int {
	switch byte(f.ID) & encodingMask {
	case encodingUnicode:
		if f.Text == "" {
			return 3
		}
		return 3 + 2*len(utf16.Encode([]rune(f.Text))) + 2
	case encodingBytes:
		return 3 + len(f.Data)
	case encodingByte:
		return 2
	default:
		return 5
	}
}

func (f Field) encode(b *bytes.Buffer) error {
	id := byte(f.ID)
	switch id & encodingMask {
	case encodingUnicode:
		b.WriteByte(id)
		if f.Text == "" {
			b.Write([]byte{0, 3})
			return nil
		}
		units := utf16.Encode([]rune(f.Text))
		binary.Write(b, binary.BigEndian, uint16(3+2*len(units)+2))
		for _, u := range units {
			binary.Write(b, binary.BigEndian, u)
		}
		b.Write([]byte{0, 0})
	case encodingBytes:
		if len(f.Data)+3 > MaxPacketLength {
			return ErrPacketTooLarge
		}
		b.WriteByte(id)
		binary.Write(b, binary.BigEndian, uint16(3+len(f.Data)))
		b.Write(f.Data)
	case encodingByte:
		b.WriteByte(id)
		b.WriteByte(byte(f.Value))
	default:
		b.WriteByte(id)
		binary.Write(b, binary.BigEndian, f.Value)
	}
	return nil
}

func decodeFields(data []byte) ([]Field, error) {
	var fields []Field
	for len(data) > 0 {
		id := HeaderID(data[0])
		switch data[0] & encodingMask {
		case encodingUnicode, encodingBytes:
			if len(data) < 3 {
				return nil, ErrBadHeader
			}
			n := int(binary.BigEndian.Uint16(data[1:3]))
			if n < 3 || n > len(data) {
				return nil, ErrBadHeader
			}
			payload := data[3:n]
			if data[0]&encodingMask == encodingUnicode {
				fields = append(fields, Field{ID: id, Text: decodeText(payload)})
			} else {
				fields = append(fields, Field{ID: id, Data: payload})
			}
			data = data[n:]
		case encodingByte:
			if len(data) < 2 {
				return nil, ErrBadHeader
			}
			fields = append(fields, Field{ID: id, Value: uint32(data[1])})
			data = data[2:]
		default:
			if len(data) < 5 {
				return nil, ErrBadHeader
			}
			fields = append(fields, Field{ID: id, Value: binary.BigEndian.Uint32(data[1:5])})
			data = data[5:]
		}
	}
	return fields, nil
}

// decodeText decodes null-terminated UTF-16BE. A trailing odd byte is
// dropped.
func decodeText(payload []byte) string {
	units := make([]uint16, 0, len(payload)/2)
	for i := 0; i+1 < len(payload); i += 2 {
		u := binary.BigEndian.Uint16(payload[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}
