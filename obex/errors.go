package obex

import "errors"

var (
	// ErrShortPacket is returned when a packet is shorter than its fixed
	// fields or its declared length.
	ErrShortPacket = errors.New("obex: short packet")

	// ErrBadHeader is returned when a header's length runs past the end of
	// the packet.
	ErrBadHeader = errors.New("obex: malformed header")

	// ErrPacketTooLarge is returned when a packet does not fit the 16-bit
	// length field.
	ErrPacketTooLarge = errors.New("obex: packet too large")

	// ErrServerClosed is returned by Server.Serve after Shutdown.
	ErrServerClosed = errors.New("obex: server closed")
)
