package at

// Line framing
const (
	CRLF   = "\r\n"
	Prompt = "> "
)

// Final result lines (ITU-T V.250 §5.7, 3GPP TS 27.007 §9.2).
const (
	OK         = "OK"
	ERROR      = "ERROR"
	Connect    = "CONNECT"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR:"
	CmsError   = "+CMS ERROR:"
)

// Network registration and operator selection (3GPP TS 27.007 §7.2, §7.3).
// Both may arrive solicited or unsolicited.
const (
	Registration = "+CREG:"
	Operator     = "+COPS:"
)

// Commands issued during modem bring-up and network registration.
const (
	CmdAt            = "AT"
	CmdEchoOff       = "ATE0"
	CmdVerboseErrors = "AT+CMEE=2"
	CmdSimStatus     = "AT+CPIN?"

	CmdRegistrationVerbose = "AT+CREG=2"
	CmdRegistrationQuery   = "AT+CREG?"
	CmdOperatorFormatAlpha = "AT+COPS=3,0"
	CmdOperatorFormatNum   = "AT+COPS=3,2"
	CmdOperatorQuery       = "AT+COPS?"
	CmdOperatorList        = "AT+COPS=?"
)

// SIM states reported by +CPIN.
const (
	SimReady = "READY"
	SimPin   = "SIM PIN"
)
