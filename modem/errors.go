package modem

import (
	"errors"
	"fmt"

	"i4.energy/across/modemcore/at"
)

var (
	// ErrNoDialer is returned by Build and New when no Dialer is configured.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned for operations on a Modem that was not
	// created via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned by every operation on a closed Modem,
	// including a second Close.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrSIMPinRequired is returned by New when the SIM asks for a PIN and
	// the Config has none.
	ErrSIMPinRequired = errors.New("SIM PIN required")

	// ErrLoopRunning is returned when Loop is called while another Loop is
	// still serving the same Modem.
	ErrLoopRunning = errors.New("modem loop already running")

	// ErrCommandFailed matches every CommandError.
	ErrCommandFailed = errors.New("command failed")

	// ErrLineTooLong stops the Loop when the modem sends a line that does
	// not fit the scanner buffer, which usually means the port speaks
	// something other than AT.
	ErrLineTooLong = errors.New("response line too long")
)

// CommandError is returned by Exec for a command that completed with a
// result other than OK. The complete result, including any intermediate
// lines, is kept.
type CommandError struct {
	Result at.Result
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s: result %d", ErrCommandFailed, e.Result.Command, e.Result.Code)
}

// Is makes errors.Is(err, ErrCommandFailed) hold.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommandFailed
}
