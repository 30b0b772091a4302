package netreg

import "i4.energy/across/modemcore/at"

//go:generate go tool mockgen -destination=mock_channel.go -package=netreg . Channel

// ChatFunc receives the outcome of a command. It is the same type as
// modem.ChatFunc, so a *modem.Modem satisfies Channel.
type ChatFunc = func(ok bool, res at.Result)

// Channel is the AT command channel a Registration talks through.
//
// Commands complete in the order they were issued, and done as well as
// notification handlers run on the goroutine that drives the Registration.
type Channel interface {
	// Chat queues cmd and returns immediately.
	Chat(cmd string, done ChatFunc)
	// RegisterNotification routes lines starting with prefix to handler.
	// With mayBeCommand set, such lines are response data while the
	// matching command is outstanding.
	RegisterNotification(prefix string, mayBeCommand bool, handler func(line string))
}
