package modem_test

import (
	"context"
	"fmt"
	"testing"

	gomock "go.uber.org/mock/gomock"

	"i4.energy/across/modemcore/modem"
)

// exchange is one command written during bring-up and the bytes the modem
// answers with.
type exchange struct {
	cmd   string
	reply string
}

var (
	// the modem still echoes until ATE0 has been processed
	wakeUp        = exchange{"AT", "AT\r\nOK\r\n"}
	echoOff       = exchange{"ATE0", "ATE0\r\nOK\r\n"}
	verboseErrors = exchange{"AT+CMEE=2", "OK\r\n"}
	simReady      = exchange{"AT+CPIN?", "+CPIN: READY\r\nOK\r\n"}
	simLocked     = exchange{"AT+CPIN?", "+CPIN: SIM PIN\r\nOK\r\n"}
)

func enterPIN(pin string) exchange {
	return exchange{fmt.Sprintf("AT+CPIN=%q", pin), "OK\r\n"}
}

// readyDialogue is the bring-up of a modem whose SIM needs no PIN.
var readyDialogue = []exchange{wakeUp, echoOff, verboseErrors, simReady}

// expectDialogue returns ordered expectations for the given exchanges.
func expectDialogue(transport *modem.MockTransport, dialogue ...exchange) []any {
	calls := make([]any, 0, 2*len(dialogue))
	for _, ex := range dialogue {
		wire := []byte(ex.cmd + "\r")
		reply := ex.reply
		calls = append(calls,
			transport.EXPECT().Write(wire).Return(len(wire), nil),
			transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
				return copy(p, reply), nil
			}),
		)
	}
	return calls
}

// newMockModem brings up a Modem over a mock transport with the ready
// dialogue. The transport is closed when the test ends.
func newMockModem(t *testing.T, ctx context.Context) (*modem.Modem, *modem.MockTransport) {
	t.Helper()
	ctrl := gomock.NewController(t)
	transport := modem.NewMockTransport(ctrl)
	dialer := modem.NewMockDialer(ctrl)

	gomock.InOrder(append(
		[]any{dialer.EXPECT().Dial(gomock.Any()).Return(transport, nil)},
		expectDialogue(transport, readyDialogue...)...,
	)...)

	config, err := modem.NewConfigBuilder().WithDialer(dialer).Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}
	m, err := modem.New(ctx, config)
	if err != nil {
		t.Fatalf("unexpected error from New(): %v", err)
	}
	return m, transport
}
