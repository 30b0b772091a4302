package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/modemcore/at"
	"i4.energy/across/modemcore/netreg"
	"i4.energy/across/modemcore/obex"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m Message
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func TestHubRegistrationEvents(t *testing.T) {
	h := New(nil)
	conn := dial(t, h)
	obs := h.Registration()

	obs.RegistrationStateChanged(netreg.Home, 0x1A2B, 0x3C4D)
	obs.CurrentOperatorChanged(netreg.Operator{ID: "2231026", Name: "Example Net", Technology: "GSM", Mode: netreg.Automatic})
	obs.SetCurrentOperatorResult(at.ResultError)
	obs.Initialized()

	m := read(t, conn)
	assert.Equal(t, "registration", m.T)
	assert.Equal(t, &RegistrationPayload{State: netreg.Home.String(), LAC: 0x1A2B, CI: 0x3C4D}, m.Registration)

	m = read(t, conn)
	assert.Equal(t, "operator", m.T)
	require.NotNil(t, m.Operator)
	assert.Equal(t, "Example Net", m.Operator.Name)

	m = read(t, conn)
	assert.Equal(t, "set_operator_result", m.T)
	require.NotNil(t, m.Code)
	assert.Equal(t, at.ResultError, *m.Code)

	assert.Equal(t, "initialized", read(t, conn).T)
}

func TestHubSessionEvents(t *testing.T) {
	h := New(nil)
	conn := dial(t, h)

	session := obex.NewSession("abc", obex.WithObserver(h.Session("abc")))
	session.Connect(obex.Header{})
	session.TransportError(obex.ConnectionError, "gone")

	m := read(t, conn)
	assert.Equal(t, "obex_state", m.T)
	assert.Equal(t, &TransferPayload{Session: "abc", State: "Connecting"}, m.Transfer)

	m = read(t, conn)
	assert.Equal(t, "obex_state", m.T)
	assert.Equal(t, "Closed", m.Transfer.State)

	m = read(t, conn)
	assert.Equal(t, "obex_done", m.T)
	assert.True(t, m.Transfer.HasError)
}

func TestHubClose(t *testing.T) {
	h := New(nil)
	conn := dial(t, h)

	h.Close()
	assert.Zero(t, h.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// publishing without clients is a no-op
	h.Publish(Message{T: "initialized"})
}
