package obex_test

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/modemcore/obex"
)

// peer is the client side of a push connection.
type peer struct {
	t    *testing.T
	conn net.Conn
}

func (p *peer) request(op obex.Opcode, fields ...obex.Field) *obex.Packet {
	p.t.Helper()
	req := &obex.Packet{Code: byte(op), Fields: fields}
	if op == obex.OpConnect {
		req.Prefix = obex.ConnectPrefix(obex.MinPacketLength)
	}
	require.NoError(p.t, p.conn.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(p.t, obex.WritePacket(p.conn, req))
	resp, err := obex.ReadResponse(p.conn, op == obex.OpConnect)
	require.NoError(p.t, err)
	return resp
}

type finished struct {
	req  obex.Request
	code obex.ResponseCode
}

func startEngine(t *testing.T, session *obex.Session) (*peer, *[]finished, <-chan error) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	engine := obex.NewEngine(server, session, nil)
	var results []finished
	engine.OnRequestFinished(func(req obex.Request, code obex.ResponseCode) {
		results = append(results, finished{req, code})
	})

	errc := make(chan error, 1)
	go func() { errc <- engine.Run(context.Background()) }()
	return &peer{t: t, conn: client}, &results, errc
}

func TestEngine(t *testing.T) {
	t.Run("Push and disconnect", func(t *testing.T) {
		dir := t.TempDir()
		rec := &recorder{}
		p, results, errc := startEngine(t, obex.NewSession("push", obex.WithInbox(dir), obex.WithObserver(rec.observer())))

		resp := p.request(obex.OpConnect)
		assert.Equal(t, obex.ResponseSuccess, resp.Response())
		assert.Equal(t, obex.MaxPacketLength, resp.PeerMaxPacketLength())

		resp = p.request(obex.OpPut,
			obex.TextField(obex.HeaderName, "card.vcf"),
			obex.DataField(obex.HeaderType, []byte("text/x-vCard\x00")),
			obex.ValueField(obex.HeaderLength, 100),
			obex.DataField(obex.HeaderBody, bytes.Repeat([]byte{'a'}, 60)),
		)
		assert.Equal(t, obex.ResponseContinue, resp.Response())

		resp = p.request(obex.OpPutFinal, obex.DataField(obex.HeaderEndOfBody, bytes.Repeat([]byte{'b'}, 40)))
		assert.Equal(t, obex.ResponseSuccess, resp.Response())

		resp = p.request(obex.OpDisconnect)
		assert.Equal(t, obex.ResponseSuccess, resp.Response())

		select {
		case err := <-errc:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("engine did not stop after disconnect")
		}

		data, err := os.ReadFile(filepath.Join(dir, "card.vcf"))
		require.NoError(t, err)
		assert.Equal(t, append(bytes.Repeat([]byte{'a'}, 60), bytes.Repeat([]byte{'b'}, 40)...), data)
		assert.Equal(t, []bool{false}, rec.finished)
		assert.Equal(t, []bool{false}, rec.done)
		assert.Equal(t, []finished{
			{obex.RequestConnect, obex.ResponseSuccess},
			{obex.RequestPut, obex.ResponseSuccess},
			{obex.RequestDisconnect, obex.ResponseSuccess},
		}, *results)
	})

	t.Run("Business card pull", func(t *testing.T) {
		vcard := bytes.Repeat([]byte("BEGIN:VCARD\r\n"), 40)
		session := obex.NewSession("pull")
		session.SetBusinessCard(vcard)
		p, _, _ := startEngine(t, session)

		p.request(obex.OpConnect)

		var got []byte
		var length uint32
		resp := p.request(obex.OpGetFinal, obex.DataField(obex.HeaderType, []byte("text/x-vCard\x00")))
		for {
			require.LessOrEqual(t, resp.Len(), obex.MinPacketLength)
			if f, ok := resp.Field(obex.HeaderLength); ok {
				length = f.Value
			}
			body, _ := resp.Body()
			got = append(got, body...)
			if resp.Response() != obex.ResponseContinue {
				break
			}
			resp = p.request(obex.OpGetFinal)
		}

		assert.Equal(t, obex.ResponseSuccess, resp.Response())
		assert.Equal(t, uint32(len(vcard)), length)
		assert.Equal(t, vcard, got)

		p.request(obex.OpSetPath)
		assert.Equal(t, obex.Ready, session.State())
	})

	t.Run("Named get is refused", func(t *testing.T) {
		session := obex.NewSession("pull")
		session.SetBusinessCard([]byte("BEGIN:VCARD"))
		p, results, _ := startEngine(t, session)

		p.request(obex.OpConnect)
		resp := p.request(obex.OpGetFinal, obex.TextField(obex.HeaderName, "other.vcf"))
		assert.Equal(t, obex.ResponseForbidden, resp.Response())

		p.request(obex.OpSetPath)
		require.Len(t, *results, 2)
		assert.Equal(t, finished{obex.RequestGet, obex.ResponseForbidden}, (*results)[1])
	})

	t.Run("Peer abort removes the partial file", func(t *testing.T) {
		dir := t.TempDir()
		rec := &recorder{}
		p, results, _ := startEngine(t, obex.NewSession("abort", obex.WithInbox(dir), obex.WithObserver(rec.observer())))

		p.request(obex.OpConnect)
		resp := p.request(obex.OpPut,
			obex.TextField(obex.HeaderName, "big.bin"),
			obex.DataField(obex.HeaderBody, make([]byte, 32)),
		)
		require.Equal(t, obex.ResponseContinue, resp.Response())
		require.FileExists(t, filepath.Join(dir, "big.bin"))

		resp = p.request(obex.OpAbort)
		assert.Equal(t, obex.ResponseSuccess, resp.Response())

		// the next request proves the abort has been handled
		resp = p.request(obex.OpSetPath)
		assert.Equal(t, obex.ResponseNotImplemented, resp.Response())

		assert.NoFileExists(t, filepath.Join(dir, "big.bin"))
		assert.Equal(t, []bool{true}, rec.finished)
		assert.Empty(t, rec.done)
		assert.Equal(t, []finished{
			{obex.RequestConnect, obex.ResponseSuccess},
			{obex.RequestPut, obex.ResponseSuccess},
		}, *results)
	})

	t.Run("Malformed request is answered with BadRequest", func(t *testing.T) {
		dir := t.TempDir()
		rec := &recorder{}
		session := obex.NewSession("malformed", obex.WithInbox(dir), obex.WithObserver(rec.observer()))
		p, results, _ := startEngine(t, session)

		p.request(obex.OpConnect)
		resp := p.request(obex.OpPut,
			obex.TextField(obex.HeaderName, "big.bin"),
			obex.DataField(obex.HeaderBody, make([]byte, 32)),
		)
		require.Equal(t, obex.ResponseContinue, resp.Response())

		// a Body header whose length runs past the packet
		badPut := []byte{0x02, 0x00, 0x06, 0x48, 0x00, 0x09}
		for range 2 {
			_, err := p.conn.Write(badPut)
			require.NoError(t, err)
			resp, err = obex.ReadResponse(p.conn, false)
			require.NoError(t, err)
			assert.Equal(t, obex.ResponseBadRequest, resp.Response())
		}

		resp = p.request(obex.OpSetPath)
		assert.Equal(t, obex.ResponseNotImplemented, resp.Response())

		assert.Equal(t, obex.Ready, session.State())
		assert.NoFileExists(t, filepath.Join(dir, "big.bin"))
		assert.Equal(t, []bool{true}, rec.finished)
		assert.Empty(t, rec.done)
		assert.Equal(t, []finished{
			{obex.RequestConnect, obex.ResponseSuccess},
			{obex.RequestPut, obex.ResponseBadRequest},
		}, *results)
	})

	t.Run("Local abort refuses the next chunk", func(t *testing.T) {
		rec := &recorder{}
		sink := &memSink{}
		session := obex.NewSession("abort",
			obex.WithAcceptor(acceptInto(sink)),
			obex.WithObserver(rec.observer()))
		server, client := net.Pipe()
		t.Cleanup(func() { client.Close() })
		engine := obex.NewEngine(server, session, nil)
		go engine.Run(context.Background())
		p := &peer{t: t, conn: client}

		p.request(obex.OpConnect)
		resp := p.request(obex.OpPut, obex.DataField(obex.HeaderBody, []byte("first")))
		require.Equal(t, obex.ResponseContinue, resp.Response())

		engine.Abort()
		// give the loop time to pick up the abort before the next packet
		time.Sleep(50 * time.Millisecond)

		resp = p.request(obex.OpPutFinal, obex.DataField(obex.HeaderEndOfBody, []byte("second")))
		assert.Equal(t, obex.ResponseForbidden, resp.Response())

		p.request(obex.OpSetPath)
		assert.Equal(t, "first", sink.String())
		assert.Equal(t, []bool{true}, rec.finished)
	})

	t.Run("Lost connection ends the session", func(t *testing.T) {
		rec := &recorder{}
		p, _, errc := startEngine(t, obex.NewSession("lost", obex.WithObserver(rec.observer())))

		p.request(obex.OpConnect)
		p.conn.Close()

		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("engine did not stop")
		}
		assert.Equal(t, []bool{true}, rec.done)
	})

	t.Run("Cancellation releases the session", func(t *testing.T) {
		session := obex.NewSession("cancel")
		server, client := net.Pipe()
		t.Cleanup(func() { client.Close() })

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- obex.NewEngine(server, session, nil).Run(ctx) }()
		cancel()

		select {
		case err := <-errc:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("engine did not stop")
		}
		assert.True(t, session.Released())
	})
}
