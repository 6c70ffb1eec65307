package wire_test

import (
	"errors"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/programme-lv/autograder/api"
	"github.com/programme-lv/autograder/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipe(t *testing.T, maxFrame int) (*wire.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return wire.NewConn(a, maxFrame), b
}

func TestSendTerminatesEveryFrame(t *testing.T) {
	conn, peer := pipe(t, 0)

	go func() {
		_ = conn.Send(api.NewQuery(7, "x", 0.5))
	}()

	buf := make([]byte, 4096)
	var got []byte
	for !strings.HasSuffix(string(got), "\n") {
		n, err := peer.Read(buf)
		require.NoError(t, err)
		got = append(got, buf[:n]...)
	}
	assert.Equal(t, 1, strings.Count(string(got), "\n"))
	assert.Contains(t, string(got), `"type":"query"`)
	assert.Contains(t, string(got), `"id":7`)
}

func TestReadRequestAcrossPartialWrites(t *testing.T) {
	conn, peer := pipe(t, 0)

	go func() {
		for _, part := range []string{`{"type":"sta`, `rt","id":1,"student_code":"x = \"a\\nb\"",`, `"student_file_name":"s.lua","initialization_timeout":2}` + "\n"} {
			_, _ = peer.Write([]byte(part))
		}
	}()

	msg, err := conn.ReadRequest()
	require.NoError(t, err)
	start, ok := msg.(api.Start)
	require.True(t, ok)
	assert.Equal(t, `x = "a\nb"`, start.StudentCode)
	assert.Equal(t, "s.lua", start.StudentFileName)
	assert.Equal(t, 2.0, start.InitTimeout)
}

func TestTwoFramesInOneWrite(t *testing.T) {
	conn, peer := pipe(t, 0)

	go func() {
		_, _ = peer.Write([]byte(`{"type":"query","id":1,"var":"a"}` + "\n" + `{"type":"exit","id":2}` + "\n"))
	}()

	first, err := conn.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, api.QueryMsg, first.MessageType())

	second, err := conn.ReadRequest()
	require.NoError(t, err)
	assert.Equal(t, api.ExitMsg, second.MessageType())
	assert.Equal(t, uint64(2), second.RequestID())
}

func TestUnknownTypeIsRejected(t *testing.T) {
	_, err := wire.DecodeRequest([]byte(`{"type":"reboot","id":3}`))
	require.ErrorIs(t, err, wire.ErrUnknownType)

	var ute *wire.UnknownTypeError
	require.True(t, errors.As(err, &ute))
	assert.Equal(t, uint64(3), ute.ID)

	// a response type is not a request
	_, err = wire.DecodeRequest([]byte(`{"type":"hello","id":0}`))
	require.ErrorIs(t, err, wire.ErrUnknownType)
}

func TestMalformedFrames(t *testing.T) {
	_, err := wire.DecodeResponse([]byte(`{"type":`))
	require.ErrorIs(t, err, wire.ErrMalformed)

	_, err = wire.DecodeResponse([]byte(`{"id":1}`))
	require.ErrorIs(t, err, wire.ErrMalformed)

	_, err = wire.DecodeResponse([]byte(`{"type":"query_result","id":"one"}`))
	require.ErrorIs(t, err, wire.ErrMalformed)
}

func TestFrameTooLarge(t *testing.T) {
	conn, peer := pipe(t, 16)

	go func() {
		_, _ = peer.Write([]byte(strings.Repeat("a", 64) + "\n"))
	}()

	_, err := conn.ReadFrame()
	require.ErrorIs(t, err, wire.ErrFrameTooLarge)
}

func TestTruncatedFrame(t *testing.T) {
	conn, peer := pipe(t, 0)

	go func() {
		_, _ = peer.Write([]byte(`{"type":"exit"`))
		_ = peer.Close()
	}()

	_, err := conn.ReadFrame()
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestDecodeResponseValue(t *testing.T) {
	msg, err := wire.DecodeResponse([]byte(`{"type":"query_result","id":4,"status":"success","value":{"kind":"json","json":[1,2]}}`))
	require.NoError(t, err)
	res, ok := msg.(api.QueryResult)
	require.True(t, ok)
	assert.Equal(t, api.QuerySuccess, res.Status)
	require.NotNil(t, res.Value)
	assert.JSONEq(t, `[1,2]`, string(res.Value.JSON))
}
