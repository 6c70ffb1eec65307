//go:build unix

package session_test

import (
	"fmt"
	"net"
	"os"

	"github.com/programme-lv/autograder/api"
	"github.com/programme-lv/autograder/internal/wire"
)

// scriptedWorker speaks the protocol with canned answers: every call is
// rejected as lane_busy and every query yields 1.
func scriptedWorker() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	defer ln.Close()
	addr := ln.Addr().(*net.TCPAddr)
	fmt.Printf("%s,%d\n", addr.IP, addr.Port)

	c, err := ln.Accept()
	if err != nil {
		return err
	}
	conn := wire.NewConn(c, 0)
	defer conn.Close()
	if err := conn.Send(api.NewHello(os.Getpid(), "scripted")); err != nil {
		return err
	}

	for {
		msg, err := conn.ReadRequest()
		if err != nil {
			return nil
		}
		var reply api.Message
		switch req := msg.(type) {
		case api.Start:
			reply = api.StartResult{Header: api.NewHeader(req.ID, api.StartResultMsg), Status: api.StartSuccess}
		case api.Query:
			one := api.RawJSON([]byte("1"))
			reply = api.QueryResult{Header: api.NewHeader(req.ID, api.QueryResultMsg), Status: api.QuerySuccess, Value: &one}
		case api.QueryFunction:
			reply = api.NewErrorReply(req.ID, api.CodeLaneBusy, "execution lane busy")
		case api.Exit:
			return conn.Send(api.NewGoodbye(req.ID))
		default:
			reply = api.NewErrorReply(msg.RequestID(), api.CodeUnknownType, string(msg.MessageType()))
		}
		if err := conn.Send(reply); err != nil {
			return err
		}
	}
}
