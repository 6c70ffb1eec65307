package api

import "time"

// MsgType is the discriminator carried in the "type" field of every frame
type MsgType string

// Controller -> worker message types
const (
	StartMsg         MsgType = "start"
	QueryMsg         MsgType = "query"
	QueryFunctionMsg MsgType = "query_function"
	ExitMsg          MsgType = "exit"
)

// Worker -> controller message types
const (
	HelloMsg          MsgType = "hello"
	StartResultMsg    MsgType = "start_result"
	QueryResultMsg    MsgType = "query_result"
	FunctionResultMsg MsgType = "function_result"
	ErrorMsg          MsgType = "error"
	GoodbyeMsg        MsgType = "goodbye"
)

// ProtocolVersion is announced by the worker in its hello frame.
const ProtocolVersion = 2

// TokenEnv carries the session token from the controller to the worker.
// The environment is used rather than argv so other users cannot read it
// from the process table.
const TokenEnv = "AUTOGRADER_WORKER_TOKEN"

// Message is implemented by every frame through the embedded Header.
type Message interface {
	MessageType() MsgType
	RequestID() uint64
}

// Header is the common header for all frames. Responses echo the ID of
// the request that produced them.
type Header struct {
	MsgType MsgType `json:"type"`
	ID      uint64  `json:"id"`
}

func (h Header) MessageType() MsgType { return h.MsgType }

func (h Header) RequestID() uint64 { return h.ID }

// Helper function to create a header
func NewHeader(id uint64, msgType MsgType) Header {
	return Header{
		MsgType: msgType,
		ID:      id,
	}
}

// IsRequest reports whether t is sent by the controller.
func IsRequest(t MsgType) bool {
	switch t {
	case StartMsg, QueryMsg, QueryFunctionMsg, ExitMsg:
		return true
	}
	return false
}

// IsResponse reports whether t is sent by the worker.
func IsResponse(t MsgType) bool {
	switch t {
	case HelloMsg, StartResultMsg, QueryResultMsg, FunctionResultMsg, ErrorMsg, GoodbyeMsg:
		return true
	}
	return false
}

// Seconds converts a timeout to the float seconds used on the wire.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}

// Duration converts wire seconds back to a duration. Non-positive values
// yield zero, meaning "use the default".
func Duration(sec float64) time.Duration {
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec * float64(time.Second))
}
