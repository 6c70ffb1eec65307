package wire

import (
	"encoding/json"
	"fmt"

	"github.com/programme-lv/autograder/api"
)

// UnknownTypeError names the discriminator that could not be dispatched.
type UnknownTypeError struct {
	Type api.MsgType
	ID   uint64
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", string(e.Type))
}

func (e *UnknownTypeError) Unwrap() error { return ErrUnknownType }

// PeekHeader extracts the discriminator and request ID of a frame.
func PeekHeader(b []byte) (api.Header, error) {
	var h api.Header
	if err := json.Unmarshal(b, &h); err != nil {
		return h, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if h.MsgType == "" {
		return h, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return h, nil
}

// DecodeRequest decodes a frame sent by the controller.
func DecodeRequest(b []byte) (api.Message, error) {
	h, err := PeekHeader(b)
	if err != nil {
		return nil, err
	}
	var msg api.Message
	switch h.MsgType {
	case api.StartMsg:
		msg, err = unmarshal[api.Start](b)
	case api.QueryMsg:
		msg, err = unmarshal[api.Query](b)
	case api.QueryFunctionMsg:
		msg, err = unmarshal[api.QueryFunction](b)
	case api.ExitMsg:
		msg, err = unmarshal[api.Exit](b)
	default:
		return nil, &UnknownTypeError{Type: h.MsgType, ID: h.ID}
	}
	return msg, err
}

// DecodeResponse decodes a frame sent by the worker.
func DecodeResponse(b []byte) (api.Message, error) {
	h, err := PeekHeader(b)
	if err != nil {
		return nil, err
	}
	var msg api.Message
	switch h.MsgType {
	case api.HelloMsg:
		msg, err = unmarshal[api.Hello](b)
	case api.StartResultMsg:
		msg, err = unmarshal[api.StartResult](b)
	case api.QueryResultMsg:
		msg, err = unmarshal[api.QueryResult](b)
	case api.FunctionResultMsg:
		msg, err = unmarshal[api.FunctionResult](b)
	case api.ErrorMsg:
		msg, err = unmarshal[api.ErrorReply](b)
	case api.GoodbyeMsg:
		msg, err = unmarshal[api.Goodbye](b)
	default:
		return nil, &UnknownTypeError{Type: h.MsgType, ID: h.ID}
	}
	return msg, err
}

func unmarshal[T any](b []byte) (api.Message, error) {
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	m, ok := any(v).(api.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a message", ErrMalformed, v)
	}
	return m, nil
}
