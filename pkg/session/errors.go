package session

import (
	"errors"
	"fmt"

	"github.com/programme-lv/autograder/api"
)

var (
	ErrNotStarted     = errors.New("session not started")
	ErrAlreadyStarted = errors.New("session already started")
	ErrClosed         = errors.New("session closed")
	// ErrUnusable marks a session that failed to boot or lost its worker.
	ErrUnusable       = errors.New("session unusable")
	ErrProcessExited  = errors.New("worker process terminated")
	ErrConnectionLost = errors.New("connection to worker lost")
	ErrDecode         = errors.New("cannot decode worker value")
	ErrLaunch         = errors.New("cannot launch worker")
	ErrNotFound       = errors.New("name not found")
)

// ProtocolError is a violation reported by the worker, or a response
// that does not fit the request that was sent.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %s: %s", e.Code, e.Message)
}

// CallError is a call that completed with an exception or a timeout.
type CallError struct {
	Function  string
	Status    api.FunctionStatus
	Name      string
	Message   string
	Traceback string
}

func (e *CallError) Error() string {
	if e.Status == api.FunctionTimeout {
		return fmt.Sprintf("call %s: timed out", e.Function)
	}
	return fmt.Sprintf("call %s: %s: %s", e.Function, e.Name, e.Message)
}
