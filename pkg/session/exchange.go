package session

import (
	"context"
	"fmt"
	"time"

	"github.com/lmittmann/tint"
	"github.com/programme-lv/autograder/api"
	"github.com/programme-lv/autograder/pkg/codec"
)

// Query looks up name in the worker namespace. A missing name is a
// not_found result, not an error. timeout <= 0 means the configured
// query timeout.
func (s *Session) Query(ctx context.Context, name string, timeout time.Duration) (*QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	timeout = s.timeout(timeout)

	req := api.NewQuery(s.nextRequestID(), name, api.Seconds(timeout))
	resp, err := s.exchange(ctx, req, timeout)
	if err != nil {
		return nil, err
	}
	m, ok := resp.(api.QueryResult)
	if !ok {
		return nil, s.fail(unexpected(req, resp))
	}

	res := &QueryResult{Status: m.Status}
	if m.Status == api.QuerySuccess {
		if res.Value, err = decode(m.Value); err != nil {
			return res, fmt.Errorf("query %s: %w", name, err)
		}
	}
	return res, nil
}

// QueryFunction calls name in the worker with args and kwargs. Exceptions
// and timeouts of the call itself are reported through the result status.
func (s *Session) QueryFunction(ctx context.Context, name string, timeout time.Duration, args []any, kwargs map[string]any) (*FunctionResult, error) {
	a, k, err := codec.EncodeArgs(args, kwargs)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	timeout = s.timeout(timeout)

	req := api.NewQueryFunction(s.nextRequestID(), name, string(a), string(k), api.Seconds(timeout))
	resp, err := s.exchange(ctx, req, timeout)
	if err != nil {
		return nil, err
	}
	m, ok := resp.(api.FunctionResult)
	if !ok {
		return nil, s.fail(unexpected(req, resp))
	}

	res := &FunctionResult{
		Status:           m.Status,
		Stdout:           m.Stdout,
		Stderr:           m.Stderr,
		ExceptionName:    m.ExceptionName,
		ExceptionMessage: m.ExceptionMessage,
		Traceback:        m.Traceback,
	}
	switch m.Status {
	case api.FunctionSuccess:
		if res.Value, err = decode(m.Value); err != nil {
			return res, fmt.Errorf("call %s: %w", name, err)
		}
	case api.FunctionTimeout:
		s.tainted = true
		s.log.Debug("call abandoned", "function", name)
	}
	return res, nil
}

// Value returns the decoded value of name, or ErrNotFound.
func (s *Session) Value(ctx context.Context, name string) (any, error) {
	res, err := s.Query(ctx, name, 0)
	if err != nil {
		return nil, err
	}
	if res.Status != api.QuerySuccess {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return res.Value, nil
}

// Call invokes name with positional args and the default timeout. An
// exception or timeout is returned as a *CallError.
func (s *Session) Call(ctx context.Context, name string, args ...any) (any, error) {
	res, err := s.QueryFunction(ctx, name, 0, args, nil)
	if err != nil {
		return nil, err
	}
	switch res.Status {
	case api.FunctionSuccess:
		return res.Value, nil
	case api.FunctionNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil, &CallError{
		Function:  name,
		Status:    res.Status,
		Name:      res.ExceptionName,
		Message:   res.ExceptionMessage,
		Traceback: res.Traceback,
	}
}

func (s *Session) usable() error {
	switch s.state {
	case stateIdle:
		return ErrNotStarted
	case stateBroken:
		return ErrUnusable
	case stateClosed:
		return ErrClosed
	}
	if !s.proc.Alive() {
		return s.fail(s.exited())
	}
	return nil
}

func (s *Session) timeout(d time.Duration) time.Duration {
	if d <= 0 {
		return s.cfg.QueryTimeout
	}
	return d
}

// exchange is roundTrip for a started session: transport failures make
// the session terminal and worker error replies become *ProtocolError.
func (s *Session) exchange(ctx context.Context, req api.Message, timeout time.Duration) (api.Message, error) {
	resp, err := s.roundTrip(ctx, req, timeout)
	if err != nil {
		return nil, s.fail(err)
	}
	if e, ok := resp.(api.ErrorReply); ok {
		return nil, &ProtocolError{Code: e.Code, Message: e.Message}
	}
	return resp, nil
}

// roundTrip sends req and reads its response within timeout plus the
// transport slack, or until ctx is done.
func (s *Session) roundTrip(ctx context.Context, req api.Message, timeout time.Duration) (api.Message, error) {
	_ = s.conn.SetDeadline(time.Now().Add(timeout + s.cfg.TransportSlack))
	stop := context.AfterFunc(ctx, func() { _ = s.conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := s.conn.Send(req); err != nil {
		return nil, s.transportError(ctx, err)
	}
	resp, err := s.conn.ReadResponse()
	if err != nil {
		return nil, s.transportError(ctx, err)
	}
	if resp.RequestID() != req.RequestID() {
		return nil, &ProtocolError{
			Code:    "mismatched_id",
			Message: fmt.Sprintf("response %d to request %d", resp.RequestID(), req.RequestID()),
		}
	}
	return resp, nil
}

func (s *Session) transportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrConnectionLost, ctx.Err())
	}
	select {
	case <-s.proc.Exited():
		return fmt.Errorf("%w: %w: %w", ErrConnectionLost, s.exited(), err)
	case <-time.After(50 * time.Millisecond):
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
}

// exited describes the worker's exit, which must already have happened.
func (s *Session) exited() error {
	if err := s.proc.ExitErr(); err != nil {
		return fmt.Errorf("%w (%v)", ErrProcessExited, err)
	}
	return ErrProcessExited
}

// fail makes the session terminal and releases the worker.
func (s *Session) fail(err error) error {
	s.log.Warn("session unusable", tint.Err(err))
	s.teardown()
	s.state = stateBroken
	return err
}

func decode(v *api.Value) (any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := codec.Decode(*v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return out, nil
}

func unexpected(req, resp api.Message) error {
	return &ProtocolError{
		Code:    "unexpected_response",
		Message: fmt.Sprintf("%s answered with %s", req.MessageType(), resp.MessageType()),
	}
}
