// Package worker is the sandbox side of the protocol: it owns the
// student namespace and answers one controller connection.
package worker

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/programme-lv/autograder/api"
	"github.com/programme-lv/autograder/internal/lane"
	"github.com/programme-lv/autograder/internal/logging"
	"github.com/programme-lv/autograder/internal/luavm"
	"github.com/programme-lv/autograder/internal/namespace"
	"github.com/programme-lv/autograder/internal/wire"
)

// DefaultTimeout applies to requests that carry no positive timeout.
const DefaultTimeout = time.Second

// ErrUnauthorized means the peer did not open with a start request
// carrying the worker's token. The worker state is left untouched.
var ErrUnauthorized = errors.New("connection not authorized")

type State int

const (
	AwaitingStart State = iota
	Ready
	Terminated
)

func (s State) String() string {
	switch s {
	case AwaitingStart:
		return "awaiting_start"
	case Ready:
		return "ready"
	}
	return "terminated"
}

type Options struct {
	DefaultTimeout time.Duration
	MaxFrame       int
	MaxOutput      int
	// Token, when set, must be echoed by the first start request.
	Token          string
	Logger         *slog.Logger
}

type Worker struct {
	opts  Options
	log   *slog.Logger
	state State
	ns    *namespace.Namespace
	lane  *lane.Lane
	rt    *luavm.Runtime
}

func New(opts Options) *Worker {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.MaxFrame <= 0 {
		opts.MaxFrame = wire.DefaultMaxFrame
	}
	return &Worker{
		opts: opts,
		log:  logging.Or(opts.Logger),
		ns:   namespace.New(),
		lane: lane.New(),
	}
}

func (w *Worker) State() State { return w.state }

// Serve greets the controller on c and answers requests one at a time
// until an exit request, end of stream, or ctx is done. Responses are
// written in request order. With a token configured, a peer that does
// not authenticate is dropped with ErrUnauthorized and the worker may
// serve another connection.
func (w *Worker) Serve(ctx context.Context, c net.Conn) error {
	conn := wire.NewConn(c, w.opts.MaxFrame)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	err := w.serve(ctx, conn)
	if errors.Is(err, ErrUnauthorized) {
		_ = conn.Close()
		return err
	}
	w.shutdown(conn)
	return err
}

func (w *Worker) serve(ctx context.Context, conn *wire.Conn) error {
	if err := conn.Send(api.NewHello(os.Getpid(), luavm.Interpreter)); err != nil {
		return err
	}

	authorized := w.opts.Token == ""
	for {
		msg, err := conn.ReadRequest()
		if err != nil {
			if !authorized {
				return fmt.Errorf("%w: %w", ErrUnauthorized, err)
			}
			reply, fatal := w.readFailure(err)
			if reply != nil {
				if sendErr := w.send(conn, reply); sendErr != nil {
					return sendErr
				}
			}
			if fatal {
				if isClosed(err) || ctx.Err() != nil {
					return nil
				}
				return err
			}
			continue
		}

		if !authorized {
			if !w.authorize(msg) {
				_ = conn.Send(api.NewErrorReply(msg.RequestID(), api.CodeUnauthorized, "missing or wrong session token"))
				return ErrUnauthorized
			}
			authorized = true
			_ = conn.SetDeadline(time.Time{})
		}

		w.log.Debug("request", "type", msg.MessageType(), "id", msg.RequestID())
		reply := w.handle(ctx, msg)
		if err := w.send(conn, reply); err != nil {
			return err
		}
		if w.state == Terminated {
			return nil
		}
	}
}

func (w *Worker) authorize(msg api.Message) bool {
	req, ok := msg.(api.Start)
	return ok && subtle.ConstantTimeCompare([]byte(req.Token), []byte(w.opts.Token)) == 1
}

// send writes reply, replacing it with a compact version when it does
// not fit in one frame.
func (w *Worker) send(conn *wire.Conn, reply api.Message) error {
	err := conn.Send(reply)
	if !errors.Is(err, wire.ErrFrameTooLarge) {
		return err
	}
	w.log.Warn("response exceeds frame limit", "type", reply.MessageType(), "id", reply.RequestID(), "limit", w.opts.MaxFrame)
	return conn.Send(shrink(reply, w.opts.MaxFrame))
}

// shrink keeps a start result, which the controller needs to finish
// booting, by clipping its text fields. Any other reply becomes a
// value_too_large error.
func shrink(reply api.Message, limit int) api.Message {
	if r, ok := reply.(api.StartResult); ok {
		n := limit / 32
		r.Stdout = clip(r.Stdout, n)
		r.Stderr = clip(r.Stderr, n)
		r.ExecutionTraceback = clip(r.ExecutionTraceback, n)
		if r.ExecutionError != nil {
			r.ExecutionError = ptr(clip(*r.ExecutionError, n))
		}
		return r
	}
	return api.NewErrorReply(reply.RequestID(), api.CodeValueTooLarge,
		fmt.Sprintf("%s does not fit in the %d byte frame limit", reply.MessageType(), limit))
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + luavm.TruncatedMark
}

// readFailure maps a read error to an optional error reply and whether
// the loop must stop.
func (w *Worker) readFailure(err error) (api.Message, bool) {
	var unknown *wire.UnknownTypeError
	switch {
	case errors.As(err, &unknown):
		w.log.Warn("unknown request type", "type", unknown.Type)
		return api.NewErrorReply(unknown.ID, api.CodeUnknownType, err.Error()), false
	case errors.Is(err, wire.ErrMalformed):
		w.log.Warn("malformed request", tint.Err(err))
		return api.NewErrorReply(0, api.CodeMalformed, err.Error()), false
	case errors.Is(err, wire.ErrFrameTooLarge):
		return api.NewErrorReply(0, api.CodeMalformed, err.Error()), true
	}
	return nil, true
}

func isClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func (w *Worker) handle(ctx context.Context, msg api.Message) api.Message {
	switch req := msg.(type) {
	case api.Exit:
		w.state = Terminated
		return api.NewGoodbye(req.ID)
	case api.Start:
		if w.state != AwaitingStart {
			return api.NewErrorReply(req.ID, api.CodeAlreadyStarted, "start was already handled")
		}
		return w.handleStart(ctx, req)
	case api.Query:
		if w.state != Ready {
			return api.NewErrorReply(req.ID, api.CodeNotStarted, "query before start")
		}
		return w.handleQuery(req)
	case api.QueryFunction:
		if w.state != Ready {
			return api.NewErrorReply(req.ID, api.CodeNotStarted, "query_function before start")
		}
		return w.handleQueryFunction(ctx, req)
	}
	return api.NewErrorReply(msg.RequestID(), api.CodeUnknownType, string(msg.MessageType()))
}

func (w *Worker) timeout(sec float64) time.Duration {
	if d := api.Duration(sec); d > 0 {
		return d
	}
	return w.opts.DefaultTimeout
}

func (w *Worker) shutdown(conn *wire.Conn) {
	w.state = Terminated
	w.lane.Close()
	_ = conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := w.lane.Wait(ctx); err != nil {
		w.log.Warn("abandoned call still running at shutdown", "abandoned", w.lane.Abandoned())
		return
	}
	if w.rt != nil {
		w.rt.Close()
	}
}
