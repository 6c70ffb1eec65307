// Package session is the controller side of the sandbox protocol. A
// Session owns one worker process and its connection; a Cache shares
// started sessions between tests of one scope.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/programme-lv/autograder/api"
	"github.com/programme-lv/autograder/internal/launch"
	"github.com/programme-lv/autograder/internal/logging"
	"github.com/programme-lv/autograder/internal/wire"
)

// maxPreamble bounds the stdout lines skipped before the address line.
const maxPreamble = 64

var addrLine = regexp.MustCompile(`^([0-9A-Fa-f.:]+),(\d{1,5})$`)

type state int

const (
	stateIdle state = iota
	stateReady
	stateBroken
	stateClosed
)

// StartResult is the outcome of opening a session.
type StartResult struct {
	Status         api.StartStatus
	Stdout         string
	Stderr         string
	ExecutionError string
	Traceback      string
}

type QueryResult struct {
	Status api.QueryStatus
	Value  any
}

type FunctionResult struct {
	Status           api.FunctionStatus
	Value            any
	Stdout           string
	Stderr           string
	ExceptionName    string
	ExceptionMessage string
	Traceback        string
}

// Session is used by one goroutine at a time; requests are serialized.
type Session struct {
	id  string
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	state   state
	proc    *launch.Process
	conn    *wire.Conn
	hello   api.Hello
	nextID  uint64
	tainted bool
}

func New(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	return &Session{
		id:  id,
		cfg: cfg,
		log: logging.Or(cfg.Logger).With("session", id),
	}, nil
}

func (s *Session) ID() string { return s.id }

// Start spawns the worker, completes the handshake and executes sub.
// Boot failures are reported as a no_response result and leave the
// session unusable. With an alternate user configured, a failed launch
// is returned as ErrLaunch instead.
func (s *Session) Start(ctx context.Context, sub Submission) (*StartResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateIdle:
	case stateClosed:
		return nil, ErrClosed
	default:
		return nil, ErrAlreadyStarted
	}

	// the token keeps other local processes from taking over the
	// announced port before we connect
	token := uuid.NewString()
	env := append(slices.Clip(s.cfg.Env), api.TokenEnv+"="+token)

	proc, err := launch.Start(launch.Spec{
		Path:      s.cfg.Command[0],
		Args:      s.cfg.Command[1:],
		Env:       env,
		Dir:       s.cfg.Dir,
		User:      s.cfg.User,
		WaitDelay: s.cfg.KillWait,
	})
	if err != nil {
		s.state = stateBroken
		if s.cfg.User != "" || errors.Is(err, launch.ErrCredential) {
			return nil, fmt.Errorf("%w as %q: %w", ErrLaunch, s.cfg.User, err)
		}
		return s.noResponse("spawn", err), nil
	}
	s.proc = proc
	s.log = s.log.With("pid", proc.Pid())
	s.log.Debug("worker spawned", "command", strings.Join(s.cfg.Command, " "))

	bootCtx, cancel := context.WithTimeout(ctx, s.cfg.InitTimeout)
	defer cancel()
	if err := s.handshake(bootCtx); err != nil {
		return s.noResponse("handshake", err), nil
	}

	req := api.NewStart(s.nextRequestID(), sub.Source(), sub.FileName, api.Seconds(s.cfg.InitTimeout))
	req.ImportWhitelist = s.cfg.ImportAllow
	req.ImportBlacklist = s.cfg.ImportDeny
	req.Token = token
	resp, err := s.roundTrip(ctx, req, s.cfg.InitTimeout)
	if err != nil {
		return s.noResponse("start", err), nil
	}
	m, ok := resp.(api.StartResult)
	if !ok {
		return s.noResponse("start", unexpected(req, resp)), nil
	}

	s.state = stateReady
	if m.Status == api.StartTimeout {
		s.tainted = true
	}
	res := &StartResult{
		Status:    m.Status,
		Stdout:    m.Stdout,
		Stderr:    m.Stderr,
		Traceback: m.ExecutionTraceback,
	}
	if m.ExecutionError != nil {
		res.ExecutionError = *m.ExecutionError
	}
	s.log.Debug("session started", "status", res.Status)
	return res, nil
}

// handshake reads the announced address, connects and checks hello.
func (s *Session) handshake(ctx context.Context) error {
	out := bufio.NewReader(s.proc.Stdout())
	addr, err := readAddress(ctx, out)
	if err != nil {
		return err
	}
	go func() { _, _ = io.Copy(io.Discard, out) }()

	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	s.conn = wire.NewConn(c, s.cfg.MaxFrame)

	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = s.conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	msg, err := s.conn.ReadResponse()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	hello, ok := msg.(api.Hello)
	if !ok {
		return fmt.Errorf("expected hello, got %s", msg.MessageType())
	}
	if hello.ProtocolVersion != api.ProtocolVersion {
		return fmt.Errorf("worker speaks protocol %d, want %d", hello.ProtocolVersion, api.ProtocolVersion)
	}
	s.hello = hello
	return nil
}

func readAddress(ctx context.Context, r *bufio.Reader) (string, error) {
	type result struct {
		addr string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		for range maxPreamble {
			line, err := r.ReadString('\n')
			if m := addrLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
				ch <- result{addr: net.JoinHostPort(m[1], m[2])}
				return
			}
			if err != nil {
				ch <- result{err: fmt.Errorf("read address: %w", err)}
				return
			}
		}
		ch <- result{err: errors.New("no address announced")}
	}()
	select {
	case r := <-ch:
		return r.addr, r.err
	case <-ctx.Done():
		return "", fmt.Errorf("read address: %w", ctx.Err())
	}
}

// noResponse tears the worker down and reports a failed boot.
func (s *Session) noResponse(stage string, err error) *StartResult {
	s.log.Warn("worker did not boot", "stage", stage, tint.Err(err))
	s.teardown()
	s.state = stateBroken
	return &StartResult{
		Status:         api.StartNoResponse,
		ExecutionError: fmt.Sprintf("%s: %v", stage, err),
	}
}

// Close stops the worker. It is safe to call more than once and after
// the worker has died.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return nil
	}
	if s.state == stateReady && s.conn != nil && s.proc.Alive() {
		_ = s.conn.SetTimeout(200 * time.Millisecond)
		if err := s.conn.Send(api.NewExit(s.nextRequestID())); err == nil {
			_, _ = s.conn.ReadResponse()
		}
	}
	s.state = stateClosed
	return s.stop(s.cfg.GracePeriod)
}

// teardown releases the worker without a grace period.
func (s *Session) teardown() {
	if err := s.stop(0); err != nil {
		s.log.Warn("worker cleanup", tint.Err(err))
	}
}

func (s *Session) stop(grace time.Duration) error {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.proc == nil {
		return nil
	}
	if grace <= 0 {
		return s.proc.Kill(s.cfg.KillWait)
	}
	return s.proc.Stop(grace, s.cfg.KillWait)
}

// Alive reports whether the session is started and its worker running.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateReady && s.proc.Alive()
}

// Tainted reports whether a timeout may have left an abandoned call
// running in the worker. Such a session should be recycled.
func (s *Session) Tainted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tainted
}

// Stderr returns the retained tail of the worker's diagnostic output.
func (s *Session) Stderr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return ""
	}
	return s.proc.Stderr()
}

// Pid is the worker process id announced in the handshake.
func (s *Session) Pid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hello.WorkerPid
}

// Interpreter names the language runtime announced by the worker.
func (s *Session) Interpreter() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hello.Interpreter
}

func (s *Session) nextRequestID() uint64 {
	s.nextID++
	return s.nextID
}
