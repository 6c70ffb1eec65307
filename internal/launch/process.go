// Package launch starts and stops worker processes.
package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// DefaultStderrTail is how much of the worker's stderr is retained.
const DefaultStderrTail = 64 << 10

var (
	ErrCredential = errors.New("cannot run as requested user")
	ErrNoCommand  = errors.New("no worker command")
)

type Spec struct {
	Path string
	Args []string
	// Env is appended to the controller's environment.
	Env []string
	Dir string
	// User runs the process as another OS user when set. A name or a
	// numeric uid is accepted.
	User string
	// WaitDelay bounds how long Wait keeps copying output after exit.
	WaitDelay  time.Duration
	StderrTail int
}

type Process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	stderr  *tailBuffer
	exited  chan struct{}
	waitErr error
}

// Start launches the process with private stdin/stdout pipes and a
// bounded stderr capture, in its own process group.
func Start(spec Spec) (*Process, error) {
	if spec.Path == "" {
		return nil, ErrNoCommand
	}
	if spec.WaitDelay <= 0 {
		spec.WaitDelay = time.Second
	}
	if spec.StderrTail <= 0 {
		spec.StderrTail = DefaultStderrTail
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Dir = spec.Dir
	cmd.WaitDelay = spec.WaitDelay
	if err := configure(cmd, spec.User); err != nil {
		return nil, err
	}

	p := &Process{
		cmd:    cmd,
		stderr: &tailBuffer{limit: spec.StderrTail},
		exited: make(chan struct{}),
	}
	cmd.Stderr = p.stderr

	var err error
	if p.stdin, err = cmd.StdinPipe(); err != nil {
		return nil, err
	}
	if p.stdout, err = cmd.StdoutPipe(); err != nil {
		return nil, err
	}
	if err = cmd.Start(); err != nil {
		if spec.User != "" {
			return nil, fmt.Errorf("%w: %v", ErrCredential, err)
		}
		return nil, err
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

func (p *Process) Stdin() io.WriteCloser {
	return p.stdin
}

func (p *Process) Stdout() io.ReadCloser {
	return p.stdout
}

// Stderr returns the retained tail of the process's stderr.
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// Exited is closed once the process has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

func (p *Process) Alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// ExitErr is the result of Wait. Only meaningful after Exited is closed.
func (p *Process) ExitErr() error {
	select {
	case <-p.exited:
		return p.waitErr
	default:
		return nil
	}
}

// Wait blocks until the process is reaped or ctx is done.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.exited:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes stdin and asks the process group to terminate. After grace
// it kills the group and waits at most killWait more.
func (p *Process) Stop(grace, killWait time.Duration) error {
	if !p.Alive() {
		return nil
	}
	_ = p.stdin.Close()
	if err := terminate(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return p.Kill(killWait)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.exited:
		return nil
	case <-timer.C:
	}
	return p.Kill(killWait)
}

// Kill kills the process group and waits at most wait for the reap.
func (p *Process) Kill(wait time.Duration) error {
	if !p.Alive() {
		return nil
	}
	if err := kill(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		return fmt.Errorf("process %d not reaped after kill: %w", p.Pid(), err)
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
