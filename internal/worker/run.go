package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/programme-lv/autograder/api"
)

// DefaultAcceptTimeout bounds the wait for the controller to connect.
const DefaultAcceptTimeout = 30 * time.Second

type Config struct {
	Host          string
	AcceptTimeout time.Duration
	Options
}

// Run listens on an ephemeral loopback port, writes "host,port\n" to
// announce, serves exactly one authorized connection and returns. EOF on
// stdin is treated as loss of the controller and ends the run.
func Run(ctx context.Context, cfg Config, stdin io.Reader, announce io.Writer) error {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.AcceptTimeout <= 0 {
		cfg.AcceptTimeout = DefaultAcceptTimeout
	}
	w := New(cfg.Options)

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, "0"))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	if _, err := fmt.Fprintf(announce, "%s,%d\n", addr.IP, addr.Port); err != nil {
		return fmt.Errorf("announce address: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if stdin != nil {
		go func() {
			_, _ = io.Copy(io.Discard, stdin)
			w.log.Debug("stdin closed, stopping")
			cancel()
		}()
	}
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	deadline := time.Now().Add(cfg.AcceptTimeout)
	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(deadline)
	}
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		w.log.Debug("controller connected", "remote", c.RemoteAddr().String())
		if cfg.Token != "" {
			// an unauthenticated peer cannot hold the worker past the
			// accept window
			_ = c.SetDeadline(deadline)
		}

		err = w.Serve(ctx, c)
		if !errors.Is(err, ErrUnauthorized) {
			return err
		}
		w.log.Warn("dropped unauthorized connection", "remote", c.RemoteAddr().String(), tint.Err(err))
	}
}

// RunProcess runs the worker as the current process: the real stdout is
// kept for the address line and os.Stdout is pointed at stderr so nothing
// else can reach the announcement channel. SIGTERM and interrupts stop it.
func RunProcess(cfg Config) error {
	announce := os.Stdout
	os.Stdout = os.Stderr

	if cfg.Token == "" {
		cfg.Token = os.Getenv(api.TokenEnv)
	}
	_ = os.Unsetenv(api.TokenEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	err := Run(ctx, cfg, os.Stdin, announce)
	_ = announce.Close()
	return err
}
