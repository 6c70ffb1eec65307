package session

import (
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/programme-lv/autograder/internal/wire"
)

const (
	DefaultInitTimeout    = 5 * time.Second
	DefaultQueryTimeout   = time.Second
	DefaultGracePeriod    = 2 * time.Second
	DefaultKillWait       = 2 * time.Second
	DefaultTransportSlack = time.Second
	// WorkerBinary is looked up next to the controller and then on PATH.
	WorkerBinary = "autograder-worker"
)

var ErrNoWorker = errors.New("no worker command configured")

type Config struct {
	// Command is the worker executable followed by its arguments.
	Command []string
	// Env is appended to the controller environment for the worker.
	Env []string
	Dir string
	// User launches the worker as another OS user. Launch failure is then
	// an error of Start rather than a no_response result.
	User string

	InitTimeout  time.Duration
	QueryTimeout time.Duration
	// GracePeriod is how long Close waits after SIGTERM before killing.
	GracePeriod time.Duration
	KillWait    time.Duration
	// TransportSlack is added to every worker side bound to get the
	// controller side read deadline.
	TransportSlack time.Duration
	MaxFrame       int

	ImportAllow []string
	ImportDeny  []string

	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Command:        DefaultWorkerCommand(),
		InitTimeout:    DefaultInitTimeout,
		QueryTimeout:   DefaultQueryTimeout,
		GracePeriod:    DefaultGracePeriod,
		KillWait:       DefaultKillWait,
		TransportSlack: DefaultTransportSlack,
		MaxFrame:       wire.DefaultMaxFrame,
	}
}

// DefaultWorkerCommand finds the worker binary installed alongside the
// running executable, falling back to PATH.
func DefaultWorkerCommand() []string {
	if exe, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(exe), WorkerBinary)
		if _, err := os.Stat(path); err == nil {
			return []string{path}
		}
	}
	if path, err := exec.LookPath(WorkerBinary); err == nil {
		return []string{path}
	}
	return nil
}

// Validate fills zero fields with defaults and reports whether a worker
// command is available.
func (c *Config) Validate() error {
	if len(c.Command) == 0 {
		c.Command = DefaultWorkerCommand()
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = DefaultInitTimeout
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.KillWait <= 0 {
		c.KillWait = DefaultKillWait
	}
	if c.TransportSlack <= 0 {
		c.TransportSlack = DefaultTransportSlack
	}
	if c.MaxFrame <= 0 {
		c.MaxFrame = wire.DefaultMaxFrame
	}
	if len(c.Command) == 0 || c.Command[0] == "" {
		return ErrNoWorker
	}
	return nil
}
