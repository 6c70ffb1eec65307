// Package config loads controller settings from a TOML file, a .env file
// and AUTOGRADER_* environment variables, later sources winning.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/programme-lv/autograder/internal/xdg"
	"github.com/programme-lv/autograder/pkg/session"
)

const (
	AppName  = "autograder"
	FileName = "config.toml"
)

// Duration is a time.Duration written as a Go duration string.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Worker       []string `toml:"worker"`
	WorkerUser   string   `toml:"worker_user"`
	WorkerEnv    []string `toml:"worker_env"`
	InitTimeout  Duration `toml:"init_timeout"`
	QueryTimeout Duration `toml:"query_timeout"`
	GracePeriod  Duration `toml:"grace_period"`
	MaxMessage   int      `toml:"max_message"`
	ImportAllow  []string `toml:"import_allow"`
	ImportDeny   []string `toml:"import_deny"`
	LogLevel     string   `toml:"log_level"`
}

// DefaultPath is the first config.toml found in the XDG config dirs.
func DefaultPath() string {
	return xdg.New().FindConfig(AppName, FileName)
}

// ReportDir is where saved run reports go, under the XDG state home.
func ReportDir() string {
	return filepath.Join(xdg.New().StateHome(), AppName, "runs")
}

// Load reads path (DefaultPath when empty, nothing when that does not
// exist either), then .env from the working directory, then the
// environment.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the variables lookup reports as set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("AUTOGRADER_WORKER"); ok {
		c.Worker = strings.Fields(v)
	}
	if v, ok := lookup("AUTOGRADER_WORKER_USER"); ok {
		c.WorkerUser = strings.TrimSpace(v)
	}
	for key, d := range map[string]*Duration{
		"AUTOGRADER_INIT_TIMEOUT":  &c.InitTimeout,
		"AUTOGRADER_QUERY_TIMEOUT": &c.QueryTimeout,
		"AUTOGRADER_GRACE_PERIOD":  &c.GracePeriod,
	} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		if err := d.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	if v, ok := lookup("AUTOGRADER_IMPORT_ALLOW"); ok {
		c.ImportAllow = splitList(v)
	}
	if v, ok := lookup("AUTOGRADER_IMPORT_DENY"); ok {
		c.ImportDeny = splitList(v)
	}
	if v, ok := lookup("AUTOGRADER_LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SessionConfig maps the settings onto session defaults.
func (c *Config) SessionConfig(log *slog.Logger) session.Config {
	sc := session.DefaultConfig()
	if len(c.Worker) > 0 {
		sc.Command = c.Worker
	}
	sc.User = c.WorkerUser
	sc.Env = c.WorkerEnv
	if c.InitTimeout.Duration > 0 {
		sc.InitTimeout = c.InitTimeout.Duration
	}
	if c.QueryTimeout.Duration > 0 {
		sc.QueryTimeout = c.QueryTimeout.Duration
	}
	if c.GracePeriod.Duration > 0 {
		sc.GracePeriod = c.GracePeriod.Duration
	}
	if c.MaxMessage > 0 {
		sc.MaxFrame = c.MaxMessage
	}
	sc.ImportAllow = c.ImportAllow
	sc.ImportDeny = c.ImportDeny
	sc.Logger = log
	return sc
}
