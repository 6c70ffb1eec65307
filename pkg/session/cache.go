package session

import (
	"context"
	"errors"
	"sync"

	"github.com/lmittmann/tint"
	"github.com/programme-lv/autograder/internal/logging"
	"github.com/puzpuzpuz/xsync/v3"
)

var ErrCacheClosed = errors.New("session cache closed")

// Cache shares started sessions between the tests of one scope, keyed by
// the submission fingerprint. State the student code accumulates in one
// test is visible to the next. Sessions handed out by a Cache belong to
// it: callers must not Close them.
type Cache struct {
	cfg Config

	mu      sync.RWMutex
	closed  bool
	entries *xsync.MapOf[string, *cacheEntry]
}

type cacheEntry struct {
	once sync.Once
	sess *Session
	res  *StartResult
	err  error
}

func NewCache(cfg Config) *Cache {
	return &Cache{
		cfg:     cfg,
		entries: xsync.NewMapOf[string, *cacheEntry](),
	}
}

// Acquire returns the session started for sub, starting it on first use.
// Concurrent callers with the same fingerprint wait for a single start.
// A session that did not boot stays cached with its no_response result.
func (c *Cache) Acquire(ctx context.Context, sub Submission) (*Session, *StartResult, error) {
	key := Fingerprint(sub)

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, nil, ErrCacheClosed
	}
	e, _ := c.entries.LoadOrCompute(key, func() *cacheEntry { return &cacheEntry{} })
	c.mu.RUnlock()

	e.once.Do(func() {
		s, err := New(c.cfg)
		if err != nil {
			e.err = err
			return
		}
		e.res, e.err = s.Start(ctx, sub)
		if e.err != nil {
			_ = s.Close()
			return
		}
		e.sess = s
		s.log.Debug("cached session", "fingerprint", key[:12])
	})
	return e.sess, e.res, e.err
}

func (c *Cache) Len() int {
	return c.entries.Size()
}

// Close ends the scope: every cached session is closed and later
// Acquire calls fail.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	var errs []error
	c.entries.Range(func(key string, e *cacheEntry) bool {
		e.once.Do(func() { e.err = ErrCacheClosed })
		if e.sess != nil {
			if err := e.sess.Close(); err != nil {
				logging.Or(c.cfg.Logger).Warn("close cached session", "fingerprint", key[:12], tint.Err(err))
				errs = append(errs, err)
			}
		}
		c.entries.Delete(key)
		return true
	})
	return errors.Join(errs...)
}
