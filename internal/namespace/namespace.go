// Package namespace holds the worker's view of the names defined by
// student code. The interpreter owns the live values; this mapping is a
// snapshot taken after every completed execution, so lookups never touch
// the interpreter while a call may still be running on the lane.
package namespace

import (
	"sync"

	"github.com/programme-lv/autograder/api"
)

type Kind int

const (
	Value Kind = iota
	Callable
)

func (k Kind) String() string {
	if k == Callable {
		return "callable"
	}
	return "value"
}

// Entry is one name. Value holds the encoded value for both kinds.
type Entry struct {
	Name  string
	Kind  Kind
	Value api.Value
}

// Namespace is an ordered name -> entry mapping safe for concurrent use.
type Namespace struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Entry
}

func New() *Namespace {
	return &Namespace{entries: map[string]Entry{}}
}

// Replace swaps in a new snapshot. Later duplicates win but keep the
// position of the first occurrence.
func (n *Namespace) Replace(entries []Entry) {
	order := make([]string, 0, len(entries))
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		if _, ok := m[e.Name]; !ok {
			order = append(order, e.Name)
		}
		m[e.Name] = e
	}
	n.mu.Lock()
	n.order = order
	n.entries = m
	n.mu.Unlock()
}

func (n *Namespace) Lookup(name string) (Entry, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.entries[name]
	return e, ok
}

// Names returns the names in definition order.
func (n *Namespace) Names() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]string(nil), n.order...)
}

func (n *Namespace) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.order)
}
