// Package policy decides which Lua standard libraries student code may
// load.
package policy

import (
	"slices"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Known library names, read only. The base library is always loaded.
var Known = mapset.NewThreadUnsafeSet("table", "string", "math", "coroutine", "os", "io", "debug", "channel", "package")

// DefaultAllow is used when the allow list is empty.
var DefaultAllow = []string{"table", "string", "math", "coroutine"}

type Policy struct {
	allow mapset.Set[string]
	deny  mapset.Set[string]
}

// New builds a policy. Deny wins over allow, an empty allow list means
// DefaultAllow. Names are case-insensitive and surrounding spaces are
// ignored.
func New(allow, deny []string) *Policy {
	p := &Policy{
		allow: normalize(allow),
		deny:  normalize(deny),
	}
	if p.allow.Cardinality() == 0 {
		p.allow = normalize(DefaultAllow)
	}
	return p
}

func normalize(names []string) mapset.Set[string] {
	s := mapset.NewThreadUnsafeSet[string]()
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			s.Add(n)
		}
	}
	return s
}

// Allows reports whether module name may be loaded.
func (p *Policy) Allows(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	return Known.Contains(name) && p.allow.Contains(name) && !p.deny.Contains(name)
}

// Libraries lists the allowed standard libraries in a stable order.
func (p *Policy) Libraries() []string {
	libs := p.allow.Difference(p.deny).Intersect(Known).ToSlice()
	slices.Sort(libs)
	return libs
}

// Unknown lists allow entries that name no standard library.
func (p *Policy) Unknown() []string {
	names := p.allow.Difference(Known).ToSlice()
	slices.Sort(names)
	return names
}
