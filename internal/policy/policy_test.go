package policy_test

import (
	"testing"

	"github.com/programme-lv/autograder/internal/policy"
	"github.com/stretchr/testify/assert"
)

func TestDefaultAllow(t *testing.T) {
	p := policy.New(nil, nil)
	assert.Equal(t, []string{"coroutine", "math", "string", "table"}, p.Libraries())
	assert.True(t, p.Allows("string"))
	assert.False(t, p.Allows("os"))
	assert.False(t, p.Allows("socket"))
}

func TestDenyWins(t *testing.T) {
	p := policy.New([]string{"os", " IO ", "math"}, []string{"io"})
	assert.Equal(t, []string{"math", "os"}, p.Libraries())
	assert.True(t, p.Allows("OS"))
	assert.False(t, p.Allows("io"))
}

func TestUnknownEntries(t *testing.T) {
	p := policy.New([]string{"math", "lfs", "socket"}, nil)
	assert.Equal(t, []string{"lfs", "socket"}, p.Unknown())
	assert.Equal(t, []string{"math"}, p.Libraries())
	assert.False(t, p.Allows("lfs"))
}
