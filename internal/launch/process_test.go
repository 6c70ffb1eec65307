//go:build unix

package launch

import (
	"bufio"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipesAndStderr(t *testing.T) {
	p, err := Start(Spec{
		Path: "/bin/sh",
		Args: []string{"-c", "echo oops >&2; read line; echo \"got $line\""},
	})
	require.NoError(t, err)

	_, err = p.Stdin().Write([]byte("ping\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(p.Stdout()).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "got ping\n", line)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	assert.False(t, p.Alive())
	assert.NoError(t, p.ExitErr())
	assert.Equal(t, "oops\n", p.Stderr())
}

func TestStopEscalatesToKill(t *testing.T) {
	p, err := Start(Spec{
		Path: "/bin/sh",
		Args: []string{"-c", "trap '' TERM; while :; do sleep 1; done"},
	})
	require.NoError(t, err)
	assert.True(t, p.Alive())

	begin := time.Now()
	require.NoError(t, p.Stop(200*time.Millisecond, 2*time.Second))
	assert.False(t, p.Alive())
	assert.Less(t, time.Since(begin), 2*time.Second)

	// stopping a reaped process is a no-op
	assert.NoError(t, p.Stop(time.Second, time.Second))
	assert.NoError(t, p.Kill(time.Second))
}

func TestStopWithinGrace(t *testing.T) {
	p, err := Start(Spec{Path: "/bin/sh", Args: []string{"-c", "sleep 30"}})
	require.NoError(t, err)

	require.NoError(t, p.Stop(2*time.Second, time.Second))
	select {
	case <-p.Exited():
	default:
		t.Fatal("process still running after Stop")
	}
}

func TestStartErrors(t *testing.T) {
	_, err := Start(Spec{})
	assert.ErrorIs(t, err, ErrNoCommand)

	_, err = Start(Spec{Path: "/nonexistent/worker"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrCredential)

	_, err = Start(Spec{Path: "/bin/sh", User: "no-such-user-autograder"})
	assert.ErrorIs(t, err, ErrCredential)
}

func TestTailBufferKeepsLastBytes(t *testing.T) {
	b := &tailBuffer{limit: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "defg", b.String())
}
