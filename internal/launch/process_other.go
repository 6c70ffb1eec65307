//go:build !unix

package launch

import (
	"fmt"
	"os"
	"os/exec"
)

func configure(_ *exec.Cmd, username string) error {
	if username != "" {
		return fmt.Errorf("%w: not supported on this platform", ErrCredential)
	}
	return nil
}

func terminate(p *os.Process) error {
	return p.Kill()
}

func kill(p *os.Process) error {
	return p.Kill()
}
