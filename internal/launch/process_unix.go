//go:build unix

package launch

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
)

func configure(cmd *exec.Cmd, username string) error {
	attr := &syscall.SysProcAttr{Setpgid: true}
	if username != "" {
		cred, err := credential(username)
		if err != nil {
			return err
		}
		attr.Credential = cred
	}
	cmd.SysProcAttr = attr
	return nil
}

func credential(username string) (*syscall.Credential, error) {
	u, err := user.Lookup(username)
	if err != nil {
		if _, numErr := strconv.Atoi(username); numErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCredential, err)
		}
		if u, err = user.LookupId(username); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCredential, err)
		}
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: uid %q: %v", ErrCredential, u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: gid %q: %v", ErrCredential, u.Gid, err)
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid), NoSetGroups: true}, nil
}

// terminate signals the whole process group, falling back to the process.
func terminate(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGTERM); err == nil {
		return nil
	}
	return p.Signal(syscall.SIGTERM)
}

func kill(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return p.Kill()
}
