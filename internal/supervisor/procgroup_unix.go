//go:build !windows

package supervisor

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcessGroup makes the child the leader of a new process group so the
// servers that npm, npx and friends spawn can be signalled with it.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func killGroup(pid int) error {
	return signalGroup(pid, syscall.SIGKILL)
}

// groupAlive reports whether any process is left in the group.
func groupAlive(pid int) bool {
	return syscall.Kill(-pid, 0) == nil
}
