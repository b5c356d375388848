//go:build !unix

package invoker

import (
	"os/exec"
	"syscall"
)

// setProcessGroup is a no-op on platforms without POSIX process groups
// (spec.md §9: "a thin capability trait with a Unix implementation and a
// no-op fallback").
func setProcessGroup(cmd *exec.Cmd) {}

func signalProcessGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
