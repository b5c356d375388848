//go:build unix

package invoker

import (
	"os/exec"
	"syscall"
)

// setProcessGroup places the subprocess in its own process group so
// cancellation can signal the whole tree (spec.md §4.4 point 3: "Place
// the process in its own process group where the platform supports it").
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func signalProcessGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, sig)
}
