//go:build unix

package termination

import (
	"os"
	"os/exec"
	"syscall"
)

// restartProcess replaces the current process image with a fresh
// invocation of its own binary and original arguments (spec.md §4.11
// "Restart"). On success this never returns.
func restartProcess(args []string) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	argv := append([]string{self}, args...)
	path, err := exec.LookPath(self)
	if err != nil {
		path = self
	}
	return syscall.Exec(path, argv, os.Environ())
}
