//go:build !unix

package termination

import "github.com/ralph-run/ralph/internal/ralphapi"

// restartProcess cannot exec-replace on platforms without POSIX exec
// (spec.md §4.11: "On unsupported platforms this is an error").
func restartProcess(args []string) error {
	return ralphapi.ErrRestartUnsupported
}
