//go:build !windows

package launcher

import (
	"os/exec"
	"syscall"
)

// detach places the engine in its own process group so signals aimed at
// the daemon do not reach a patch run in flight.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
