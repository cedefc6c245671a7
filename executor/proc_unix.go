//go:build unix

package executor

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group so the
// whole tree can be signalled at once, approximating the "children first"
// kill order from spec §4.4 without needing a /proc tree walk.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminate sends SIGTERM to the process group.
func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

// killTree sends SIGKILL to the process group.
func killTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
