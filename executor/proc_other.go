//go:build !unix

package executor

import "os/exec"

// configureSysProcAttr is a no-op on platforms without process groups;
// resource enforcement there relies entirely on the sampling monitor.
func configureSysProcAttr(cmd *exec.Cmd) {}

// terminate kills the process directly; Windows has no SIGTERM so a soft
// terminate and a hard kill are the same operation here.
func terminate(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

// killTree kills the process directly (see terminate).
func killTree(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}
