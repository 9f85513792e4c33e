//go:build windows

package targetserver

import (
	"errors"
	"os"
	"os/exec"
)

// Process groups are not available; only the direct child is signalled.
func setProcessGroup(cmd *exec.Cmd) {}

func interruptProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(os.Interrupt)
}

func killProcessGroup(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
