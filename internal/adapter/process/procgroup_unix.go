//go:build unix

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// startInOwnGroup puts the crawler in a new process group so launcher scripts and the
// processes they fork can be signalled together.
func startInOwnGroup(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killGroup(p *os.Process) error {
	err := syscall.Kill(-p.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}
