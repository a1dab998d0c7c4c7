//go:build !unix

package process

import (
	"errors"
	"os"
	"os/exec"
)

func startInOwnGroup(*exec.Cmd) {}

func killGroup(p *os.Process) error {
	err := p.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
