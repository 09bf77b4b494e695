// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package tunnel

import (
	"io"
	"os/exec"
	"syscall"
	"time"
)

// stopGrace is how long a terminated process gets before it is killed.
const stopGrace = 5 * time.Second

// process is a started child process.
type process interface {
	// Alive reports whether the process has not exited.
	Alive() bool

	// Stop terminates the process and waits for it to exit.
	Stop() error

	PID() int
}

// executor abstracts process spawning for testing.
type executor interface {
	Start(name string, args []string, output io.Writer) (process, error)
}

// osExecutor is the production executor backed by os/exec.
type osExecutor struct{}

func (o *osExecutor) Start(name string, args []string, output io.Writer) (process, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = output
	cmd.Stderr = output
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &osProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type osProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *osProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *osProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Stop() error {
	if !p.Alive() {
		return nil
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return p.cmd.Process.Kill()
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(stopGrace):
		return p.cmd.Process.Kill()
	}
}

var defaultExec = &osExecutor{}
