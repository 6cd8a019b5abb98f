// Package procgroup starts external tools in their own process group and
// stops the whole group: a polite signal first, SIGKILL after a grace period.
package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// Outcome describes how Terminate ended the process.
type Outcome int

const (
	// Exited means the process was already gone or left after the first signal.
	Exited Outcome = iota
	// Killed means the grace period ran out and SIGKILL was sent.
	Killed
)

// Set configures cmd to start as the leader of a new process group.
func Set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// Signal sends sig to the process group led by cmd. A process that has already
// exited is not an error.
func Signal(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return err
	}
	if err := unix.Kill(-pgid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

// Terminate sends first to the group, waits up to grace for waitCh to yield the
// exit status, and falls back to SIGKILL. waitCh is always drained, so the
// returned error is the process's Wait result.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, first unix.Signal, grace time.Duration) (Outcome, error) {
	if cmd == nil || cmd.Process == nil {
		return Exited, nil
	}
	_ = Signal(cmd, first)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-waitCh:
		return Exited, err
	case <-timer.C:
	}

	_ = Signal(cmd, unix.SIGKILL)
	return Killed, <-waitCh
}
