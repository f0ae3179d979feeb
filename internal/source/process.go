package source

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Handle is a running track source
type Handle interface {
	// Terminate asks the source to exit. It never blocks; repeated calls are no-ops.
	Terminate()
	// Done delivers the exit exactly once, then is closed.
	Done() <-chan Exit
}

// Exit describes how a source process ended
type Exit struct {
	Command string
	Code    int
	Signal  syscall.Signal
	Err     error
	Stderr  string
}

// Signaled reports whether the process was ended by a signal.
// For a source this is the expected result of stop, skip or teardown.
func (e Exit) Signaled() bool {
	return e.Signal != 0
}

// Abnormal reports an exit that was neither clean nor caused by a signal
func (e Exit) Abnormal() bool {
	return !e.Signaled() && (e.Code != 0 || e.Err != nil)
}

func (e Exit) String() string {
	switch {
	case e.Signaled():
		return fmt.Sprintf("%s terminated by %v", e.Command, e.Signal)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
	default:
		return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
	}
}

// Process supervises the processes of one source invocation
type Process struct {
	cmds   []*exec.Cmd
	reaped []atomic.Bool
	grace  time.Duration

	// descendants lists the live process tree below a pid
	descendants func(pid int32) []*process.Process

	terminate sync.Once
	exited    chan struct{}
	done      chan Exit
}

// Watch supervises already started commands. The reported exit is the first
// signaled one, else the first abnormal one, else the last command's.
func Watch(grace time.Duration, cmds ...*exec.Cmd) *Process {
	p := &Process{
		cmds:        cmds,
		reaped:      make([]atomic.Bool, len(cmds)),
		grace:       grace,
		descendants: descendants,
		exited:      make(chan struct{}),
		done:        make(chan Exit, 1),
	}
	go p.wait()
	return p
}

func (p *Process) wait() {
	exits := make([]Exit, len(p.cmds))

	var wg sync.WaitGroup
	for i, cmd := range p.cmds {
		wg.Add(1)
		go func(i int, cmd *exec.Cmd) {
			defer wg.Done()
			err := cmd.Wait()
			p.reaped[i].Store(true)
			exits[i] = exitOf(cmd, err)
		}(i, cmd)
	}
	wg.Wait()
	close(p.exited)

	p.done <- pick(exits)
	close(p.done)
}

func pick(exits []Exit) Exit {
	for _, e := range exits {
		if e.Signaled() {
			return e
		}
	}
	for _, e := range exits {
		if e.Abnormal() {
			return e
		}
	}
	if len(exits) == 0 {
		return Exit{}
	}
	return exits[len(exits)-1]
}

func exitOf(cmd *exec.Cmd, err error) Exit {
	e := Exit{Command: cmd.Path}
	if buf, ok := cmd.Stderr.(fmt.Stringer); ok {
		e.Stderr = buf.String()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		e.Code = exitErr.ExitCode()
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			e.Signal = status.Signal()
		}
	default:
		e.Code = -1
		e.Err = err
	}
	return e
}

// Terminate sends SIGTERM to every process and its descendants and escalates
// to SIGKILL when they are still running after the grace period.
// Once every process has been reaped it does nothing.
func (p *Process) Terminate() {
	p.terminate.Do(func() {
		select {
		case <-p.exited:
			return
		default:
		}

		p.signal(syscall.SIGTERM)

		go func() {
			timer := time.NewTimer(p.grace)
			defer timer.Stop()

			select {
			case <-p.exited:
			case <-timer.C:
				p.signal(syscall.SIGKILL)
			}
		}()
	})
}

// Done implements Handle
func (p *Process) Done() <-chan Exit {
	return p.done
}

func (p *Process) signal(sig syscall.Signal) {
	for i, cmd := range p.cmds {
		// A reaped pid may already belong to an unrelated process
		if cmd.Process == nil || p.reaped[i].Load() {
			continue
		}

		// Children first so they cannot be reparented before we find them
		for _, child := range p.descendants(int32(cmd.Process.Pid)) {
			_ = child.SendSignal(sig)
		}

		// os.ErrProcessDone means it was already reaped
		_ = cmd.Process.Signal(sig)
	}
}

func descendants(pid int32) []*process.Process {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil
	}

	children, err := proc.Children()
	if err != nil {
		return nil
	}

	all := make([]*process.Process, 0, len(children))
	for _, child := range children {
		all = append(all, descendants(child.Pid)...)
		all = append(all, child)
	}
	return all
}
