// Package proctree tracks a monitored process tree's fork/clone/exec/exit
// lifecycle using ptrace(2), the mechanism spec.md §4.2 names for
// "process mode": attach to (or spawn and trace) one process, follow
// every descendant thread and process it creates, and report each
// lifecycle transition to a Monitor.
package proctree

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/arrowtrace/profiler/scope"
)

// traceOptions is the fixed PTRACE_SETOPTIONS mask applied to every
// traced thread: follow forks, vforks, clones, and be notified on exec
// and on exit-about-to-happen (spec.md §4.2, grounded on lo2s's
// process_controller.cpp handling of SIGSTOP-after-attach).
const traceOptions = unix.PTRACE_O_TRACEFORK |
	unix.PTRACE_O_TRACEVFORK |
	unix.PTRACE_O_TRACECLONE |
	unix.PTRACE_O_TRACEEXEC |
	unix.PTRACE_O_TRACEEXIT

// Monitor receives process-tree lifecycle notifications. Implementations
// (control.ProcessLifecycle) open/close event
// sources in response; errors here are logged by Controller but never
// interrupt tracing — a monitor failing to start sampling a thread
// should not bring down the whole tree.
type Monitor interface {
	InsertProcess(parent, child scope.Process, name string, spawned bool) error
	InsertThread(process scope.Process, thread scope.Thread, name string) error
	UpdateProcessName(p scope.Process, name string)
	ExitThread(t scope.Thread) error
}

// Controller runs the ptrace wait loop for one monitored tree, per
// spec.md §4.2's "process mode".
type Controller struct {
	log     *slog.Logger
	monitor Monitor
	groups  *ScopeGroups

	firstChild scope.Thread
	spawned    bool

	wakeups  atomic.Uint64
	stopping atomic.Bool
}

// NewController constructs a Controller for first, the root thread of
// the monitored tree. If spawned is true, first was fork+exec'd by
// this process (PTRACE_TRACEME already requested by the child, per
// Spawn below); if false, first is an already-running process being
// attached to.
func NewController(log *slog.Logger, monitor Monitor, first scope.Thread, spawned bool) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		log:        log,
		monitor:    monitor,
		groups:     NewScopeGroups(),
		firstChild: first,
		spawned:    spawned,
	}
	c.groups.AddProcess(scope.Process(first))
	return c
}

// Spawn starts cmd with PTRACE_TRACEME requested in the child before
// exec, so the very first instruction it executes raises SIGTRAP and
// stops it for the parent to configure ptrace options on, grounded on
// lo2s's spawn path (ProcessController constructed with spawn=true).
func Spawn(cmd *exec.Cmd) error {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Ptrace = true
	return cmd.Start()
}

// Attach attaches to an already-running process, per spec.md §4.2's
// "attach to an existing pid" mode.
func Attach(pid int) error {
	return unix.PtraceAttach(pid)
}

// Wakeups returns the number of waitpid wakeups processed so far, for
// the monitor's self-observability metrics.
func (c *Controller) Wakeups() uint64 { return c.wakeups.Load() }

// Run drives the ptrace wait loop until the root thread exits or, after
// a SIGINT (see requestStop), an attached root thread is detached. It returns nil on a clean exit of the root thread, and a
// non-nil error only for unrecoverable wait(2) failures.
func (c *Controller) Run() error {
	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt)
	defer signal.Stop(sigint)

	go func() {
		<-sigint
		c.requestStop()
	}()

	var status unix.WaitStatus
	for {
		pid, err := unix.Wait4(-1, &status, unix.WALL, nil)
		if err != nil {
			if errors.Is(err, unix.ECHILD) {
				return nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("proctree: wait4: %w", err)
		}
		c.wakeups.Add(1)

		done, err := c.handleStatus(scope.Thread(pid), status)
		if err != nil {
			c.log.Error("proctree: handling wait status", "thread", pid, "error", err)
		}
		if done {
			return nil
		}
	}
}

// requestStop arranges for the attached root thread to be detached on
// its next signal-delivery-stop, mirroring lo2s's SIGINT handler: a
// spawned child is simply left to run to completion (detaching a
// spawned, not-independently-runnable tracee would orphan it), while
// an attached pre-existing process is stopped and released back to
// running freely.
func (c *Controller) requestStop() {
	c.stopping.Store(true)
	if !c.spawned {
		unix.Kill(int(c.firstChild), unix.SIGSTOP)
	}
}

func (c *Controller) handleStatus(child scope.Thread, status unix.WaitStatus) (done bool, err error) {
	switch {
	case status.Exited():
		c.log.Info("proctree: thread exited", "thread", child, "code", status.ExitStatus())
		if child == c.firstChild {
			return true, c.monitor.ExitThread(child)
		}
		c.groups.Forget(child)
		return false, c.monitor.ExitThread(child)

	case status.Signaled():
		c.log.Info("proctree: thread killed by signal", "thread", child, "signal", status.Signal())
		if child == c.firstChild {
			return true, c.monitor.ExitThread(child)
		}
		c.groups.Forget(child)
		return false, c.monitor.ExitThread(child)

	case status.Stopped():
		return c.handleStopped(child, status)

	default:
		c.log.Warn("proctree: unhandled wait status", "thread", child, "status", uint32(status))
		return false, nil
	}
}

func (c *Controller) handleStopped(child scope.Thread, status unix.WaitStatus) (done bool, err error) {
	sig := status.StopSignal()

	if c.stopping.Load() && !c.spawned {
		if err := unix.PtraceDetach(int(child)); err != nil && !errors.Is(err, unix.ESRCH) {
			c.log.Warn("proctree: detach failed", "thread", child, "error", err)
		}
		if child == c.firstChild {
			return true, nil
		}
	}

	switch sig {
	case unix.SIGSTOP:
		if err := unix.PtraceSetOptions(int(child), traceOptions); err != nil {
			return false, fmt.Errorf("setting ptrace options on %s: %w", child, err)
		}
		return false, c.cont(child, 0)

	case unix.SIGTRAP:
		if event := status.TrapCause(); event != 0 {
			if herr := c.handlePtraceEvent(child, event); herr != nil {
				c.log.Error("proctree: handling ptrace event", "thread", child, "error", herr)
			}
		}
		return false, c.cont(child, 0)

	default:
		return false, c.cont(child, int(sig))
	}
}

func (c *Controller) cont(child scope.Thread, signum int) error {
	if err := unix.PtraceCont(int(child), signum); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("PTRACE_CONT on %s: %w", child, err)
	}
	return nil
}

func (c *Controller) handlePtraceEvent(child scope.Thread, event int) error {
	switch event {
	case unix.PTRACE_EVENT_FORK, unix.PTRACE_EVENT_VFORK:
		msg, err := unix.PtraceGetEventMsg(int(child))
		if err != nil {
			return fmt.Errorf("getting fork event message for %s: %w", child, err)
		}
		newProcess := scope.Process(msg)
		name := processComm(newProcess)

		c.groups.AddProcess(newProcess)
		parent, err := c.groups.GetProcess(child)
		if err != nil {
			return err
		}
		return c.monitor.InsertProcess(parent, newProcess, name, false)

	case unix.PTRACE_EVENT_CLONE:
		msg, err := unix.PtraceGetEventMsg(int(child))
		if err != nil {
			return fmt.Errorf("getting clone event message for %s: %w", child, err)
		}
		newThread := scope.Thread(msg)
		process, err := c.groups.GetProcess(child)
		if err != nil {
			return err
		}
		name := taskComm(process, newThread)

		c.groups.AddThread(newThread, process)
		return c.monitor.InsertThread(process, newThread, name)

	case unix.PTRACE_EVENT_EXEC:
		// PTRACE_EVENT_EXEC is only ever reported for the thread that
		// called exec, which is by definition the process's main thread.
		process := scope.Process(child)
		name := processComm(process)
		c.monitor.UpdateProcessName(process, name)
		return nil

	case unix.PTRACE_EVENT_EXIT:
		c.log.Debug("proctree: thread about to exit", "thread", child)
		return nil

	default:
		c.log.Warn("proctree: unhandled ptrace event", "thread", child, "event", event)
		return nil
	}
}

// processComm reads /proc/<pid>/comm, returning "<unknown>" if the
// process has already gone (short-lived forks can race their own
// PTRACE_EVENT_FORK delivery).
func processComm(p scope.Process) string {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", int32(p)))
	if err != nil {
		return "<unknown>"
	}
	return trimNewline(b)
}

// taskComm reads /proc/<pid>/task/<tid>/comm.
func taskComm(p scope.Process, t scope.Thread) string {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/task/%d/comm", int32(p), int32(t)))
	if err != nil {
		return "<unknown>"
	}
	return trimNewline(b)
}

func trimNewline(b []byte) string {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
	}
	return string(b)
}
