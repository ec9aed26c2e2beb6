package control

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/arrowtrace/profiler/scope"
)

// LifecycleRunner is the blocking loop that ends a recording session:
// either proctree.Controller.Run (process mode) or a bare SIGINT wait
// (CPU-set mode with no attached command), per spec.md §4.10.
type LifecycleRunner interface {
	Run() error
}

// Session ties a Controller to the two ways a recording ends, per
// lo2s's CpuSetMonitor.run: if a command or process was configured, a
// process-lifecycle Controller drives the session's end (the traced
// root thread exiting); otherwise the session runs until SIGINT.
type Session struct {
	log *slog.Logger
	ctl *Controller

	cpuScopes []scope.MeasurementScope
	lifecycle LifecycleRunner // nil selects the bare-SIGINT path
}

// NewSession builds a Session. cpuScopes lists the scopes
// (scope.ScopeForCpu(...)) that should each get their own monitor
// started immediately, per CPU-set mode's "launches one monitor per
// CPU" (spec.md §4.10); pass nil in process mode, where monitors are
// instead started on demand by a ProcessLifecycle as threads appear.
// lifecycle is the blocking end-of-session driver: a *proctree.Controller
// when a command or target process is configured, else nil to wait on
// SIGINT alone.
func NewSession(log *slog.Logger, ctl *Controller, cpuScopes []scope.MeasurementScope, lifecycle LifecycleRunner) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{log: log, ctl: ctl, cpuScopes: cpuScopes, lifecycle: lifecycle}
}

// Run starts every configured per-CPU monitor, then blocks until the
// session ends (lifecycle.Run returning, or SIGINT if lifecycle is
// nil), then drives the full stop sequence: stop all monitors,
// finalize, merge cctx trees. It does not close the archive sink;
// callers do that once Run returns, after writing any remaining
// definitions (mapping tables are already flushed by StopAll's merge
// calls).
func (s *Session) Run() error {
	start := time.Now()
	for _, ms := range s.cpuScopes {
		if err := s.ctl.Start(ms, start); err != nil {
			s.rollback(start)
			return fmt.Errorf("control: starting cpu-set monitors: %w", err)
		}
	}

	if err := s.waitForEnd(); err != nil {
		s.log.Error("control: session lifecycle ended with an error", "error", err)
	}

	return s.ctl.StopAll(time.Now())
}

// rollback stops any CPU monitors already started when a later one
// fails to start, mirroring lo2s's CpuSetMonitor constructor: "Failed
// to create/start all CPU monitors... remove already existing
// monitors."
func (s *Session) rollback(t time.Time) {
	if err := s.ctl.StopAll(t); err != nil {
		s.log.Error("control: rolling back partially started cpu-set monitors", "error", err)
	}
}

func (s *Session) waitForEnd() error {
	if s.lifecycle != nil {
		return s.lifecycle.Run()
	}

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt)
	defer signal.Stop(sigint)
	<-sigint
	s.log.Info("control: received interrupt, stopping measurements and closing trace")
	return nil
}
