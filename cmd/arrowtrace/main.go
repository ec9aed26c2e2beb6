// Command arrowtrace is the measurement-core binary: it loads a
// config.Config, assembles either a CPU-set or a process-mode
// recording session, runs it to completion, and finalizes the session's
// archive.Sink, per spec.md §4.10 and §6's external-interfaces list.
// The sink is the in-memory archive/memsink; no archive file is written
// under trace_path.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sys/unix"

	"github.com/arrowtrace/profiler/archive/memsink"
	"github.com/arrowtrace/profiler/cctx"
	"github.com/arrowtrace/profiler/config"
	"github.com/arrowtrace/profiler/control"
	"github.com/arrowtrace/profiler/proctree"
	"github.com/arrowtrace/profiler/registry"
	"github.com/arrowtrace/profiler/scope"
)

func main() {
	var (
		flagConfig = flag.String("config", "", "path to a YAML config file (defaults built in if omitted)")
		flagDebug  = flag.String("debug-addr", "", "address for the /healthz, /metrics, /status debug HTTP mux (disabled if empty)")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := loadConfig(*flagConfig)
	if err != nil {
		log.Error("arrowtrace: loading config", "error", err)
		os.Exit(1)
	}

	if err := run(log, cfg, *flagDebug); err != nil {
		log.Error("arrowtrace: fatal", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Parse([]byte("{}\n"))
	}
	return config.Load(path)
}

func run(log *slog.Logger, cfg *config.Config, debugAddr string) error {
	tracePath := config.ExpandTracePath(cfg.TracePath, time.Now())
	log.Info("arrowtrace: starting session", "monitor_type", cfg.MonitorType, "trace_path", tracePath)

	sink := memsink.New()
	reg := registry.New(sink)
	merger := cctx.NewMerger(sink, reg)
	metricsReg := prometheus.NewRegistry()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	root := reg.RootSystemTreeNode(hostname)
	locGroup := sink.DefineLocationGroup(hostname, root)

	asm := newAssembler(cfg, log, reg, metricsReg, locGroup)

	agentSock, err := control.ListenAgentSocket(log, cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listening on agent socket: %w", err)
	}
	defer agentSock.Close()

	stop := make(chan struct{})
	var stopOnce sync.Once
	closeStop := func() { stopOnce.Do(func() { close(stop) }) }

	go agentSock.Serve(stop, func(tag control.AgentTag, fd int) {
		log.Warn("arrowtrace: agent attach received, GPU/OpenMP ingestion is not wired into this assembler yet", "tag", tag)
		unix.Close(fd)
	})

	sessionStart := time.Now()

	var ctl *control.Controller
	var sess *control.Session

	switch cfg.MonitorType {
	case config.MonitorCpuSet:
		ctl = control.New(log, reg, merger, asm.cpuSetFactory())
		cpus, err := enumerateCpus("/sys/devices/system/cpu")
		if err != nil {
			return fmt.Errorf("enumerating CPU topology: %w", err)
		}
		scopes := make([]scope.MeasurementScope, len(cpus))
		for i, c := range cpus {
			reg.CoreNode(c.Core, root)
			reg.PackageNode(c.Pkg, root)
			scopes[i] = scope.ScopeForCpu(scope.KindSample, c.Cpu)
		}
		sess = control.NewSession(log, ctl, scopes, nil)
	case config.MonitorProcess:
		ctl = control.New(log, reg, merger, asm.processFactory())
		lifecycle := control.NewProcessLifecycle(log, ctl, reg, scope.KindSample)

		var rootThread scope.Thread
		var spawned bool
		if len(cfg.Command) > 0 {
			cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
			cmd.Stdout, cmd.Stderr, cmd.Stdin = os.Stdout, os.Stderr, os.Stdin
			if err := proctree.Spawn(cmd); err != nil {
				return fmt.Errorf("spawning %q: %w", cfg.Command, err)
			}
			rootThread = scope.Thread(cmd.Process.Pid)
			spawned = true
		} else {
			if err := proctree.Attach(int(cfg.Process)); err != nil {
				return fmt.Errorf("attaching to pid %d: %w", cfg.Process, err)
			}
			rootThread = scope.Thread(cfg.Process)
		}
		tree := proctree.NewController(log, lifecycle, rootThread, spawned)
		sess = control.NewSession(log, ctl, nil, tree)
	default:
		return fmt.Errorf("unrecognized monitor_type %q", cfg.MonitorType)
	}

	if debugAddr != "" {
		startDebugMux(log, debugAddr, metricsReg, ctl)
	}

	rpcSrv := control.NewRPCServer(log, ctl, sessionStart, closeStop)
	grpcServer, grpcLis, err := control.ListenRPC(cfg.SocketPath+".rpc", rpcSrv)
	if err != nil {
		return fmt.Errorf("starting control RPC: %w", err)
	}
	go grpcServer.Serve(grpcLis)
	defer grpcServer.GracefulStop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		closeStop()
	}()

	runErr := sess.Run()
	sessionEnd := time.Now()
	closeStop()

	// Every timestamp this engine writes is a time.Time truncated to
	// nanoseconds, so the archive's clock ticks at 1GHz.
	const nanosecondTickFreqHz = 1_000_000_000
	if err := control.FinalizeArchive(sink, sessionStart, sessionEnd, nanosecondTickFreqHz); err != nil {
		log.Error("arrowtrace: finalizing archive", "error", err)
	}
	if linked, err := config.LinkOutput(tracePath); err != nil {
		log.Warn("arrowtrace: publishing output link", "error", err)
	} else if linked {
		log.Info("arrowtrace: published output link", "target", tracePath)
	}

	return runErr
}

// startDebugMux serves /healthz, /metrics, and /status on its own
// goroutine, per SPEC_FULL.md's DOMAIN STACK choice of go-chi/chi for
// the debug HTTP surface.
func startDebugMux(log *slog.Logger, addr string, metricsReg *prometheus.Registry, ctl *control.Controller) {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "running=%d stopped=%v\n", ctl.Running(), ctl.IsStopped())
	})
	go func() {
		if err := http.ListenAndServe(addr, r); err != nil {
			log.Error("arrowtrace: debug http server exited", "error", err)
		}
	}()
}
