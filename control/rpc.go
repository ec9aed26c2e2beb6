package control

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/arrowtrace/profiler/control/controlpb"
)

// rpcServer is the control/status gRPC surface SPEC_FULL.md adds
// alongside the agent-attach socket: a second, independent way to ask
// a running session what it's doing and to ask it to stop, without
// disturbing the SOCK_SEQPACKET agent protocol in socket.go.
type rpcServer struct {
	log         *slog.Logger
	ctl         *Controller
	startedAt   time.Time
	requestStop func()
}

// NewRPCServer builds the gRPC status/control service implementation
// around ctl. requestStop is called asynchronously on every RequestStop
// RPC that arrives, so it must tolerate repeated calls; what it stops
// is up to the caller.
func NewRPCServer(log *slog.Logger, ctl *Controller, startedAt time.Time, requestStop func()) controlpb.ControlServiceServer {
	if log == nil {
		log = slog.Default()
	}
	return &rpcServer{log: log, ctl: ctl, startedAt: startedAt, requestStop: requestStop}
}

func (s *rpcServer) Status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	scopes := s.ctl.RunningScopes()
	scopeVals := make([]interface{}, len(scopes))
	for i, sc := range scopes {
		scopeVals[i] = sc
	}
	return structpb.NewStruct(map[string]interface{}{
		"running_count":  float64(len(scopes)),
		"running_scopes": scopeVals,
		"stopped":        s.ctl.IsStopped(),
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	})
}

func (s *rpcServer) RequestStop(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	s.log.Info("control: stop requested over control RPC")
	if s.requestStop != nil {
		go s.requestStop()
	}
	return structpb.NewStruct(map[string]interface{}{
		"accepted": true,
	})
}

// ListenRPC binds a gRPC server exposing ControlService on a Unix
// socket at path (distinct from the agent-attach SOCK_SEQPACKET
// socket) and returns without serving: the caller runs Serve on the
// returned listener (usually in its own goroutine) and stops it with
// GracefulStop or Stop on the returned *grpc.Server.
func ListenRPC(path string, srv controlpb.ControlServiceServer) (*grpc.Server, net.Listener, error) {
	lis, err := net.Listen("unix", path)
	if err != nil {
		return nil, nil, fmt.Errorf("control: listening for control RPC on %s: %w", path, err)
	}
	gs := grpc.NewServer()
	controlpb.RegisterControlServiceServer(gs, srv)
	return gs, lis, nil
}
