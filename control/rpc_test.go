package control

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestRPCServerStatusAndRequestStop(t *testing.T) {
	ctl := New(testLogger(), nil, nil, nil)
	stopRequested := make(chan struct{}, 1)
	srv := NewRPCServer(testLogger(), ctl, time.Now(), func() {
		stopRequested <- struct{}{}
	})

	sockPath := filepath.Join(t.TempDir(), "control.sock")
	gs, lis, err := ListenRPC(sockPath, srv)
	if err != nil {
		t.Fatalf("ListenRPC: %v", err)
	}
	go gs.Serve(lis)
	defer gs.Stop()

	conn, err := grpc.NewClient("unix://"+sockPath, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dialing control rpc: %v", err)
	}
	defer conn.Close()

	empty, _ := structpb.NewStruct(nil)

	var statusResp structpb.Struct
	if err := conn.Invoke(context.Background(), "/arrowtrace.control.v1.ControlService/Status", empty, &statusResp); err != nil {
		t.Fatalf("Status RPC: %v", err)
	}
	fields := statusResp.AsMap()
	if fields["running_count"].(float64) != 0 {
		t.Errorf("running_count = %v, want 0", fields["running_count"])
	}
	if fields["stopped"].(bool) != false {
		t.Errorf("stopped = %v, want false", fields["stopped"])
	}

	var stopResp structpb.Struct
	if err := conn.Invoke(context.Background(), "/arrowtrace.control.v1.ControlService/RequestStop", empty, &stopResp); err != nil {
		t.Fatalf("RequestStop RPC: %v", err)
	}
	if !stopResp.AsMap()["accepted"].(bool) {
		t.Errorf("accepted = %v, want true", stopResp.AsMap()["accepted"])
	}

	select {
	case <-stopRequested:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for requestStop callback")
	}
}
