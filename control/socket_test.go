package control

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// dialAndSendHandoff connects to path as a client would and sends an
// 8-byte AgentTag payload plus one SCM_RIGHTS fd, then closes its end,
// mirroring the one-shot connect-send-close pattern AgentSocket expects.
func dialAndSendHandoff(t *testing.T, path string, tag AgentTag, fds []int) {
	t.Helper()
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("client socket: %v", err)
	}
	defer unix.Close(fd)

	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		t.Fatalf("client connect: %v", err)
	}

	payload := make([]byte, 8)
	for i := 0; i < 8; i++ {
		payload[i] = byte(uint64(tag) >> (8 * i))
	}
	var oob []byte
	if len(fds) > 0 {
		oob = unix.UnixRights(fds...)
	}
	if err := unix.Sendmsg(fd, payload, oob, nil, 0); err != nil {
		t.Fatalf("client sendmsg: %v", err)
	}
}

func TestAgentSocketDeliversWellFormedHandoff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.sock")
	sock, err := ListenAgentSocket(testLogger(), path)
	if err != nil {
		t.Fatalf("ListenAgentSocket: %v", err)
	}
	defer sock.Close()

	// A real, valid fd to hand off: the read end of a pipe.
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()

	stop := make(chan struct{})
	got := make(chan AgentTag, 1)
	gotFd := make(chan int, 1)
	go func() {
		sock.Serve(stop, func(tag AgentTag, fd int) {
			got <- tag
			gotFd <- fd
			close(stop)
		})
	}()

	dialAndSendHandoff(t, path, AgentOpenMP, []int{int(r.Fd())})

	select {
	case tag := <-got:
		if tag != AgentOpenMP {
			t.Errorf("got tag %v, want %v", tag, AgentOpenMP)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handoff")
	}
	fd := <-gotFd
	if fd < 0 {
		t.Errorf("got invalid fd %d", fd)
	}
	unix.Close(fd)
}

func TestAgentSocketRejectsZeroFdsWithoutStoppingLoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.sock")
	sock, err := ListenAgentSocket(testLogger(), path)
	if err != nil {
		t.Fatalf("ListenAgentSocket: %v", err)
	}
	defer sock.Close()

	stop := make(chan struct{})
	defer close(stop)
	got := make(chan AgentTag, 1)
	go func() {
		sock.Serve(stop, func(tag AgentTag, fd int) {
			got <- tag
			unix.Close(fd)
		})
	}()

	// First, a malformed handoff with no attached fd: should be
	// dropped, not kill the Serve loop.
	dialAndSendHandoff(t, path, AgentGPU, nil)

	// A well-formed handoff afterwards must still be delivered.
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer r.Close()
	defer w.Close()
	dialAndSendHandoff(t, path, AgentGPU, []int{int(r.Fd())})

	select {
	case tag := <-got:
		if tag != AgentGPU {
			t.Errorf("got tag %v, want %v", tag, AgentGPU)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handoff after a malformed connection")
	}
}

func TestAgentSocketRejectsMultipleFds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.sock")
	sock, err := ListenAgentSocket(testLogger(), path)
	if err != nil {
		t.Fatalf("ListenAgentSocket: %v", err)
	}
	defer sock.Close()

	stop := make(chan struct{})
	defer close(stop)
	called := make(chan struct{}, 1)
	go func() {
		sock.Serve(stop, func(tag AgentTag, fd int) {
			called <- struct{}{}
			unix.Close(fd)
		})
	}()

	r1, w1, _ := os.Pipe()
	defer r1.Close()
	defer w1.Close()
	r2, w2, _ := os.Pipe()
	defer r2.Close()
	defer w2.Close()

	dialAndSendHandoff(t, path, AgentGPU, []int{int(r1.Fd()), int(r2.Fd())})

	select {
	case <-called:
		t.Fatal("handler should not have been invoked for a multi-fd handoff")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRecvHandoffRejectsShortPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.sock")
	sock, err := ListenAgentSocket(testLogger(), path)
	if err != nil {
		t.Fatalf("ListenAgentSocket: %v", err)
	}
	defer sock.Close()

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatalf("client socket: %v", err)
	}
	defer unix.Close(fd)
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		t.Fatalf("client connect: %v", err)
	}
	if err := unix.Sendmsg(fd, []byte{1, 2, 3}, nil, nil, 0); err != nil {
		t.Fatalf("client sendmsg: %v", err)
	}

	connFd, _, err := unix.Accept(sock.listenFd)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer unix.Close(connFd)

	if _, _, err := recvHandoff(connFd); err == nil {
		t.Fatal("expected recvHandoff to reject a short payload")
	}
}
