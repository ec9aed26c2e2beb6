package control

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// AgentTag is the measurement-type tag an instrumentation agent sends
// as the first 8 bytes of its control-socket message, per spec.md §6:
// "The first 8-byte payload is a measurement-type tag {GPU=1,
// OPENMP=2, …}."
type AgentTag uint64

const (
	AgentGPU    AgentTag = 1
	AgentOpenMP AgentTag = 2
)

func (t AgentTag) String() string {
	switch t {
	case AgentGPU:
		return "gpu"
	case AgentOpenMP:
		return "openmp"
	default:
		return fmt.Sprintf("agent-tag(%d)", uint64(t))
	}
}

// AgentRingHandler receives one agent's tag and the attached ring
// buffer fd, already dup'd out of the SCM_RIGHTS ancillary data. The
// handler owns closing fd.
type AgentRingHandler func(tag AgentTag, fd int)

// AgentSocket is the SOCK_SEQPACKET control socket of spec.md §6:
// "accepts incoming fds via SCM_RIGHTS ancillary data." One connection
// serves exactly one agent handoff message, mirroring lo2s's
// socket_protocol one-shot connect-send-close pattern for GPU/OpenMP
// agent attach.
type AgentSocket struct {
	log      *slog.Logger
	path     string
	listenFd int
}

// ListenAgentSocket creates and listens on a SOCK_SEQPACKET Unix
// socket at path, removing any stale socket file left over from a
// previous run first.
func ListenAgentSocket(log *slog.Logger, path string) (*AgentSocket, error) {
	if log == nil {
		log = slog.Default()
	}
	_ = os.Remove(path)

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, fmt.Errorf("control: creating agent socket: %w", err)
	}
	addr := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("control: binding agent socket %s: %w", path, err)
	}
	if err := unix.Listen(fd, 16); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("control: listening on agent socket %s: %w", path, err)
	}
	return &AgentSocket{log: log, path: path, listenFd: fd}, nil
}

// Serve accepts connections until stop is closed or Accept returns a
// fatal error, dispatching each successfully parsed handoff to handle.
// A malformed connection (bad tag payload, no attached fd) is logged
// and dropped without stopping the loop.
func (s *AgentSocket) Serve(stop <-chan struct{}, handle AgentRingHandler) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		connFd, _, err := unix.Accept(s.listenFd)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			select {
			case <-stop:
				return nil
			default:
			}
			return fmt.Errorf("control: accepting agent connection: %w", err)
		}

		tag, fd, err := recvHandoff(connFd)
		unix.Close(connFd)
		if err != nil {
			s.log.Warn("control: rejecting malformed agent handoff", "error", err)
			continue
		}
		handle(tag, fd)
	}
}

// recvHandoff reads one SCM_RIGHTS message off connFd: an 8-byte
// little-endian AgentTag payload plus exactly one attached fd.
func recvHandoff(connFd int) (AgentTag, int, error) {
	payload := make([]byte, 8)
	oob := make([]byte, unix.CmsgSpace(4))

	n, oobn, _, _, err := unix.Recvmsg(connFd, payload, oob, 0)
	if err != nil {
		return 0, -1, fmt.Errorf("recvmsg: %w", err)
	}
	if n != 8 {
		return 0, -1, fmt.Errorf("control: agent handoff payload was %d bytes, want 8", n)
	}

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return 0, -1, fmt.Errorf("control: parsing ancillary data: %w", err)
	}
	var fds []int
	for _, scm := range scms {
		got, err := unix.ParseUnixRights(&scm)
		if err != nil {
			return 0, -1, fmt.Errorf("control: parsing SCM_RIGHTS: %w", err)
		}
		fds = append(fds, got...)
	}
	if len(fds) != 1 {
		for _, fd := range fds {
			unix.Close(fd)
		}
		return 0, -1, fmt.Errorf("control: agent handoff carried %d fds, want exactly 1", len(fds))
	}

	tag := AgentTag(binary.LittleEndian.Uint64(payload))
	return tag, fds[0], nil
}

// Close stops listening and removes the socket file.
func (s *AgentSocket) Close() error {
	err := unix.Close(s.listenFd)
	if rerr := os.Remove(s.path); err == nil && rerr != nil && !os.IsNotExist(rerr) {
		err = rerr
	}
	return err
}
