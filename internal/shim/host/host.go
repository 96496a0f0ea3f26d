// Package host implements the Host shim variant of §4.H: the Application
// is a subprocess Flame itself launches, spoken to over a local
// Unix-domain socket using the same shimproto contract the Grpc variant
// uses over the network (§4.H.1).
package host

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/flamerun/flame/internal/flerr"
	"github.com/flamerun/flame/internal/portutil"
	"github.com/flamerun/flame/internal/rpc/shimproto"
	"github.com/flamerun/flame/pkg/flameapi"
)

// Shim is a Host variant: a subprocess reachable over a Unix-domain socket.
type Shim struct {
	cmd    *exec.Cmd
	client *shimproto.Client
	sock   string
}

// New launches spec.Command with spec.Arguments/Environments/
// WorkingDirectory, allocates an ephemeral TCP port (exposed as $PORT for
// processes that need one, e.g. an HTTP health endpoint), and dials the
// process's shim socket once it appears.
func New(ctx context.Context, executorID string, spec flameapi.ApplicationSpec) (*Shim, error) {
	port, err := portutil.AllocatePort()
	if err != nil {
		return nil, flerr.Wrap(flerr.ShimTransport, err, "host: allocate port")
	}

	sock := filepath.Join(os.TempDir(), fmt.Sprintf("flame-shim-%s.sock", executorID))
	os.Remove(sock)

	cmd := exec.CommandContext(ctx, spec.Command, spec.Arguments...)
	cmd.Dir = spec.WorkingDirectory
	cmd.Env = os.Environ()
	for k, v := range spec.Environments {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env, "FLAME_SHIM_SOCKET="+sock, "PORT="+strconv.Itoa(port))
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, flerr.Wrap(flerr.ShimTransport, err, "host: start %q", spec.Command)
	}

	client, err := dialSocket(ctx, sock, 10*time.Second)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	return &Shim{cmd: cmd, client: client, sock: sock}, nil
}

func dialSocket(ctx context.Context, sock string, timeout time.Duration) (*shimproto.Client, error) {
	dialer := func(_ context.Context, _ string) (net.Conn, error) {
		return net.Dial("unix", sock)
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := shimproto.NewClient(dialCtx, "unix",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock())
	if err != nil {
		return nil, flerr.Wrap(flerr.ShimTransport, err, "host: connect to %s", sock)
	}
	return client, nil
}

func (s *Shim) OnSessionEnter(ctx context.Context, sessionCtx flameapi.SessionContext) error {
	_, err := s.client.OnSessionEnter(ctx, &sessionCtx)
	return translate(err)
}

func (s *Shim) OnTaskInvoke(ctx context.Context, taskCtx flameapi.TaskContext) (flameapi.TaskOutput, error) {
	out, err := s.client.OnTaskInvoke(ctx, &taskCtx)
	if err != nil {
		return flameapi.TaskOutput{}, translate(err)
	}
	return *out, nil
}

func (s *Shim) OnSessionLeave(ctx context.Context) error {
	_, err := s.client.OnSessionLeave(ctx, &shimproto.Empty{})
	return translate(err)
}

func (s *Shim) Close() error {
	err := s.client.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	os.Remove(s.sock)
	return err
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	return flerr.Wrap(flerr.ShimTransport, err, "host: shim call failed")
}
