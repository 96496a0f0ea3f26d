// Package grpcshim implements the Grpc shim variant of §4.H: a network RPC
// client dial to an address supplied in the Application's spec, grounded on
// the same client plumbing internal/rpc/backend uses to reach the control
// plane (§4.H.1).
package grpcshim

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/flamerun/flame/internal/flerr"
	"github.com/flamerun/flame/internal/rpc/shimproto"
	"github.com/flamerun/flame/pkg/flameapi"
)

// Shim drives an Application process over a network gRPC connection.
type Shim struct {
	client *shimproto.Client
}

// New dials spec.URL, the network address of the shim's gRPC endpoint.
func New(ctx context.Context, executorID string, spec flameapi.ApplicationSpec) (*Shim, error) {
	client, err := shimproto.NewClient(ctx, spec.URL, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, flerr.Wrap(flerr.ShimTransport, err, "grpcshim: dial %q", spec.URL)
	}
	return &Shim{client: client}, nil
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

func (s *Shim) Close() error { return s.client.Close() }

// translate maps a gRPC status error to the shim failure surface of §4.H:
// ShimTransport for unreachable/cancelled, ShimRefused for a declined call,
// UserError with the response payload for application-level failures.
func translate(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return flerr.Wrap(flerr.ShimTransport, err, "grpcshim: transport failure")
	}
	switch st.Code().String() {
	case "Unavailable", "DeadlineExceeded", "Canceled":
		return flerr.Wrap(flerr.ShimTransport, err, "grpcshim: %s", st.Message())
	case "FailedPrecondition":
		return flerr.New(flerr.ShimRefused, "grpcshim: %s", st.Message())
	default:
		return flerr.WithPayload([]byte(st.Message()), "grpcshim: %s", st.Message())
	}
}
