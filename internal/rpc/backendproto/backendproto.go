// Package backendproto is the hand-written gRPC contract for the Backend
// API of §4.F/§6: the executor-authenticated surface an Executor State
// Machine drives. Method shapes mirror §4.F's operation list exactly; the
// hand-rolled grpc.ServiceDesc/client stub follows the same pattern as
// internal/rpc/shimproto (§6.4).
package backendproto

import (
	"context"

	"google.golang.org/grpc"

	"github.com/flamerun/flame/internal/rpc/codec"
	"github.com/flamerun/flame/pkg/flameapi"
)

// ServiceName is the fully qualified service name used in the ServiceDesc.
const ServiceName = "flame.backend.Backend"

// ExecutorID wraps the bare id most Backend calls are keyed by.
type ExecutorID struct {
	ID string `json:"id"`
}

// RegisterExecutorRequest is register_executor's input.
type RegisterExecutorRequest struct {
	ID   string               `json:"id"`
	Spec flameapi.ExecutorSpec `json:"spec"`
}

// Empty is the reply for calls with nothing to return beyond success.
type Empty struct{}

// Server is implemented by internal/rpc/backend against the Scheduler,
// State Cache, and Persistence Engine.
type Server interface {
	RegisterExecutor(ctx context.Context, req *RegisterExecutorRequest) (*Empty, error)
	UnregisterExecutor(ctx context.Context, req *ExecutorID) (*Empty, error)
	BindExecutor(ctx context.Context, req *ExecutorID) (*flameapi.BindExecutorResult, error)
	BindExecutorCompleted(ctx context.Context, req *ExecutorID) (*Empty, error)
	UnbindExecutor(ctx context.Context, req *ExecutorID) (*Empty, error)
	UnbindExecutorCompleted(ctx context.Context, req *ExecutorID) (*Empty, error)
	LaunchTask(ctx context.Context, req *ExecutorID) (*flameapi.LaunchTaskResult, error)
	CompleteTask(ctx context.Context, req *flameapi.CompleteTaskRequest) (*flameapi.LaunchTaskResult, error)
}

func method(name string, call func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
			return call(srv, ctx, dec)
		},
	}
}

// ServiceDesc registers every §4.F operation against a Server implementation.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		method("RegisterExecutor", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(RegisterExecutorRequest)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).RegisterExecutor(ctx, req)
		}),
		method("UnregisterExecutor", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(ExecutorID)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).UnregisterExecutor(ctx, req)
		}),
		method("BindExecutor", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(ExecutorID)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).BindExecutor(ctx, req)
		}),
		method("BindExecutorCompleted", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(ExecutorID)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).BindExecutorCompleted(ctx, req)
		}),
		method("UnbindExecutor", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(ExecutorID)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).UnbindExecutor(ctx, req)
		}),
		method("UnbindExecutorCompleted", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(ExecutorID)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).UnbindExecutorCompleted(ctx, req)
		}),
		method("LaunchTask", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(ExecutorID)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).LaunchTask(ctx, req)
		}),
		method("CompleteTask", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(flameapi.CompleteTaskRequest)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).CompleteTask(ctx, req)
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flame/backend.proto",
}

// Client is a thin wrapper over grpc.ClientConn using the flamejson codec.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient dials target with the flamejson content subtype.
func NewClient(ctx context.Context, target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codec.Name)))
	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) invoke(ctx context.Context, method string, req, reply interface{}) error {
	return c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, reply)
}

func (c *Client) RegisterExecutor(ctx context.Context, req *RegisterExecutorRequest) (*Empty, error) {
	reply := new(Empty)
	return reply, c.invoke(ctx, "RegisterExecutor", req, reply)
}

func (c *Client) UnregisterExecutor(ctx context.Context, id string) (*Empty, error) {
	reply := new(Empty)
	return reply, c.invoke(ctx, "UnregisterExecutor", &ExecutorID{ID: id}, reply)
}

// BindExecutor may legitimately take as long as ctx allows: the caller
// should set a deadline matching the configured bind_wait_ms (§4.F).
func (c *Client) BindExecutor(ctx context.Context, id string) (*flameapi.BindExecutorResult, error) {
	reply := new(flameapi.BindExecutorResult)
	return reply, c.invoke(ctx, "BindExecutor", &ExecutorID{ID: id}, reply)
}

func (c *Client) BindExecutorCompleted(ctx context.Context, id string) (*Empty, error) {
	reply := new(Empty)
	return reply, c.invoke(ctx, "BindExecutorCompleted", &ExecutorID{ID: id}, reply)
}

func (c *Client) UnbindExecutor(ctx context.Context, id string) (*Empty, error) {
	reply := new(Empty)
	return reply, c.invoke(ctx, "UnbindExecutor", &ExecutorID{ID: id}, reply)
}

func (c *Client) UnbindExecutorCompleted(ctx context.Context, id string) (*Empty, error) {
	reply := new(Empty)
	return reply, c.invoke(ctx, "UnbindExecutorCompleted", &ExecutorID{ID: id}, reply)
}

func (c *Client) LaunchTask(ctx context.Context, id string) (*flameapi.LaunchTaskResult, error) {
	reply := new(flameapi.LaunchTaskResult)
	return reply, c.invoke(ctx, "LaunchTask", &ExecutorID{ID: id}, reply)
}

func (c *Client) CompleteTask(ctx context.Context, req *flameapi.CompleteTaskRequest) (*flameapi.LaunchTaskResult, error) {
	reply := new(flameapi.LaunchTaskResult)
	return reply, c.invoke(ctx, "CompleteTask", req, reply)
}
