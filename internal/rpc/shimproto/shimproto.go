// Package shimproto is the hand-written gRPC contract for the Shim service
// of §6: on_session_enter(SessionContext), on_task_invoke(TaskContext) ->
// TaskOutput, on_session_leave(Empty). It is shared by the Grpc and Host
// shim variants (Host dials it over a Unix-domain socket instead of a TCP
// address) so both transports speak the same wire shape (§6.4, §4.H.1).
package shimproto

import (
	"context"

	"google.golang.org/grpc"

	"github.com/flamerun/flame/internal/rpc/codec"
	"github.com/flamerun/flame/pkg/flameapi"
)

// Empty mirrors the wire Empty message used by on_session_leave.
type Empty struct{}

// Server is implemented by whatever runs inside the Application process: a
// thin adapter over the user's actual shim code.
type Server interface {
	OnSessionEnter(ctx context.Context, req *flameapi.SessionContext) (*Empty, error)
	OnTaskInvoke(ctx context.Context, req *flameapi.TaskContext) (*flameapi.TaskOutput, error)
	OnSessionLeave(ctx context.Context, req *Empty) (*Empty, error)
}

// ServiceName is the fully qualified service name used in the ServiceDesc
// and by clients constructing method strings.
const ServiceName = "flame.shim.Shim"

func onSessionEnterHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(flameapi.SessionContext)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Server).OnSessionEnter(ctx, req)
}

func onTaskInvokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(flameapi.TaskContext)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Server).OnTaskInvoke(ctx, req)
}

func onSessionLeaveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(Empty)
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(Server).OnSessionLeave(ctx, req)
}

// ServiceDesc is registered with a grpc.Server hosting a Server
// implementation (§6.4: hand-written ServiceDesc in place of protoc output).
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "OnSessionEnter", Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, i grpc.UnaryServerInterceptor) (interface{}, error) {
			return onSessionEnterHandler(srv, ctx, dec, i)
		}},
		{MethodName: "OnTaskInvoke", Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, i grpc.UnaryServerInterceptor) (interface{}, error) {
			return onTaskInvokeHandler(srv, ctx, dec, i)
		}},
		{MethodName: "OnSessionLeave", Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, i grpc.UnaryServerInterceptor) (interface{}, error) {
			return onSessionLeaveHandler(srv, ctx, dec, i)
		}},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "flame/shim.proto",
}

// Client is a thin wrapper over grpc.ClientConn using the flamejson codec
// (§6.4), sufficient for the Grpc and Host shim variants.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient dials target (a TCP address or "unix:/path/to.sock") using the
// flamejson codec instead of the default proto codec.
func NewClient(ctx context.Context, target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append(opts, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codec.Name)))
	conn, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) OnSessionEnter(ctx context.Context, req *flameapi.SessionContext) (*Empty, error) {
	reply := new(Empty)
	err := c.conn.Invoke(ctx, "/"+ServiceName+"/OnSessionEnter", req, reply)
	return reply, err
}

func (c *Client) OnTaskInvoke(ctx context.Context, req *flameapi.TaskContext) (*flameapi.TaskOutput, error) {
	reply := new(flameapi.TaskOutput)
	err := c.conn.Invoke(ctx, "/"+ServiceName+"/OnTaskInvoke", req, reply)
	return reply, err
}

func (c *Client) OnSessionLeave(ctx context.Context, req *Empty) (*Empty, error) {
	reply := new(Empty)
	err := c.conn.Invoke(ctx, "/"+ServiceName+"/OnSessionLeave", req, reply)
	return reply, err
}
