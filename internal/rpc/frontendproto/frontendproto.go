// Package frontendproto is the hand-written gRPC contract for the Frontend
// API of §4.E/§6: the client-facing surface for managing applications,
// sessions, and tasks, including the watch_task server stream. Follows the
// same hand-rolled grpc.ServiceDesc pattern as internal/rpc/shimproto and
// internal/rpc/backendproto (§6.4).
package frontendproto

import (
	"context"

	"google.golang.org/grpc"

	"github.com/flamerun/flame/internal/rpc/codec"
	"github.com/flamerun/flame/pkg/flameapi"
)

// ServiceName is the fully qualified service name used in the ServiceDesc.
const ServiceName = "flame.frontend.Frontend"

// Empty is the reply for calls with nothing to return beyond success.
type Empty struct{}

// Server is implemented by internal/rpc/frontend against the State Cache
// and Persistence Engine.
type Server interface {
	RegisterApplication(ctx context.Context, req *flameapi.RegisterApplicationRequest) (*flameapi.Application, error)
	UnregisterApplication(ctx context.Context, req *flameapi.ApplicationNameRequest) (*Empty, error)
	UpdateApplication(ctx context.Context, req *flameapi.UpdateApplicationRequest) (*flameapi.Application, error)
	ListApplications(ctx context.Context, req *Empty) (*flameapi.ListApplicationsResult, error)
	CreateSession(ctx context.Context, req *flameapi.CreateSessionRequest) (*flameapi.Session, error)
	OpenSession(ctx context.Context, req *flameapi.OpenSessionRequest) (*flameapi.Session, error)
	CloseSession(ctx context.Context, req *flameapi.SessionIDRequest) (*flameapi.Session, error)
	GetSession(ctx context.Context, req *flameapi.SessionIDRequest) (*flameapi.Session, error)
	ListSessions(ctx context.Context, req *flameapi.ListSessionsRequest) (*flameapi.ListSessionsResult, error)
	CreateTask(ctx context.Context, req *flameapi.CreateTaskRequest) (*flameapi.Task, error)
	GetTask(ctx context.Context, req *flameapi.TaskIDRequest) (*flameapi.Task, error)
	// WatchTask streams task snapshots until the task reaches a terminal
	// state or the owning session closes (§4.E watch semantics).
	WatchTask(req *flameapi.TaskIDRequest, stream WatchTaskServer) error
}

// WatchTaskServer is the server-side handle for the watch_task stream.
type WatchTaskServer interface {
	Send(*flameapi.Task) error
	Context() context.Context
}

type watchTaskServer struct {
	grpc.ServerStream
}

func (s *watchTaskServer) Send(m *flameapi.Task) error {
	return s.ServerStream.SendMsg(m)
}

func method(name string, call func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
			return call(srv, ctx, dec)
		},
	}
}

func watchTaskHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(flameapi.TaskIDRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(Server).WatchTask(req, &watchTaskServer{ServerStream: stream})
}

// ServiceDesc registers every §4.E operation, including the watch_task
// server stream, against a Server implementation.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		method("RegisterApplication", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(flameapi.RegisterApplicationRequest)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).RegisterApplication(ctx, req)
		}),
		method("UnregisterApplication", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(flameapi.ApplicationNameRequest)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).UnregisterApplication(ctx, req)
		}),
		method("UpdateApplication", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(flameapi.UpdateApplicationRequest)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).UpdateApplication(ctx, req)
		}),
		method("ListApplications", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(Empty)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).ListApplications(ctx, req)
		}),
		method("CreateSession", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(flameapi.CreateSessionRequest)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).CreateSession(ctx, req)
		}),
		method("OpenSession", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(flameapi.OpenSessionRequest)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).OpenSession(ctx, req)
		}),
		method("CloseSession", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(flameapi.SessionIDRequest)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).CloseSession(ctx, req)
		}),
		method("GetSession", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(flameapi.SessionIDRequest)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).GetSession(ctx, req)
		}),
		method("ListSessions", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(flameapi.ListSessionsRequest)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).ListSessions(ctx, req)
		}),
		method("CreateTask", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(flameapi.CreateTaskRequest)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).CreateTask(ctx, req)
		}),
		method("GetTask", func(srv interface{}, ctx context.Context, dec func(interface{}) error) (interface{}, error) {
			req := new(flameapi.TaskIDRequest)
			if err := dec(req); err != nil {
				return nil, err
			}
			return srv.(Server).GetTask(ctx, req)
		}),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchTask",
			Handler:       watchTaskHandler,
			ServerStreams: true,
		},
	},
	Metadata: "flame/frontend.proto",
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

func (c *Client) RegisterApplication(ctx context.Context, req *flameapi.RegisterApplicationRequest) (*flameapi.Application, error) {
	reply := new(flameapi.Application)
	return reply, c.invoke(ctx, "RegisterApplication", req, reply)
}

func (c *Client) CreateSession(ctx context.Context, req *flameapi.CreateSessionRequest) (*flameapi.Session, error) {
	reply := new(flameapi.Session)
	return reply, c.invoke(ctx, "CreateSession", req, reply)
}

func (c *Client) CreateTask(ctx context.Context, req *flameapi.CreateTaskRequest) (*flameapi.Task, error) {
	reply := new(flameapi.Task)
	return reply, c.invoke(ctx, "CreateTask", req, reply)
}

// WatchTaskClient is the client-side handle for the watch_task stream.
type WatchTaskClient interface {
	Recv() (*flameapi.Task, error)
}

type watchTaskClient struct {
	grpc.ClientStream
}

func (c *watchTaskClient) Recv() (*flameapi.Task, error) {
	task := new(flameapi.Task)
	if err := c.ClientStream.RecvMsg(task); err != nil {
		return nil, err
	}
	return task, nil
}

func (c *Client) WatchTask(ctx context.Context, req *flameapi.TaskIDRequest) (WatchTaskClient, error) {
	stream, err := c.conn.NewStream(ctx, &ServiceDesc.Streams[0], "/"+ServiceName+"/WatchTask")
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &watchTaskClient{ClientStream: stream}, nil
}
