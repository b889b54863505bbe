package grpcservice

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "clipstash.v1.History"

// HistoryServer is the server API of the History service.
type HistoryServer interface {
	List(context.Context, *ListRequest) (*ListResponse, error)
	Get(context.Context, *ItemRequest) (*Item, error)
	Capture(context.Context, *CaptureRequest) (*Item, error)
	Pin(context.Context, *PinRequest) (*Item, error)
	Remove(context.Context, *ItemRequest) (*Empty, error)
	Clear(context.Context, *Empty) (*ClearResponse, error)
	Select(context.Context, *SelectRequest) (*SelectResponse, error)
	SetWatching(context.Context, *SetWatchingRequest) (*StatusResponse, error)
	Status(context.Context, *Empty) (*StatusResponse, error)
	Watch(*WatchRequest, WatchServer) error
}

// WatchServer is the server side of a Watch stream.
type WatchServer interface {
	Send(*WatchEvent) error
	grpc.ServerStream
}

// ServiceDesc describes the History service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HistoryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("List", HistoryServer.List),
		unary("Get", HistoryServer.Get),
		unary("Capture", HistoryServer.Capture),
		unary("Pin", HistoryServer.Pin),
		unary("Remove", HistoryServer.Remove),
		unary("Clear", HistoryServer.Clear),
		unary("Select", HistoryServer.Select),
		unary("SetWatching", HistoryServer.SetWatching),
		unary("Status", HistoryServer.Status),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "clipstash/v1/history",
}

// RegisterHistoryServer registers srv with s.
func RegisterHistoryServer(s grpc.ServiceRegistrar, srv HistoryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string { return "/" + ServiceName + "/" + name }

// unary builds the MethodDesc for a request/response method.
func unary[Req, Resp any](name string, call func(HistoryServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(HistoryServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(HistoryServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(HistoryServer).Watch(in, &watchServer{stream})
}

type watchServer struct {
	grpc.ServerStream
}

func (x *watchServer) Send(m *WatchEvent) error {
	return x.ServerStream.SendMsg(m)
}

// Client is the client API of the History service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc. Every call is sent with the JSON content-subtype.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) List(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error) {
	return invoke[ListResponse](ctx, c.cc, "List", in, opts)
}

func (c *Client) Get(ctx context.Context, in *ItemRequest, opts ...grpc.CallOption) (*Item, error) {
	return invoke[Item](ctx, c.cc, "Get", in, opts)
}

func (c *Client) Capture(ctx context.Context, in *CaptureRequest, opts ...grpc.CallOption) (*Item, error) {
	return invoke[Item](ctx, c.cc, "Capture", in, opts)
}

func (c *Client) Pin(ctx context.Context, in *PinRequest, opts ...grpc.CallOption) (*Item, error) {
	return invoke[Item](ctx, c.cc, "Pin", in, opts)
}

func (c *Client) Remove(ctx context.Context, in *ItemRequest, opts ...grpc.CallOption) (*Empty, error) {
	return invoke[Empty](ctx, c.cc, "Remove", in, opts)
}

func (c *Client) Clear(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*ClearResponse, error) {
	return invoke[ClearResponse](ctx, c.cc, "Clear", in, opts)
}

func (c *Client) Select(ctx context.Context, in *SelectRequest, opts ...grpc.CallOption) (*SelectResponse, error) {
	return invoke[SelectResponse](ctx, c.cc, "Select", in, opts)
}

func (c *Client) SetWatching(ctx context.Context, in *SetWatchingRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "SetWatching", in, opts)
}

func (c *Client) Status(ctx context.Context, in *Empty, opts ...grpc.CallOption) (*StatusResponse, error) {
	return invoke[StatusResponse](ctx, c.cc, "Status", in, opts)
}

// WatchClient is the client side of a Watch stream.
type WatchClient interface {
	Recv() (*WatchEvent, error)
	grpc.ClientStream
}

func (c *Client) Watch(ctx context.Context, in *WatchRequest, opts ...grpc.CallOption) (WatchClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], fullMethod("Watch"), opts...)
	if err != nil {
		return nil, err
	}
	x := &watchClient{stream}
	// io.EOF means the server already ended the stream; Recv reports why.
	if err := x.ClientStream.SendMsg(in); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type watchClient struct {
	grpc.ClientStream
}

func (x *watchClient) Recv() (*WatchEvent, error) {
	m := new(WatchEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
