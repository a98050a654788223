package schedulerpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName                 = "schedule.v1.ScheduleService"
	GetAvailabilityInputsMethod = "/" + ServiceName + "/GetAvailabilityInputs"
)

// Server is implemented by schedule-service.
type Server interface {
	GetAvailabilityInputs(ctx context.Context, req *InputsRequest) (*InputsResponse, error)
}

// Payloads travel as google.protobuf.Struct so the contract needs no generated code.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAvailabilityInputs", Handler: getAvailabilityInputsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "schedule/v1/schedule",
}

func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&serviceDesc, srv)
}

func getAvailabilityInputsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	call := func(ctx context.Context, req any) (any, error) {
		var r InputsRequest
		if err := fromStruct(req.(*structpb.Struct), &r); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		resp, err := srv.(Server).GetAvailabilityInputs(ctx, &r)
		if err != nil {
			return nil, err
		}
		out, err := toStruct(resp)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return out, nil
	}
	if interceptor == nil {
		return call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetAvailabilityInputsMethod}
	return interceptor(ctx, in, info, call)
}

type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) GetAvailabilityInputs(ctx context.Context, req *InputsRequest, opts ...grpc.CallOption) (*InputsResponse, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, GetAvailabilityInputsMethod, in, out, opts...); err != nil {
		return nil, err
	}
	var resp InputsResponse
	if err := fromStruct(out, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
