package warpv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	WarpService_Warp_FullMethodName                = "/warp.v1.WarpService/Warp"
	WorkerMetricsService_GetMetrics_FullMethodName = "/warp.v1.WorkerMetricsService/GetMetrics"
)

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

// --- WarpService ---

type WarpServiceClient interface {
	Warp(ctx context.Context, in *WarpRequest, opts ...grpc.CallOption) (*WarpResponse, error)
}

type warpServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewWarpServiceClient(cc grpc.ClientConnInterface) WarpServiceClient {
	return &warpServiceClient{cc}
}

func (c *warpServiceClient) Warp(ctx context.Context, in *WarpRequest, opts ...grpc.CallOption) (*WarpResponse, error) {
	out := new(WarpResponse)
	if err := c.cc.Invoke(ctx, WarpService_Warp_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// WarpServiceServer must embed UnimplementedWarpServiceServer.
type WarpServiceServer interface {
	Warp(context.Context, *WarpRequest) (*WarpResponse, error)
	mustEmbedUnimplementedWarpServiceServer()
}

type UnimplementedWarpServiceServer struct{}

func (UnimplementedWarpServiceServer) Warp(context.Context, *WarpRequest) (*WarpResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Warp not implemented")
}
func (UnimplementedWarpServiceServer) mustEmbedUnimplementedWarpServiceServer() {}

func RegisterWarpServiceServer(s grpc.ServiceRegistrar, srv WarpServiceServer) {
	s.RegisterService(&WarpService_ServiceDesc, srv)
}

func _WarpService_Warp_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(WarpRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WarpServiceServer).Warp(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: WarpService_Warp_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WarpServiceServer).Warp(ctx, req.(*WarpRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var WarpService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "warp.v1.WarpService",
	HandlerType: (*WarpServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Warp", Handler: _WarpService_Warp_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/warp/v1/warp.proto",
}

// --- WorkerMetricsService ---

type WorkerMetricsServiceClient interface {
	GetMetrics(ctx context.Context, in *MetricsRequest, opts ...grpc.CallOption) (*WorkerMetrics, error)
}

type workerMetricsServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewWorkerMetricsServiceClient(cc grpc.ClientConnInterface) WorkerMetricsServiceClient {
	return &workerMetricsServiceClient{cc}
}

func (c *workerMetricsServiceClient) GetMetrics(ctx context.Context, in *MetricsRequest, opts ...grpc.CallOption) (*WorkerMetrics, error) {
	out := new(WorkerMetrics)
	if err := c.cc.Invoke(ctx, WorkerMetricsService_GetMetrics_FullMethodName, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// WorkerMetricsServiceServer must embed UnimplementedWorkerMetricsServiceServer.
type WorkerMetricsServiceServer interface {
	GetMetrics(context.Context, *MetricsRequest) (*WorkerMetrics, error)
	mustEmbedUnimplementedWorkerMetricsServiceServer()
}

type UnimplementedWorkerMetricsServiceServer struct{}

func (UnimplementedWorkerMetricsServiceServer) GetMetrics(context.Context, *MetricsRequest) (*WorkerMetrics, error) {
	return nil, status.Error(codes.Unimplemented, "method GetMetrics not implemented")
}
func (UnimplementedWorkerMetricsServiceServer) mustEmbedUnimplementedWorkerMetricsServiceServer() {}

func RegisterWorkerMetricsServiceServer(s grpc.ServiceRegistrar, srv WorkerMetricsServiceServer) {
	s.RegisterService(&WorkerMetricsService_ServiceDesc, srv)
}

func _WorkerMetricsService_GetMetrics_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(MetricsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(WorkerMetricsServiceServer).GetMetrics(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: WorkerMetricsService_GetMetrics_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(WorkerMetricsServiceServer).GetMetrics(ctx, req.(*MetricsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var WorkerMetricsService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "warp.v1.WorkerMetricsService",
	HandlerType: (*WorkerMetricsServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetMetrics", Handler: _WorkerMetricsService_GetMetrics_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/warp/v1/warp.proto",
}
