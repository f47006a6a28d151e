// Package pb holds the wire types and service descriptor of the
// reva.CommentService gRPC API. Messages travel as JSON under the "json"
// content-subtype; see codec.go.
package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	CommentService_ServiceName                 = "reva.CommentService"
	CommentService_SetComment_FullMethodName   = "/reva.CommentService/SetComment"
	CommentService_RenameSymbol_FullMethodName = "/reva.CommentService/RenameSymbol"
)

type SetCommentRequest struct {
	SymbolOrAddress string `json:"symbol_or_address"`
	Comment         string `json:"comment"`
}

func (x *SetCommentRequest) GetSymbolOrAddress() string {
	if x != nil {
		return x.SymbolOrAddress
	}
	return ""
}

func (x *SetCommentRequest) GetComment() string {
	if x != nil {
		return x.Comment
	}
	return ""
}

type SetCommentResponse struct{}

type RenameSymbolRequest struct {
	SymbolOrAddress string `json:"symbol_or_address"`
	NewName         string `json:"new_name"`
}

func (x *RenameSymbolRequest) GetSymbolOrAddress() string {
	if x != nil {
		return x.SymbolOrAddress
	}
	return ""
}

func (x *RenameSymbolRequest) GetNewName() string {
	if x != nil {
		return x.NewName
	}
	return ""
}

type RenameSymbolResponse struct{}

// CommentServiceClient is the client API for CommentService.
type CommentServiceClient interface {
	SetComment(ctx context.Context, in *SetCommentRequest, opts ...grpc.CallOption) (*SetCommentResponse, error)
	RenameSymbol(ctx context.Context, in *RenameSymbolRequest, opts ...grpc.CallOption) (*RenameSymbolResponse, error)
}

type commentServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewCommentServiceClient(cc grpc.ClientConnInterface) CommentServiceClient {
	return &commentServiceClient{cc}
}

func (c *commentServiceClient) SetComment(ctx context.Context, in *SetCommentRequest, opts ...grpc.CallOption) (*SetCommentResponse, error) {
	out := new(SetCommentResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, CommentService_SetComment_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *commentServiceClient) RenameSymbol(ctx context.Context, in *RenameSymbolRequest, opts ...grpc.CallOption) (*RenameSymbolResponse, error) {
	out := new(RenameSymbolResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, CommentService_RenameSymbol_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CommentServiceServer is the server API for CommentService.
type CommentServiceServer interface {
	SetComment(context.Context, *SetCommentRequest) (*SetCommentResponse, error)
	RenameSymbol(context.Context, *RenameSymbolRequest) (*RenameSymbolResponse, error)
}

// UnimplementedCommentServiceServer can be embedded for forward compatibility.
type UnimplementedCommentServiceServer struct{}

func (UnimplementedCommentServiceServer) SetComment(context.Context, *SetCommentRequest) (*SetCommentResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method SetComment not implemented")
}

func (UnimplementedCommentServiceServer) RenameSymbol(context.Context, *RenameSymbolRequest) (*RenameSymbolResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method RenameSymbol not implemented")
}

func RegisterCommentServiceServer(s grpc.ServiceRegistrar, srv CommentServiceServer) {
	s.RegisterService(&CommentService_ServiceDesc, srv)
}

func _CommentService_SetComment_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SetCommentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommentServiceServer).SetComment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: CommentService_SetComment_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CommentServiceServer).SetComment(ctx, req.(*SetCommentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _CommentService_RenameSymbol_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RenameSymbolRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CommentServiceServer).RenameSymbol(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: CommentService_RenameSymbol_FullMethodName,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CommentServiceServer).RenameSymbol(ctx, req.(*RenameSymbolRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// CommentService_ServiceDesc is the grpc.ServiceDesc for CommentService.
var CommentService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: CommentService_ServiceName,
	HandlerType: (*CommentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SetComment",
			Handler:    _CommentService_SetComment_Handler,
		},
		{
			MethodName: "RenameSymbol",
			Handler:    _CommentService_RenameSymbol_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "reva/comment.proto",
}
