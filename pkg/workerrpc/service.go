package workerrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the gRPC service exposed by recognition workers.
	ServiceName = "ocrworker.OcrWorker"

	extractTextMethod = "/" + ServiceName + "/ExtractText"
)

// ExtractRequest asks a worker to recognize the text of a file it can read.
type ExtractRequest struct {
	RequestID   string
	FilePath    string
	Language    string
	UseAngleCls bool
}

// ExtractReply is a worker's answer. OK=false carries the worker's own error.
type ExtractReply struct {
	OK        bool
	Text      string
	Error     string
	ElapsedMs int64
}

// Messages travel as google.protobuf.Struct so workers in any language can
// serve the method without generated stubs.
func (r ExtractRequest) toStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"request_id":    structpb.NewStringValue(r.RequestID),
		"file_path":     structpb.NewStringValue(r.FilePath),
		"language":      structpb.NewStringValue(r.Language),
		"use_angle_cls": structpb.NewBoolValue(r.UseAngleCls),
	}}
}

func requestFromStruct(s *structpb.Struct) ExtractRequest {
	f := s.GetFields()
	return ExtractRequest{
		RequestID:   f["request_id"].GetStringValue(),
		FilePath:    f["file_path"].GetStringValue(),
		Language:    f["language"].GetStringValue(),
		UseAngleCls: f["use_angle_cls"].GetBoolValue(),
	}
}

func (r ExtractReply) toStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"ok":         structpb.NewBoolValue(r.OK),
		"text":       structpb.NewStringValue(r.Text),
		"error":      structpb.NewStringValue(r.Error),
		"elapsed_ms": structpb.NewNumberValue(float64(r.ElapsedMs)),
	}}
}

func replyFromStruct(s *structpb.Struct) ExtractReply {
	f := s.GetFields()
	return ExtractReply{
		OK:        f["ok"].GetBoolValue(),
		Text:      f["text"].GetStringValue(),
		Error:     f["error"].GetStringValue(),
		ElapsedMs: int64(f["elapsed_ms"].GetNumberValue()),
	}
}

// WorkerServer is implemented by recognition workers.
type WorkerServer interface {
	ExtractText(ctx context.Context, req ExtractRequest) (ExtractReply, error)
}

// ServiceDesc describes the worker service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ExtractText",
			Handler:    extractTextHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ocrworker.proto",
}

// RegisterWorkerServer registers srv on s.
func RegisterWorkerServer(s grpc.ServiceRegistrar, srv WorkerServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func extractTextHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req any) (any, error) {
		reply, err := srv.(WorkerServer).ExtractText(ctx, requestFromStruct(req.(*structpb.Struct)))
		if err != nil {
			return nil, err
		}
		return reply.toStruct(), nil
	}
	if interceptor == nil {
		return handler(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: extractTextMethod,
	}
	return interceptor(ctx, in, info, handler)
}
