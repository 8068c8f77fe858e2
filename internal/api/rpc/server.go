// Package rpc exposes the historian over gRPC. Messages are google.protobuf.Struct
// documents carrying the same JSON the REST API accepts and returns.
package rpc

import (
	"context"
	"encoding/json"

	"github.com/KevinKickass/EndpointRegistry/internal/auth"
	"github.com/KevinKickass/EndpointRegistry/internal/historian"
	"github.com/KevinKickass/EndpointRegistry/internal/history"
	"github.com/KevinKickass/EndpointRegistry/internal/types"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName   = "endpointregistry.Historian"
	MethodExecute = "/" + ServiceName + "/Execute"
	MethodNext    = "/" + ServiceName + "/Next"
)

type HistorianServer interface {
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Next(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ExecuteRequest is one history request: the envelope plus the endpoint and
// the details variant.
type ExecuteRequest struct {
	EndpointID string      `json:"endpointId"`
	Variant    history.Tag `json:"variant"`
	history.Envelope
}

type NextRequest struct {
	EndpointID string `json:"endpointId"`
	historian.NextRequest
}

type HistorianHandler struct {
	dispatcher *historian.Dispatcher
	catalog    *history.Catalog
}

func NewHistorianHandler(dispatcher *historian.Dispatcher, catalog *history.Catalog) *HistorianHandler {
	return &HistorianHandler{dispatcher: dispatcher, catalog: catalog}
}

func RegisterHistorianServer(server *grpc.Server, handler HistorianServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*HistorianServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Execute", Handler: executeHandler},
			{MethodName: "Next", Handler: nextHandler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "endpointregistry/historian.proto",
	}, handler)
}

func (h *HistorianHandler) Execute(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeStruct[ExecuteRequest](request)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(ctx, auth.ForVariant(h.catalog, req.Variant)); err != nil {
		return nil, err
	}
	result, err := h.dispatcher.Execute(ctx, req.EndpointID, req.Envelope, req.Variant)
	if err != nil {
		return nil, err
	}
	return toStruct(result)
}

func (h *HistorianHandler) Next(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeStruct[NextRequest](request)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(ctx, auth.PermHistoryRead); err != nil {
		return nil, err
	}
	result, err := h.dispatcher.Next(ctx, req.EndpointID, req.NextRequest)
	if err != nil {
		return nil, err
	}
	return toStruct(result)
}

func toStruct(value any) (*structpb.Struct, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeStruct[T any](input *structpb.Struct) (T, error) {
	var out T
	b, err := protojson.Marshal(input)
	if err != nil {
		return out, types.NewError(types.KindMalformedPayload, "decode request", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, types.NewError(types.KindMalformedPayload, "decode request", err)
	}
	return out, nil
}

func executeHandler(srv any, ctx context.Context, decoder func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(structpb.Struct)
	if err := decoder(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HistorianServer).Execute(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodExecute}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HistorianServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, request, info, handler)
}

func nextHandler(srv any, ctx context.Context, decoder func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	request := new(structpb.Struct)
	if err := decoder(request); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HistorianServer).Next(ctx, request)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodNext}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(HistorianServer).Next(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, request, info, handler)
}
