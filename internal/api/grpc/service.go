// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package grpc exposes the operation controller as the lumi.v1.Assistant
// gRPC service. Messages travel as JSON (see Codec).
package grpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

// ServiceName is the fully qualified service name.
const ServiceName = "lumi.v1.Assistant"

const (
	methodStartListening = "/" + ServiceName + "/StartListening"
	methodStopListening  = "/" + ServiceName + "/StopListening"
	methodSubmitText     = "/" + ServiceName + "/SubmitText"
	methodCancel         = "/" + ServiceName + "/Cancel"
	methodGetTaskStatus  = "/" + ServiceName + "/GetTaskStatus"
	methodGetEventStream = "/" + ServiceName + "/GetEventStream"
)

// ChannelRequest addresses a front-end channel.
type ChannelRequest struct {
	Channel string `json:"channel,omitempty"`
}

// TextRequest submits typed input on a channel.
type TextRequest struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// TaskRequest addresses a task.
type TaskRequest struct {
	TaskID string `json:"taskId"`
}

// EventFilter selects the events a stream receives. History replays up to
// that many retained events before live delivery starts.
type EventFilter struct {
	Topics    []string `json:"topics,omitempty"`
	SessionID string   `json:"sessionId,omitempty"`
	Channel   string   `json:"channel,omitempty"`
	History   int      `json:"history,omitempty"`
}

// AssistantServer is the server API for lumi.v1.Assistant.
type AssistantServer interface {
	StartListening(context.Context, *ChannelRequest) (*model.Task, error)
	StopListening(context.Context, *ChannelRequest) (*model.Task, error)
	SubmitText(context.Context, *TextRequest) (*model.Task, error)
	Cancel(context.Context, *TaskRequest) (*model.Task, error)
	GetTaskStatus(context.Context, *TaskRequest) (*model.Task, error)
	GetEventStream(*EventFilter, EventStreamServer) error
}

// EventStreamServer is the server side of GetEventStream.
type EventStreamServer interface {
	Send(*model.Event) error
	grpc.ServerStream
}

type eventStreamServer struct {
	grpc.ServerStream
}

func (x *eventStreamServer) Send(ev *model.Event) error {
	return x.ServerStream.SendMsg(ev)
}

// RegisterAssistantServer registers srv on s.
func RegisterAssistantServer(s grpc.ServiceRegistrar, srv AssistantServer) {
	s.RegisterService(&AssistantServiceDesc, srv)
}

// AssistantServiceDesc describes lumi.v1.Assistant.
var AssistantServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AssistantServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartListening", Handler: unary(methodStartListening, func(srv AssistantServer, ctx context.Context, in *ChannelRequest) (*model.Task, error) {
			return srv.StartListening(ctx, in)
		})},
		{MethodName: "StopListening", Handler: unary(methodStopListening, func(srv AssistantServer, ctx context.Context, in *ChannelRequest) (*model.Task, error) {
			return srv.StopListening(ctx, in)
		})},
		{MethodName: "SubmitText", Handler: unary(methodSubmitText, func(srv AssistantServer, ctx context.Context, in *TextRequest) (*model.Task, error) {
			return srv.SubmitText(ctx, in)
		})},
		{MethodName: "Cancel", Handler: unary(methodCancel, func(srv AssistantServer, ctx context.Context, in *TaskRequest) (*model.Task, error) {
			return srv.Cancel(ctx, in)
		})},
		{MethodName: "GetTaskStatus", Handler: unary(methodGetTaskStatus, func(srv AssistantServer, ctx context.Context, in *TaskRequest) (*model.Task, error) {
			return srv.GetTaskStatus(ctx, in)
		})},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "GetEventStream",
			Handler:       eventStreamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "lumi/v1/assistant",
}

// unary adapts a typed method to grpc.MethodHandler, running interceptors
// the same way generated stubs do.
func unary[Req any](fullMethod string, call func(AssistantServer, context.Context, *Req) (*model.Task, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AssistantServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AssistantServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func eventStreamHandler(srv any, stream grpc.ServerStream) error {
	in := new(EventFilter)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(AssistantServer).GetEventStream(in, &eventStreamServer{stream})
}
