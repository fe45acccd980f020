// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package grpc

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/yaotutu/lumi-assistant-cli/internal/log"
	"github.com/yaotutu/lumi-assistant-cli/internal/metrics"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/bus"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/controller"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

const (
	// DefaultChannel owns sessions started without an explicit channel.
	DefaultChannel = "grpc"

	maxReplay = 100
)

// EventSource is the part of the bus the event stream reads.
type EventSource interface {
	Subscribe(f bus.Filter) *bus.Subscription
	History(f bus.Filter, limit int) []model.Event
}

// Service implements AssistantServer on top of the controller and the bus.
type Service struct {
	ctrl   *controller.Controller
	bus    EventSource
	logger zerolog.Logger
}

var _ AssistantServer = (*Service)(nil)

// NewService constructs the service.
func NewService(ctrl *controller.Controller, b EventSource, logger *zerolog.Logger) *Service {
	l := log.WithComponent("grpc")
	if logger != nil {
		l = *logger
	}
	return &Service{ctrl: ctrl, bus: b, logger: l}
}

// NewServer returns a grpc.Server with the service registered and the
// recovery and logging interceptors installed.
func NewServer(svc *Service, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(svc.recoverUnary, svc.logUnary),
		grpc.ChainStreamInterceptor(svc.recoverStream),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterAssistantServer(s, svc)
	return s
}

func (s *Service) StartListening(ctx context.Context, in *ChannelRequest) (*model.Task, error) {
	task, err := s.ctrl.StartListening(ctx, channelOrDefault(in.Channel))
	return taskOrStatus(task, err)
}

func (s *Service) StopListening(ctx context.Context, in *ChannelRequest) (*model.Task, error) {
	task, err := s.ctrl.StopListening(ctx, channelOrDefault(in.Channel))
	return taskOrStatus(task, err)
}

func (s *Service) SubmitText(ctx context.Context, in *TextRequest) (*model.Task, error) {
	task, err := s.ctrl.SubmitText(ctx, channelOrDefault(in.Channel), in.Text)
	return taskOrStatus(task, err)
}

func (s *Service) Cancel(ctx context.Context, in *TaskRequest) (*model.Task, error) {
	task, err := s.ctrl.Cancel(ctx, in.TaskID)
	return taskOrStatus(task, err)
}

func (s *Service) GetTaskStatus(ctx context.Context, in *TaskRequest) (*model.Task, error) {
	task, err := s.ctrl.GetTaskStatus(ctx, in.TaskID)
	return taskOrStatus(task, err)
}

// GetEventStream holds one bus subscription for the life of the stream.
func (s *Service) GetEventStream(in *EventFilter, stream EventStreamServer) error {
	if in.History < 0 || in.History > maxReplay {
		return status.Errorf(codes.InvalidArgument, "history must be between 0 and %d", maxReplay)
	}
	f := bus.Filter{Topics: in.Topics, SessionID: in.SessionID, Channel: in.Channel}
	sub := s.bus.Subscribe(f)
	defer sub.Close()
	metrics.AddStreamClients("grpc", 1)
	defer metrics.AddStreamClients("grpc", -1)

	ctx := stream.Context()
	logger := log.WithContext(ctx, s.logger)
	logger.Debug().
		Str(log.FieldEvent, "grpc.stream_opened").
		Uint64(log.FieldSubscriberID, sub.ID()).
		Strs("topics", in.Topics).
		Msg("event stream opened")

	var sent *bus.Replayed
	if in.History > 0 {
		replay := s.bus.History(f, in.History)
		for _, ev := range replay {
			if err := stream.Send(&ev); err != nil {
				return err
			}
		}
		sent = bus.NewReplayed(replay)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return status.Error(codes.Unavailable, "event bus closed")
			}
			if sent.Delivered(ev) {
				continue
			}
			if err := stream.Send(&ev); err != nil {
				return err
			}
		}
	}
}

func channelOrDefault(channel string) string {
	if c := strings.TrimSpace(channel); c != "" {
		return c
	}
	return DefaultChannel
}

func taskOrStatus(task model.Task, err error) (*model.Task, error) {
	if err != nil {
		return nil, StatusFromError(err)
	}
	return &task, nil
}

// CodeFor maps a controller error to its gRPC status code.
func CodeFor(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}
	switch model.KindOf(err) {
	case model.KindConflict:
		return codes.AlreadyExists
	case model.KindNoActiveSession:
		return codes.FailedPrecondition
	case model.KindNotFound:
		return codes.NotFound
	case model.KindInvalidInput:
		return codes.InvalidArgument
	case model.KindShuttingDown:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// StatusFromError converts err to a gRPC status error carrying the error
// kind in the message prefix.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(CodeFor(err), fmt.Sprintf("%s: %v", model.KindOf(err), err))
}

func (s *Service) logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-correlation-id"); len(ids) > 0 && ids[0] != "" {
			ctx = log.ContextWithCorrelationID(ctx, ids[0])
		}
	}
	resp, err := handler(ctx, req)

	logger := log.WithContext(ctx, s.logger)
	evt := logger.Info()
	code := status.Code(err)
	if code == codes.Internal || code == codes.Unknown {
		evt = logger.Error().Err(err)
	}
	evt.
		Str(log.FieldEvent, "grpc.request").
		Str("method", info.FullMethod).
		Str("code", code.String()).
		Int64(log.FieldDuration, time.Since(start).Milliseconds()).
		Msg("grpc request")
	return resp, err
}

func (s *Service) recoverUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logPanic(info.FullMethod, rec)
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}

func (s *Service) recoverStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logPanic(info.FullMethod, rec)
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(srv, ss)
}

func (s *Service) logPanic(method string, rec any) {
	s.logger.Error().
		Str(log.FieldEvent, "grpc.panic").
		Str("method", method).
		Interface("panic", rec).
		Bytes("stack", debug.Stack()).
		Msg("recovered from panic")
}
