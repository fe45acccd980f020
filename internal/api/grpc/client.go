// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package grpc

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/bus"
	"github.com/yaotutu/lumi-assistant-cli/internal/pipeline/model"
)

// Client calls a remote lumi.v1.Assistant. Its method set mirrors the
// controller so front-ends can drive either.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to target with the JSON codec. Extra options are appended.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) StartListening(ctx context.Context, channel string) (model.Task, error) {
	return c.invoke(ctx, methodStartListening, &ChannelRequest{Channel: channel})
}

func (c *Client) StopListening(ctx context.Context, channel string) (model.Task, error) {
	return c.invoke(ctx, methodStopListening, &ChannelRequest{Channel: channel})
}

func (c *Client) SubmitText(ctx context.Context, channel, text string) (model.Task, error) {
	return c.invoke(ctx, methodSubmitText, &TextRequest{Channel: channel, Text: text})
}

func (c *Client) Cancel(ctx context.Context, taskID string) (model.Task, error) {
	return c.invoke(ctx, methodCancel, &TaskRequest{TaskID: taskID})
}

func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (model.Task, error) {
	return c.invoke(ctx, methodGetTaskStatus, &TaskRequest{TaskID: taskID})
}

func (c *Client) invoke(ctx context.Context, method string, in any) (model.Task, error) {
	var out model.Task
	if err := c.conn.Invoke(ctx, method, in, &out); err != nil {
		return model.Task{}, ErrorFromStatus(err)
	}
	return out, nil
}

// Events opens GetEventStream and delivers events on the returned channel
// until ctx ends or the server closes the stream.
func (c *Client) Events(ctx context.Context, f bus.Filter) (<-chan model.Event, error) {
	desc := &AssistantServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, methodGetEventStream)
	if err != nil {
		return nil, ErrorFromStatus(err)
	}
	if err := stream.SendMsg(&EventFilter{Topics: f.Topics, SessionID: f.SessionID, Channel: f.Channel}); err != nil {
		return nil, ErrorFromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, ErrorFromStatus(err)
	}
	out := make(chan model.Event)
	go func() {
		defer close(out)
		for {
			var ev model.Event
			if err := stream.RecvMsg(&ev); err != nil {
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// ErrorFromStatus maps a gRPC status back onto the controller sentinels so
// callers can keep using errors.Is.
func ErrorFromStatus(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.AlreadyExists:
		sentinel = model.ErrConflict
	case codes.FailedPrecondition:
		sentinel = model.ErrNoActiveSession
	case codes.NotFound:
		sentinel = model.ErrNotFound
	case codes.InvalidArgument:
		sentinel = model.ErrInvalidInput
	case codes.Unavailable:
		sentinel = model.ErrShuttingDown
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	default:
		return err
	}
	return &remoteError{sentinel: sentinel, msg: st.Message()}
}

type remoteError struct {
	sentinel error
	msg      string
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }
