package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/ultrasonic.monitor/internal/monitor"
	"github.com/banshee-data/ultrasonic.monitor/internal/monitoring"
)

// Ensure Server implements the gRPC interface.
var _ MonitorServer = (*Server)(nil)

// Server implements MonitorServer over a Controller.
type Server struct {
	ctrl *monitor.Controller

	// Buffer is the per-client notification buffer.
	Buffer int
}

func NewServer(ctrl *monitor.Controller) *Server {
	return &Server{ctrl: ctrl, Buffer: monitor.DefaultSubscriberBuffer}
}

// Snapshot implements the unary snapshot RPC.
func (s *Server) Snapshot(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := toStruct(s.ctrl.Snapshot())
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return st, nil
}

// Subscribe streams every notification published after the call starts.
// A client that falls behind misses notifications rather than stalling
// the controller.
func (s *Server) Subscribe(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	bus := s.ctrl.Bus()
	id, ch := bus.Subscribe(s.Buffer)
	defer bus.Unsubscribe(id)

	monitoring.Logf("[gRPC] subscriber %s connected", id)
	defer monitoring.Logf("[gRPC] subscriber %s gone", id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-ch:
			if !ok {
				return status.Error(codes.Unavailable, "notification bus closed")
			}
			msg, err := toStruct(n)
			if err != nil {
				monitoring.Logf("[gRPC] failed to encode notification %d: %v", n.Seq, err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// toStruct converts v to a Struct through its JSON form, so the stream
// carries the same field names as the HTTP API.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode %T: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// ListenAndServe serves the Monitor service on addr until ctx is
// cancelled, then stops gracefully.
func ListenAndServe(ctx context.Context, addr string, srv *Server) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return Serve(ctx, lis, srv)
}

// Serve is ListenAndServe on an existing listener.
func Serve(ctx context.Context, lis net.Listener, srv *Server) error {
	gs := grpc.NewServer()
	RegisterMonitorServer(gs, srv)

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("[gRPC] listening on %s", lis.Addr())
		errc <- gs.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		// Open Subscribe streams only end when their context does.
		gs.Stop()
		<-errc
		return nil
	case err := <-errc:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
