package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"keepalive/config"
	"keepalive/internal/orchestrator"
	"keepalive/internal/strategy"
	"keepalive/internal/unixsock"
)

// Controller is the orchestrator surface the service drives.
type Controller interface {
	Init(ctx context.Context, cfg config.Config) error
	Stop(ctx context.Context)
	Check(ctx context.Context) error
	Status() orchestrator.Status
}

type Server struct {
	ctl Controller
	// cfg is what Start initializes with.
	cfg config.Config
	log *slog.Logger
}

func NewServer(ctl Controller, cfg config.Config) *Server {
	return &Server{ctl: ctl, cfg: cfg, log: slog.With("component", "control-server")}
}

// ListenAndServe serves on the unix socket at path until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, path string) error {
	ln, err := unixsock.Listen(path)
	if err != nil {
		return fmt.Errorf("listen control socket: %w", err)
	}
	defer func() { _ = os.Remove(path) }() // best-effort cleanup
	s.log.Debug("listening", "socket", path)
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then stops gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	srv.RegisterService(&serviceDesc, s)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		<-serveErr
		return nil
	case err := <-serveErr:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve control: %w", err)
	}
}

// reasonKey is the request metadata key carrying a check's wake-up reason.
const reasonKey = "keepalive-reason"

func (s *Server) Check(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	reason := "control"
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(reasonKey); len(v) > 0 && v[0] != "" {
			reason = "control: " + v[0]
		}
	}
	if err := s.ctl.Check(strategy.WithReason(ctx, reason)); err != nil {
		return nil, toGRPCError(err)
	}
	return &emptypb.Empty{}, nil
}

// Start initializes the orchestrator with the server's configuration. The
// request context only bounds the RPC; strategies keep running after it.
func (s *Server) Start(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := s.ctl.Init(context.WithoutCancel(ctx), s.cfg); err != nil {
		return nil, toGRPCError(err)
	}
	s.log.Info("started over control socket")
	return &emptypb.Empty{}, nil
}

func (s *Server) Stop(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	s.ctl.Stop(context.WithoutCancel(ctx))
	s.log.Info("stopped over control socket")
	return &emptypb.Empty{}, nil
}

func (s *Server) Status(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	out, err := encodeStatus(s.ctl.Status())
	if err != nil {
		return nil, toGRPCError(err)
	}
	return out, nil
}
