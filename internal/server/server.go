// Package server exposes a Node over gRPC with standard health checking and
// hot reload of the host configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/hostguard/internal/config"
	"github.com/ppiankov/hostguard/internal/donation"
	"github.com/ppiankov/hostguard/internal/identity"
	"github.com/ppiankov/hostguard/internal/ledger"
	"github.com/ppiankov/hostguard/internal/node"
)

// Config holds gRPC server configuration.
type Config struct {
	Port       int
	ConfigPath string
}

// Server implements HostGuardServer on top of a Node.
type Server struct {
	node       *node.Node
	cfg        Config
	health     *health.Server
	grpcServer *grpc.Server
}

// New creates a gRPC server for n.
func New(n *node.Node, cfg Config) *Server {
	s := &Server{
		node:       n,
		cfg:        cfg,
		health:     health.NewServer(),
		grpcServer: grpc.NewServer(),
	}
	s.grpcServer.RegisterService(&ServiceDesc, s)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	return s
}

// Serve starts the gRPC server on the configured port. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	return s.grpcServer.Serve(lis)
}

// ServeOn starts the gRPC server on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop marks the service not serving and drains in-flight calls.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}

// ReloadConfig reloads the host configuration from disk and applies its
// hot-reloadable parts. Called by the Reloader on file change.
func (s *Server) ReloadConfig() error {
	cfg, hash, err := config.LoadWithHash(s.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}
	if cfg.Envelope != s.node.Ledger().Envelope() {
		fmt.Fprintf(os.Stderr, "hot-reload: envelope changes take effect on restart\n")
	}
	s.node.Reload(cfg, hash)
	return nil
}

// Apply implements the Apply RPC.
func (s *Server) Apply(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req node.ApplyRequest
	if err := DecodeStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := s.node.Apply(req)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(resp)
}

// Classify implements the Classify RPC.
func (s *Server) Classify(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req node.ClassifyRequest
	if err := DecodeStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	d, err := s.node.ClassifyReq(req)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(d)
}

// Status implements the Status RPC. The request is ignored.
func (s *Server) Status(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return encode(s.node.Status())
}

// Schedule implements the Schedule RPC.
func (s *Server) Schedule(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req node.ScheduleRequest
	if err := DecodeStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := s.node.ScheduleReq(req)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(resp)
}

// EventsRequest selects committed events from index From.
type EventsRequest struct {
	From int `json:"from"`
}

// Events implements the Events RPC.
func (s *Server) Events(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req EventsRequest
	if err := DecodeStruct(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	events := s.node.Events(req.From)
	return encode(map[string]any{
		"host_id":   s.node.HostID(),
		"from":      req.From,
		"events":    events,
		"last_hash": s.node.Ledger().LastHash(),
	})
}

func encode(v any) (*structpb.Struct, error) {
	out, err := EncodeStruct(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

// toStatus maps core errors onto gRPC codes.
func toStatus(err error) error {
	switch ledger.StageOf(err) {
	case ledger.StageInput:
		return status.Error(codes.InvalidArgument, err.Error())
	case ledger.StageIdentity, ledger.StageOverride:
		return status.Error(codes.PermissionDenied, err.Error())
	case ledger.StageCorridor, ledger.StageGuard:
		return status.Error(codes.FailedPrecondition, err.Error())
	case ledger.StageTurn:
		return status.Error(codes.ResourceExhausted, err.Error())
	case ledger.StageJournal:
		return status.Error(codes.Internal, err.Error())
	}

	var access *identity.AccessError
	switch {
	case errors.As(err, &access):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, donation.ErrInvalidTimestamp), errors.Is(err, donation.ErrStaleDay), errors.Is(err, node.ErrClockSkew):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
