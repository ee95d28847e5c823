// Package client talks to a running hostguard server over gRPC.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/hostguard/internal/ledger"
	"github.com/ppiankov/hostguard/internal/model"
	"github.com/ppiankov/hostguard/internal/node"
	"github.com/ppiankov/hostguard/internal/router"
	"github.com/ppiankov/hostguard/internal/server"
)

const callTimeout = 5 * time.Second

// Client connects to a hostguard gRPC server.
type Client struct {
	conn *grpc.ClientConn
}

// New creates a gRPC client for addr. The connection is established lazily.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to hostguard server: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(method string, req, resp any) error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	in, err := server.EncodeStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, server.FullMethod(method), in, out); err != nil {
		return err
	}
	return server.DecodeStruct(out, resp)
}

// Apply submits a ledger call.
func (c *Client) Apply(req node.ApplyRequest) (node.ApplyResponse, error) {
	var resp node.ApplyResponse
	err := c.call(server.MethodApply, req, &resp)
	return resp, err
}

// Classify asks the server's router for a decision.
// Fail-closed: on any RPC error the returned log is a Deny with reason
// hard_stop, alongside the error.
func (c *Client) Classify(req node.ClassifyRequest) (router.DecisionLog, error) {
	var d router.DecisionLog
	if err := c.call(server.MethodClassify, req, &d); err != nil {
		return router.DecisionLog{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			HostID:    req.Observation.HostID,
			Decision:  model.Deny,
			Reason:    model.ReasonHardStop,
			Domain:    req.Domain,
			RegionID:  req.Observation.RegionID,
		}, fmt.Errorf("hostguard server unreachable: %w", err)
	}
	return d, nil
}

// Status returns the server's ledger snapshot.
func (c *Client) Status() (ledger.Status, error) {
	var st ledger.Status
	err := c.call(server.MethodStatus, struct{}{}, &st)
	return st, err
}

// Schedule runs one donation window on the server.
func (c *Client) Schedule(req node.ScheduleRequest) (node.ScheduleResponse, error) {
	var resp node.ScheduleResponse
	err := c.call(server.MethodSchedule, req, &resp)
	return resp, err
}

// Events returns the committed events starting at index from.
func (c *Client) Events(from int) ([]model.LedgerEvent, error) {
	var resp struct {
		Events []model.LedgerEvent `json:"events"`
	}
	if err := c.call(server.MethodEvents, server.EventsRequest{From: from}, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// Healthy reports whether the server's HostGuard service is serving.
func (c *Client) Healthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: server.ServiceName})
	return err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING
}
