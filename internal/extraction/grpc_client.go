package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/batchbot/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// Sidecar service names.
const (
	ServiceName   = "batchbot.extraction.v1.Extraction"
	ExtractMethod = "/" + ServiceName + "/Extract"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errMissingContent           = errors.New("response has no content field")
)

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   60 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcClient talks to an extraction sidecar. Requests and responses are
// google.protobuf.Struct values, so the sidecar needs no generated stubs:
//
//	request:  {"messages": [{"role": "...", "content": "..."}]}
//	response: {"content": "<raw JSON document>"}
type GrpcClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	cfg    GrpcClientConfig
	logger *slog.Logger
}

// NewGrpcClient connects to the sidecar and waits until it is reachable.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = defaults.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = defaults.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaults.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("create extraction client for %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad sidecar address.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("extraction sidecar at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("connected to extraction sidecar", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Extract sends the history to the sidecar.
func (c *GrpcClient) Extract(ctx context.Context, history []domain.Message) (string, error) {
	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	messages := make([]any, 0, len(history))
	for _, m := range history {
		messages = append(messages, map[string]any{"role": m.Role, "content": m.Content})
	}
	req, err := structpb.NewStruct(map[string]any{"messages": messages})
	if err != nil {
		return "", fmt.Errorf("build extraction request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, ExtractMethod, req, resp); err != nil {
		return "", domain.Upstream("extraction", err)
	}

	content, ok := resp.GetFields()["content"]
	if !ok {
		return "", domain.Upstream("extraction", errMissingContent)
	}
	return content.GetStringValue(), nil
}

// Health checks if the sidecar reports itself as serving.
func (c *GrpcClient) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return domain.Upstream("extraction health", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return domain.Upstream("extraction health", fmt.Errorf("status %s", resp.GetStatus()))
	}
	return nil
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}
