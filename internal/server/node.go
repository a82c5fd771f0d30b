package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"statestore/internal/storage"
)

// NodeConfig configures a Node.
type NodeConfig struct {
	ID          string
	ListenAddr  string
	MetricsAddr string // empty disables the metrics endpoint
	// Gatherer is exposed on /metrics together with the node's own
	// collectors. Optional.
	Gatherer prometheus.Gatherer
}

// Node serves one Storage over gRPC.
type Node struct {
	cfg        NodeConfig
	store      storage.Storage
	logger     hclog.Logger
	grpcServer *grpc.Server
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec

	mu         sync.Mutex
	lis        net.Listener
	httpServer *http.Server
}

// NewNode creates a new node instance.
func NewNode(cfg NodeConfig, store storage.Storage, logger hclog.Logger) *Node {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("server").With("node", cfg.ID)

	n := &Node{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "statestore",
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "gRPC requests handled, by method and status code.",
		}, []string{"method", "code"}),
	}
	n.registry.MustRegister(n.requests)

	n.grpcServer = grpc.NewServer(
		grpc.ForceServerCodec(Codec{}),
		grpc.ChainUnaryInterceptor(n.countRequests),
	)
	RegisterStorageServer(n.grpcServer, NewServer(store, cfg.ID, logger))

	// Enable gRPC reflection for grpcurl
	reflection.Register(n.grpcServer)

	return n
}

func (n *Node) countRequests(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	n.requests.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
	return resp, err
}

// Start listens on the configured address and serves until Stop.
func (n *Node) Start() error {
	lis, err := net.Listen("tcp", n.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.ListenAddr, err)
	}
	return n.Serve(lis)
}

// Serve serves on lis until Stop.
func (n *Node) Serve(lis net.Listener) error {
	n.mu.Lock()
	n.lis = lis
	n.mu.Unlock()

	if n.cfg.MetricsAddr != "" {
		if err := n.startMetrics(); err != nil {
			return err
		}
	}

	n.logger.Info("starting node", "addr", lis.Addr().String())
	if err := n.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Addr returns the address being served, or nil before Serve.
func (n *Node) Addr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.lis == nil {
		return nil
	}
	return n.lis.Addr()
}

func (n *Node) startMetrics() error {
	lis, err := net.Listen("tcp", n.cfg.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", n.cfg.MetricsAddr, err)
	}

	gatherers := prometheus.Gatherers{n.registry}
	if n.cfg.Gatherer != nil {
		gatherers = append(gatherers, n.cfg.Gatherer)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{}))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	n.mu.Lock()
	n.httpServer = srv
	n.mu.Unlock()

	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			n.logger.Error("metrics endpoint failed", "error", err)
		}
	}()
	n.logger.Info("serving metrics", "addr", lis.Addr().String())
	return nil
}

// Registry returns the node's own Prometheus registry.
func (n *Node) Registry() *prometheus.Registry {
	return n.registry
}

// Stop gracefully stops the node. The Storage is not closed.
func (n *Node) Stop() {
	n.logger.Info("stopping node")
	n.grpcServer.GracefulStop()

	n.mu.Lock()
	srv := n.httpServer
	n.mu.Unlock()
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
