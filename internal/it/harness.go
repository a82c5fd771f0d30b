// Package it runs statestore clusters in process for end-to-end tests.
package it

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"statestore/internal/config"
	"statestore/internal/server"
	"statestore/internal/storage"
	"statestore/internal/storage/backend"
	"statestore/internal/storage/journal"
	"statestore/internal/storage/remote"
)

// Cluster represents a test cluster of nodes
type Cluster struct {
	mu     sync.Mutex
	nodes  []*Node
	logger hclog.Logger
}

// Node represents a single node in the test cluster
type Node struct {
	ID    string
	Addr  string
	Store *journal.Journal

	server *server.Node
	done   chan error
}

// NewCluster creates a new test cluster harness
func NewCluster(logger hclog.Logger) *Cluster {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Cluster{logger: logger}
}

// StartNode starts a single node backed by a journaled in-memory store.
func (c *Cluster) StartNode(ctx context.Context, nodeID string) (*Node, error) {
	store, err := journal.New(storage.NewInMemoryStore())
	if err != nil {
		return nil, err
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to listen for node %s: %w", nodeID, err)
	}

	node := &Node{ID: nodeID, Addr: lis.Addr().String(), Store: store}
	node.serve(lis, c.logger)

	if err := waitForReady(ctx, node, 10*time.Second); err != nil {
		node.Stop()
		return nil, fmt.Errorf("node %s failed to become ready: %w", nodeID, err)
	}

	c.mu.Lock()
	c.nodes = append(c.nodes, node)
	c.mu.Unlock()
	return node, nil
}

func (n *Node) serve(lis net.Listener, logger hclog.Logger) {
	n.server = server.NewNode(server.NodeConfig{ID: n.ID, ListenAddr: n.Addr}, n.Store, logger)
	n.done = make(chan error, 1)
	go func() { n.done <- n.server.Serve(lis) }()
}

// waitForReady polls the node until it answers a Names call.
func waitForReady(ctx context.Context, node *Node, timeout time.Duration) error {
	client, err := remote.Dial(node.Addr, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		callCtx, callCancel := context.WithTimeout(ctx, time.Second)
		_, err := client.Names(callCtx)
		callCancel()
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for node %s to be ready: %w", node.ID, err)
		case <-ticker.C:
		}
	}
}

// StartCluster starts n nodes named n1..nN.
func (c *Cluster) StartCluster(ctx context.Context, n int) error {
	for i := 1; i <= n; i++ {
		if _, err := c.StartNode(ctx, fmt.Sprintf("n%d", i)); err != nil {
			c.Stop()
			return err
		}
	}
	return nil
}

// Shards renders the cluster as a shard list for config.
func (c *Cluster) Shards() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	parts := make([]string, 0, len(c.nodes))
	for _, n := range c.nodes {
		parts = append(parts, n.ID+"="+n.Addr)
	}
	return strings.Join(parts, ",")
}

// OpenSharded opens a sharded client over every node in the cluster.
func (c *Cluster) OpenSharded(ctx context.Context) (storage.Storage, error) {
	return backend.Open(ctx, config.StorageConfig{
		Backend: config.BackendSharded,
		Shards:  c.Shards(),
		VNodes:  64,
	}, c.logger)
}

// GetNode returns a node by ID
func (c *Cluster) GetNode(nodeID string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.ID == nodeID {
			return n
		}
	}
	return nil
}

// KillNode stops a node without forgetting it.
func (c *Cluster) KillNode(nodeID string) error {
	node := c.GetNode(nodeID)
	if node == nil {
		return fmt.Errorf("node %s not found", nodeID)
	}
	node.Stop()
	return nil
}

// RestartNode serves a stopped node again on its old address. Its data
// survives because the store is kept.
func (c *Cluster) RestartNode(ctx context.Context, nodeID string) error {
	node := c.GetNode(nodeID)
	if node == nil {
		return fmt.Errorf("node %s not found", nodeID)
	}

	lis, err := net.Listen("tcp", node.Addr)
	if err != nil {
		return fmt.Errorf("failed to relisten for node %s: %w", nodeID, err)
	}
	node.serve(lis, c.logger)
	return waitForReady(ctx, node, 10*time.Second)
}

// Stop stops all nodes in the cluster
func (c *Cluster) Stop() {
	c.mu.Lock()
	nodes := c.nodes
	c.nodes = nil
	c.mu.Unlock()

	for _, node := range nodes {
		node.Stop()
		_ = node.Store.Close()
	}
}

// Stop stops a single node
func (n *Node) Stop() {
	if n.server == nil {
		return
	}
	n.server.Stop()
	<-n.done
	n.server = nil
}
