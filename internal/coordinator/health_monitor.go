// Package coordinator provides the cluster coordination server functionality.
// This file implements health monitoring for registered nodes in the cluster.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/logging"
)

// NodeHealth tracks the health status of a single node in the cluster.
// Thread-safe: Protected by HealthMonitor's mutex when accessed.
type NodeHealth struct {
	LastCheck        time.Time // Timestamp of the last health check attempt
	LastHealthy      time.Time // Timestamp of the last successful health check
	NodeID           string    // Unique identifier of the node
	Status           string    // cluster.HealthHealthy, HealthUnhealthy or HealthUnknown
	ConsecutiveFails int       // Number of consecutive failed health checks
}

// CheckFunc checks one node address and returns nil when it is healthy.
type CheckFunc func(ctx context.Context, addr string) error

// HealthMonitor performs periodic health checks on all registered nodes.
// A node that fails maxFailures checks in a row becomes unhealthy; one
// successful check makes it healthy again. Every transition is reported
// through the OnStatusChange callback.
//
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	nodes       map[string]*NodeHealth
	httpClient  *http.Client
	checkFunc   CheckFunc
	onChange    func(nodeID, status string, at time.Time)
	log         *slog.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	interval    time.Duration
	timeout     time.Duration
	mu          sync.RWMutex
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a monitor that checks each node's /health
// endpoint every interval. Nodes are marked unhealthy after 3 consecutive
// failures.
//
// Example:
//
//	monitor := NewHealthMonitor(5*time.Second, log)
//	monitor.SetOnStatusChange(registry.SetHealth)
//	go monitor.Start(ctx, registry.Nodes)
func NewHealthMonitor(interval time.Duration, log *slog.Logger) *HealthMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	if log == nil {
		log = slog.Default()
	}
	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		nodes:       make(map[string]*NodeHealth),
		httpClient:  &http.Client{Timeout: 2 * time.Second},
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetOnStatusChange sets the callback invoked after every check with the
// node's resulting status. It runs on the monitor goroutine and must not
// block.
func (h *HealthMonitor) SetOnStatusChange(fn func(nodeID, status string, at time.Time)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = fn
}

// SetCheckFunction replaces the HTTP check, for tests.
func (h *HealthMonitor) SetCheckFunction(fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkFunc = fn
}

// Start runs the monitoring loop until ctx or Stop cancels it. The first
// round of checks runs immediately.
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	if ctx == nil {
		ctx = h.ctx
	}
	h.mu.Lock()
	if h.checkFunc == nil {
		h.checkFunc = h.defaultHealthCheck
	}
	h.mu.Unlock()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	code := logging.Code(logging.NODE)
	h.log.Info("health monitor started", code, "interval", h.interval)

	h.checkAllNodes(ctx, nodeProvider())
	for {
		select {
		case <-ticker.C:
			h.checkAllNodes(ctx, nodeProvider())
		case <-ctx.Done():
			h.log.Info("health monitor stopping", code, "reason", ctx.Err())
			return
		case <-h.ctx.Done():
			h.log.Info("health monitor stopping", code, "reason", "stopped")
			return
		}
	}
}

// Stop cancels the loop and waits for it to exit.
func (h *HealthMonitor) Stop() {
	h.cancel()
	h.wg.Wait()
}

func (h *HealthMonitor) checkAllNodes(ctx context.Context, nodes []cluster.NodeInfo) {
	current := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		current[node.ID] = true
		h.checkNode(ctx, node)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.nodes {
		if !current[id] {
			delete(h.nodes, id)
			h.log.Info("removed node from health monitoring", logging.Code(logging.NODE), "node", id)
		}
	}
}

func (h *HealthMonitor) checkNode(ctx context.Context, node cluster.NodeInfo) {
	h.mu.Lock()
	health, exists := h.nodes[node.ID]
	if !exists {
		now := time.Now()
		health = &NodeHealth{NodeID: node.ID, Status: cluster.HealthUnknown, LastCheck: now, LastHealthy: now}
		h.nodes[node.ID] = health
	}
	check := h.checkFunc
	h.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	err := check(cctx, node.Addr)
	cancel()

	h.mu.Lock()
	code := logging.Code(logging.NODE)
	health.LastCheck = time.Now()
	if err != nil {
		health.ConsecutiveFails++
		h.log.Warn("health check failed", code, "node", node.ID,
			"attempt", health.ConsecutiveFails, "max", h.maxFailures, "error", err)
		if health.ConsecutiveFails >= h.maxFailures {
			if health.Status != cluster.HealthUnhealthy {
				h.log.Error("node marked unhealthy", code, "node", node.ID, "failures", health.ConsecutiveFails)
			}
			health.Status = cluster.HealthUnhealthy
		}
	} else {
		if health.Status == cluster.HealthUnhealthy {
			h.log.Info("node recovered", code, "node", node.ID)
		}
		health.Status = cluster.HealthHealthy
		health.ConsecutiveFails = 0
		health.LastHealthy = health.LastCheck
	}
	status, at, onChange := health.Status, health.LastCheck, h.onChange
	h.mu.Unlock()

	if onChange != nil {
		onChange(node.ID, status, at)
	}
}

func (h *HealthMonitor) defaultHealthCheck(ctx context.Context, addr string) error {
	url := addr
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		url = "http://" + addr
	}
	if !strings.HasSuffix(url, "/health") {
		url = strings.TrimRight(url, "/") + "/health"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetNodeHealth returns a copy of a node's health, or nil if unknown.
func (h *HealthMonitor) GetNodeHealth(nodeID string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, exists := h.nodes[nodeID]
	if !exists {
		return nil
	}
	cp := *health
	return &cp
}

// GetAllNodeHealth returns copies of every tracked node's health.
func (h *HealthMonitor) GetAllNodeHealth() map[string]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	result := make(map[string]*NodeHealth, len(h.nodes))
	for id, health := range h.nodes {
		cp := *health
		result[id] = &cp
	}
	return result
}

// IsHealthy reports whether the last check of nodeID succeeded. Nodes not
// checked yet are not healthy.
func (h *HealthMonitor) IsHealthy(nodeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, exists := h.nodes[nodeID]
	return exists && health.Status == cluster.HealthHealthy
}
