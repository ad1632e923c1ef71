package coordinator

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/fleetwar/internal/cluster"
)

// ErrInvalidNode is returned by Register for a node without ID or address.
var ErrInvalidNode = errors.New("node id and addr are required")

// NodeRegistry holds the application-server nodes that registered with the
// coordinator. Its Nodes method is the node source of the cluster client,
// so every deploy targets the nodes registered at the time of the call.
//
// Thread-safe: all methods may be called concurrently.
type NodeRegistry struct {
	mu    sync.RWMutex
	nodes map[string]cluster.NodeInfo
}

// NewNodeRegistry creates an empty registry.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{nodes: make(map[string]cluster.NodeInfo)}
}

// Register adds a node or updates the address of a known one. It reports
// whether the node was new. Re-registration resets health to unknown.
//
// Example:
//
//	isNew, err := reg.Register(cluster.NodeInfo{ID: "node-1", Addr: "http://10.0.0.5:8081"})
func (r *NodeRegistry) Register(n cluster.NodeInfo) (bool, error) {
	n.ID = strings.TrimSpace(n.ID)
	n.Addr = strings.TrimRight(strings.TrimSpace(n.Addr), "/")
	if n.ID == "" || n.Addr == "" {
		return false, ErrInvalidNode
	}
	n.HealthStatus = cluster.HealthUnknown
	n.LastHealthCheck = time.Time{}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, known := r.nodes[n.ID]
	r.nodes[n.ID] = n
	return !known, nil
}

// Remove forgets a node. No error if it is not registered.
func (r *NodeRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, id)
}

// Get returns the node registered under id and whether it exists.
func (r *NodeRegistry) Get(id string) (cluster.NodeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.nodes[id]
	return n, ok
}

// Nodes returns every registered node sorted by ID.
func (r *NodeRegistry) Nodes() []cluster.NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]cluster.NodeInfo, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetHealth records the outcome of a health check.
func (r *NodeRegistry) SetHealth(id, status string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return
	}
	n.HealthStatus = status
	n.LastHealthCheck = at
	r.nodes[id] = n
}

// Unhealthy returns the IDs of nodes currently marked unhealthy.
func (r *NodeRegistry) Unhealthy() []string {
	var out []string
	for _, n := range r.Nodes() {
		if n.HealthStatus == cluster.HealthUnhealthy {
			out = append(out, n.ID)
		}
	}
	return out
}
