package deployer

import (
	"context"
	"log/slog"
	"sort"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/logging"
	"golang.org/x/exp/slices"
)

// ClusterView is built from one status snapshot and never mutated or reused
// across reads.
type ClusterView struct {
	// ByContext is the aggregated status of every context.
	ByContext map[string]cluster.AppStatus `json:"by_context"`

	// ByPath maps the aggregated path to the contexts serving it. Contexts
	// missing on some node have no aggregated path and sit under "".
	ByPath map[string][]string `json:"by_path"`

	// ByPathAllNodes maps every per-node path to the contexts serving it on
	// at least one node.
	ByPathAllNodes map[string][]string `json:"by_path_all_nodes"`
}

// NewClusterView derives the three maps from an aggregated snapshot. Context
// lists are sorted.
func NewClusterView(stats map[string]cluster.AppStatus) *ClusterView {
	v := &ClusterView{
		ByContext:      stats,
		ByPath:         make(map[string][]string),
		ByPathAllNodes: make(map[string][]string),
	}
	for name, st := range stats {
		v.ByPath[st.Path] = append(v.ByPath[st.Path], name)
		for _, d := range st.Nodes {
			if !slices.Contains(v.ByPathAllNodes[d.Path], name) {
				v.ByPathAllNodes[d.Path] = append(v.ByPathAllNodes[d.Path], name)
			}
		}
	}
	for _, m := range []map[string][]string{v.ByPath, v.ByPathAllNodes} {
		for _, ctxs := range m {
			sort.Strings(ctxs)
		}
	}
	return v
}

// ServedBy returns the contexts coherently serving p, if any.
func (v *ClusterView) ServedBy(p string) []string {
	if p == "" {
		return nil
	}
	return v.ByPath[p]
}

// NodesServing returns the sorted union of nodes that serve p on their own.
func (v *ClusterView) NodesServing(p string) []string {
	var nodes []string
	for _, name := range v.ByPathAllNodes[p] {
		for node, d := range v.ByContext[name].Nodes {
			if d.Path == p && !slices.Contains(nodes, node) {
				nodes = append(nodes, node)
			}
		}
	}
	sort.Strings(nodes)
	return nodes
}

func (d *Deployer) readStatus(ctx context.Context, contextFilter, vhost string) (*ClusterView, error) {
	stats, err := d.client.QueryStatus(ctx, contextFilter, vhost)
	if err != nil {
		return nil, err
	}
	d.log.Debug("received cluster-wide application status", logging.Code(logging.CONVERGE),
		slog.Int("contexts", len(stats)), slog.String("vhost", vhost))
	return NewClusterView(stats), nil
}
