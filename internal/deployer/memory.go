package deployer

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/logging"
	"golang.org/x/exp/slices"
)

// ensureCapacity makes sure no node has a non-noise pool used above
// 100-RequiredFreeMemPct percent, running GC on offenders when allowed.
func (d *Deployer) ensureCapacity(ctx context.Context) error {
	code := logging.Code(logging.MEMORY)
	threshold := 100 - d.cfg.RequiredFreeMemPct
	d.log.Info("checking that all cluster nodes have enough free memory", code,
		"required_free_pct", d.cfg.RequiredFreeMemPct)

	offenders, err := d.poolsOver(ctx, threshold)
	if err != nil {
		return err
	}
	if len(offenders) == 0 {
		return nil
	}

	memErr := &InsufficientMemoryError{Nodes: offenders, ThresholdPc: threshold}
	hosts := memErr.NodeIDs()
	d.log.Info("nodes do not have enough memory", code, "nodes", hosts)

	if !d.cfg.AutoGC {
		d.log.Error(memErr.Error(), code)
		return memErr
	}

	d.log.Info("running GC", code, "nodes", hosts)
	gcRunsMetric.Inc()
	results, err := d.client.RunCommand(ctx, cluster.Command{Name: cluster.CmdRunGC}, hosts...)
	if err != nil {
		return err
	}
	d.logRefusals(code, cluster.CmdRunGC, results)

	d.log.Info("waiting for memory to become available", code, "gc_wait", d.cfg.GCWait)
	var waited time.Duration
	for waited < d.cfg.GCWait {
		if err := d.sleep(ctx, d.cfg.PollInterval); err != nil {
			return err
		}
		waited += d.cfg.PollInterval

		offenders, err = d.poolsOver(ctx, threshold, hosts...)
		if err != nil {
			return err
		}
		if len(offenders) == 0 {
			d.log.Info("memory reclaimed", code, "waited", waited)
			return nil
		}
	}

	memErr = &InsufficientMemoryError{Nodes: offenders, ThresholdPc: threshold, GCAttempted: true}
	d.log.Error("unable to reclaim memory by running GC", code, "nodes", memErr.NodeIDs())
	return memErr
}

// poolsOver asks hosts (all nodes when empty) for pools above thresholdPct
// and keeps the nodes that still have one after dropping noise pools.
func (d *Deployer) poolsOver(ctx context.Context, thresholdPct int, hosts ...string) (map[string][]cluster.PoolUsage, error) {
	cmd := cluster.Command{Name: cluster.CmdFindPoolsOver, Args: []string{strconv.Itoa(thresholdPct)}}
	results, err := d.client.RunCommand(ctx, cmd, hosts...)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]cluster.PoolUsage)
	for node, res := range results {
		var pools []cluster.PoolUsage
		for _, p := range res.Pools {
			if !slices.Contains(d.cfg.NoisePools, p.Pool) {
				pools = append(pools, p)
			}
		}
		if len(pools) > 0 {
			sort.Slice(pools, func(i, j int) bool { return pools[i].Pool < pools[j].Pool })
			out[node] = pools
		}
	}
	d.log.Debug("hosts with low memory", logging.Code(logging.MEMORY), "count", len(out))
	return out, nil
}
