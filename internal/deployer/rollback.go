package deployer

import (
	"context"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/logging"
)

// rollback undeploys contexts one by one and keeps going past failures.
// Failures are logged, never returned.
func (d *Deployer) rollback(ctx context.Context, contexts []string, vhost string) map[string]map[string]cluster.CommandResult {
	code := logging.Code(logging.ROLLBACK)
	rollbacksMetric.Inc()

	out := make(map[string]map[string]cluster.CommandResult, len(contexts))
	for _, name := range contexts {
		d.log.Info("rolling back", code, "context", name)
		res, err := d.client.RunCommand(ctx, cluster.Command{Name: cluster.CmdUndeploy, Args: []string{name, vhost}})
		if err != nil {
			d.log.Error("rollback of context failed", code, "context", name, "error", err)
		} else {
			d.logRefusals(code, cluster.CmdUndeploy, res)
		}
		out[name] = res
	}
	return out
}
