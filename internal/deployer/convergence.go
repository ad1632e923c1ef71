package deployer

import (
	"context"
	"sort"
	"time"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/logging"
)

// awaitConvergence polls cluster status until every unit's context is
// coherent and STARTED, or DeployWait worth of sleep has accumulated. It
// returns the sorted contexts that had not converged at the last read.
//
// Status is read once up front and once after every sleep, so the final
// read happens at the deadline. Time spent inside status reads does not
// count against DeployWait.
func (d *Deployer) awaitConvergence(ctx context.Context, units []Unit, vhost string) ([]string, error) {
	code := logging.Code(logging.CONVERGE)
	d.log.Info("waiting for webapps to become available on all nodes", code, "deploy_wait", d.cfg.DeployWait)

	var waited time.Duration
	for {
		view, err := d.readStatus(ctx, "*", vhost)
		if err != nil {
			return nil, err
		}
		convergencePollsMetric.Inc()

		failed := d.notConverged(view, units)
		if len(failed) == 0 {
			return nil, nil
		}
		if waited >= d.cfg.DeployWait {
			return failed, nil
		}

		if err := d.sleep(ctx, d.cfg.PollInterval); err != nil {
			return nil, err
		}
		waited += d.cfg.PollInterval
	}
}

func (d *Deployer) notConverged(view *ClusterView, units []Unit) []string {
	var failed []string
	for _, u := range units {
		st, ok := view.ByContext[u.Context]
		if !ok {
			d.log.Info("context not visible yet", logging.Code(logging.CONVERGE), "context", u.Context)
			failed = append(failed, u.Context)
			continue
		}
		d.log.Info("context state", logging.Code(logging.CONVERGE),
			"context", u.Context, "state", st.StateName, "coherent", st.Coherent, "nodes", st.PresentOn)
		if !st.Coherent || st.StateName != cluster.StateStarted {
			failed = append(failed, u.Context)
		}
	}
	sort.Strings(failed)
	return failed
}
