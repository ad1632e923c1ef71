package deployer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/logging"
)

// latestContext returns the greatest context by plain string comparison.
// The application server picks the serving version the same way, so
// "/app##v9" beats "/app##v10".
func latestContext(contexts []string) string {
	sorted := append([]string(nil), contexts...)
	sort.Strings(sorted)
	return sorted[len(sorted)-1]
}

// olderVersions returns every context but the latest one.
func olderVersions(contexts []string) []string {
	sorted := append([]string(nil), contexts...)
	sort.Strings(sorted)
	return sorted[:len(sorted)-1]
}

// checkAndResolve fails when a unit collides with what the cluster already
// serves, and retires superseded versions so that at most one existing
// version remains next to each new one.
func (d *Deployer) checkAndResolve(ctx context.Context, units []Unit, vhost string) error {
	view, err := d.readStatus(ctx, "*", vhost)
	if err != nil {
		return err
	}

	for _, u := range units {
		if st, ok := view.ByContext[u.Context]; ok {
			return &ContextCollisionError{Context: u.Context, Nodes: st.PresentOn}
		}

		all, served := view.ByPathAllNodes[u.Path]
		if !served {
			continue
		}
		if !u.Versioned() {
			return &PathCollisionError{Path: u.Path, Contexts: all}
		}

		existing := view.ServedBy(u.Path)
		if len(existing) == 0 {
			return &PartialDeploymentError{Path: u.Path, Contexts: all, Nodes: view.NodesServing(u.Path)}
		}

		latest := latestContext(append([]string{u.Context}, existing...))
		if latest != u.Context {
			return &SupersededError{Context: u.Context, Newer: latest, Path: u.Path}
		}

		old := olderVersions(existing)
		if len(old) == 0 {
			d.log.Info("new version will run next to the current one", logging.Code(logging.CONFLICT),
				"context", u.Context, "current", existing[0])
			continue
		}
		if err := d.retireOldVersions(ctx, u.Path, old, vhost); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deployer) retireOldVersions(ctx context.Context, path string, old []string, vhost string) error {
	code := logging.Code(logging.CONFLICT)
	if d.cfg.KillSessions {
		for _, app := range old {
			d.log.Info("forcefully expiring sessions", code, "context", app)
			if _, err := d.client.RunCommand(ctx, cluster.Command{Name: cluster.CmdExpireSessions, Args: []string{app, vhost}}); err != nil {
				return err
			}
		}
	}

	d.log.Info("attempting to undeploy old versions across the cluster", code, "path", path, "old", old)
	results, err := d.client.RunCommand(ctx, cluster.Command{Name: cluster.CmdUndeployOldVersions, Args: []string{vhost}})
	if err != nil {
		return err
	}
	d.logRefusals(code, cluster.CmdUndeployOldVersions, results)

	view, err := d.readStatus(ctx, "*", vhost)
	if err != nil {
		return err
	}
	if remaining := view.ServedBy(path); len(remaining) > 1 {
		return &AmbiguousVersionsError{Path: path, Contexts: remaining}
	}
	d.log.Info("old versions successfully undeployed", code, "path", path)
	return nil
}

func (d *Deployer) logRefusals(code slog.Attr, command string, results map[string]cluster.CommandResult) {
	for node, res := range results {
		if !res.OK {
			d.log.Warn(fmt.Sprintf("%s refused by node", command), code, "node", node, "message", res.Message)
		}
	}
}
