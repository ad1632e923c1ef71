package cluster

import "context"

// Command names understood by node agents.
const (
	CmdDeploy              = "deploy"
	CmdUndeploy            = "undeploy"
	CmdUndeployOldVersions = "undeploy_old_versions"
	CmdExpireSessions      = "expire_sessions"
	CmdFindPoolsOver       = "find_pools_over"
	CmdRunGC               = "run_gc"
)

// Command is a named node command with positional arguments:
//
//	deploy(artifactRef, context, vhost)
//	undeploy(context, vhost)
//	undeploy_old_versions(vhost)
//	expire_sessions(context, vhost)
//	find_pools_over(thresholdPct)
//	run_gc()
type Command struct {
	Name string
	Args []string
}

// Client issues commands to the nodes of an application-server cluster and
// aggregates their answers. Transport failures are returned as errors;
// command-level failures are reported per node in CommandResult.
type Client interface {
	// QueryStatus returns the aggregated status of every context matching
	// appFilter on a virtual host matching vhostFilter. Both filters accept
	// path.Match wildcards, "*" matches everything.
	QueryStatus(ctx context.Context, appFilter, vhostFilter string) (map[string]AppStatus, error)

	// RunCommand runs cmd on hosts, or on every node when hosts is empty,
	// and returns the result keyed by node ID.
	RunCommand(ctx context.Context, cmd Command, hosts ...string) (map[string]CommandResult, error)

	// SetProgressCallback registers the receiver of progress events.
	SetProgressCallback(fn ProgressFunc)
}
