package deployer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/logging"
)

// Stages of a deploy operation, used as the "stage" label of failure
// metrics.
const (
	StageConflictCheck = "conflict_check"
	StageMemoryCheck   = "memory_check"
	StageDeploying     = "deploying"
	StageConverging    = "converging"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Deployer drives deployments of webapp units across every node of a
// cluster. A Deployer is safe for sequential use; callers serialize
// concurrent operations against the same cluster.
type Deployer struct {
	client cluster.Client
	cfg    Config
	log    *slog.Logger
	sleep  SleepFunc
	events *Dispatcher
}

// Option configures a Deployer at construction time.
type Option func(*Deployer)

// WithLogger sets the logger used for every log line of the deployer and of
// its event dispatcher. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(d *Deployer) { d.log = log }
}

// WithSleep replaces the wall-clock sleep used between polls.
//
// Tests pass a recording sleeper so memory and convergence waits finish
// instantly while still counting the intervals they would have slept. The
// function must return ctx.Err() once ctx is done.
func WithSleep(fn SleepFunc) Option {
	return func(d *Deployer) { d.sleep = fn }
}

// New creates a Deployer that drives the cluster through client.
//
// The configuration is validated first; an invalid one is rejected before any
// node is contacted. The deployer's Dispatcher is registered as the client's
// progress callback, replacing any callback set earlier.
//
// Parameters:
//   - client: Cluster client used for every status read and command
//   - cfg: Deployment options, usually DefaultConfig() with overrides
//   - opts: Optional settings (WithLogger, WithSleep)
//
// Returns:
//   - A ready Deployer, or the validation error of cfg
//
// Example:
//
//	cfg := deployer.DefaultConfig()
//	cfg.DeployWait = time.Minute
//	d, err := deployer.New(cluster.NewHTTPClient(reg.Nodes, 0), cfg)
//	if err != nil {
//	    return err
//	}
func New(client cluster.Client, cfg Config, opts ...Option) (*Deployer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Deployer{
		client: client,
		cfg:    cfg,
		log:    slog.Default(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.events = NewDispatcher(d.log)
	client.SetProgressCallback(d.events.Dispatch)

	if cfg.AutoReboot {
		d.log.Warn("auto reboot is not supported and will be ignored", logging.Code(logging.SYSTEM))
	}
	return d, nil
}

// Config returns the options the deployer was created with.
func (d *Deployer) Config() Config { return d.cfg }

// Events returns the dispatcher receiving the client's progress events.
func (d *Deployer) Events() *Dispatcher { return d.events }

// Deploy installs units on every node under vhost and waits until each one
// is STARTED cluster-wide.
//
// Sequence:
//  1. Conflict check, which may retire superseded versions
//  2. Memory check with optional GC (when CheckMemory is set)
//  3. Upload of every unit to every node, in batch order
//  4. Convergence wait bounded by DeployWait
//
// When convergence fails and UndeployOnError is set, every attempted context
// is undeployed again before the DeploymentFailedError is returned. The same
// best-effort rollback runs when a transport error or the caller's context
// ends the deploy after the first upload; the rollback itself ignores the
// caller's cancellation.
//
// Parameters:
//   - ctx: Bounds the whole operation except the rollback
//   - units: Batch to deploy; must be non-empty with unique contexts
//   - vhost: Virtual host; empty means DefaultVHost
//
// Returns:
//   - nil when every unit converged
//   - ErrInvalidUnit for a malformed batch
//   - A conflict error (ErrConflict) from the conflict check
//   - *InsufficientMemoryError (ErrInsufficientMemory)
//   - *DeploymentFailedError (ErrDeploymentFailed) listing failed contexts
//   - Transport or context errors unchanged
//
// Example:
//
//	units, err := deployer.ParseArtifacts([]string{"build/shop##42.war"})
//	if err != nil {
//	    return err
//	}
//	if err := d.Deploy(ctx, units, ""); errors.Is(err, deployer.ErrConflict) {
//	    log.Printf("refused: %v", err)
//	}
func (d *Deployer) Deploy(ctx context.Context, units []Unit, vhost string) (err error) {
	if vhost == "" {
		vhost = DefaultVHost
	}
	start := time.Now()
	defer func() {
		durationMetric.WithLabelValues("deploy").Observe(time.Since(start).Seconds())
		operationsMetric.WithLabelValues("deploy", outcome(err)).Inc()
	}()

	if len(units) == 0 {
		return fmt.Errorf("%w: nothing to deploy", ErrInvalidUnit)
	}
	if err := checkBatch(units); err != nil {
		return err
	}

	code := logging.Code(logging.DEPLOY)
	d.log.Info("starting deployment", code, "contexts", contexts(units), "vhost", vhost)

	if err := d.checkAndResolve(ctx, units, vhost); err != nil {
		return d.fail(StageConflictCheck, err)
	}

	if d.cfg.CheckMemory {
		if err := d.ensureCapacity(ctx); err != nil {
			return d.fail(StageMemoryCheck, err)
		}
	}

	var attempted []string
	for _, u := range units {
		attempted = append(attempted, u.Context)
		res, err := d.client.RunCommand(ctx, cluster.Command{
			Name: cluster.CmdDeploy,
			Args: []string{u.Artifact, u.Context, vhost},
		})
		if err != nil {
			d.rollbackOnError(ctx, attempted, vhost)
			return d.fail(StageDeploying, err)
		}
		d.logRefusals(code, cluster.CmdDeploy, res)
	}

	failed, err := d.awaitConvergence(ctx, units, vhost)
	if err != nil {
		d.rollbackOnError(ctx, attempted, vhost)
		return d.fail(StageConverging, err)
	}
	if len(failed) > 0 {
		rolledBack := d.rollbackOnError(ctx, attempted, vhost)
		return d.fail(StageConverging, &DeploymentFailedError{Failed: failed, RolledBack: rolledBack})
	}

	d.log.Info("deployment succeeded", code, "contexts", contexts(units), "elapsed", time.Since(start))
	return nil
}

// Undeploy removes each context from every node, one undeploy command per
// context in the given order.
//
// A node refusing the command (unknown context, for instance) is not an error:
// the refusal is logged and shows up as OK == false in the results. A
// transport error stops the loop; the results gathered so far are returned
// with it.
//
// Returns:
//   - Results keyed by context, then by node ID
func (d *Deployer) Undeploy(ctx context.Context, names []string, vhost string) (results map[string]map[string]cluster.CommandResult, err error) {
	if vhost == "" {
		vhost = DefaultVHost
	}
	start := time.Now()
	defer func() {
		durationMetric.WithLabelValues("undeploy").Observe(time.Since(start).Seconds())
		operationsMetric.WithLabelValues("undeploy", outcome(err)).Inc()
	}()

	code := logging.Code(logging.UNDEPLOY)
	results = make(map[string]map[string]cluster.CommandResult, len(names))
	for _, name := range names {
		d.log.Info("undeploying", code, "context", name, "vhost", vhost)
		res, err := d.client.RunCommand(ctx, cluster.Command{Name: cluster.CmdUndeploy, Args: []string{name, vhost}})
		if err != nil {
			d.log.Error("undeploy failed", code, "context", name, "error", err)
			return results, err
		}
		d.logRefusals(code, cluster.CmdUndeploy, res)
		results[name] = res
	}
	return results, nil
}

// Status returns the current cluster view for vhost. Callers use it to
// inspect the cluster after a failed deployment. An empty vhost means
// DefaultVHost.
func (d *Deployer) Status(ctx context.Context, vhost string) (*ClusterView, error) {
	if vhost == "" {
		vhost = DefaultVHost
	}
	return d.readStatus(ctx, "*", vhost)
}

// rollbackTimeout bounds a rollback. Rollback runs detached from the
// deploy's context, which may already be cancelled or past its deadline.
var rollbackTimeout = 2 * time.Minute

// rollbackOnError undeploys attempted when UndeployOnError is set and
// reports whether it did.
//
// The caller's cancellation and deadline are dropped: a deploy that timed
// out still removes what it uploaded. Values carried by ctx are kept.
func (d *Deployer) rollbackOnError(ctx context.Context, attempted []string, vhost string) bool {
	if !d.cfg.UndeployOnError {
		d.log.Warn("leaving attempted contexts in place", logging.Code(logging.ROLLBACK), "contexts", attempted)
		return false
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	d.rollback(rctx, attempted, vhost)
	return true
}

func (d *Deployer) fail(stage string, err error) error {
	kind := Kind(err)
	failuresMetric.WithLabelValues(stage, kind).Inc()
	d.log.Error("deployment failed", logging.Code(logging.DEPLOY), "stage", stage, "kind", kind, "error", err)
	return err
}

func checkBatch(units []Unit) error {
	seen := make(map[string]bool, len(units))
	for _, u := range units {
		if u.Context == "" || u.Path == "" || u.Artifact == "" {
			return fmt.Errorf("%w: incomplete unit %+v", ErrInvalidUnit, u)
		}
		if seen[u.Context] {
			return fmt.Errorf("%w: context %s appears twice", ErrInvalidUnit, u.Context)
		}
		seen[u.Context] = true
	}
	return nil
}

func contexts(units []Unit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Context
	}
	return out
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	return "failure"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
