// Package deployer implements cluster-wide webapp deployment: it uploads
// WAR artifacts to every node of an application-server cluster, makes sure
// the new version does not clash with what is already served, and waits
// until every node runs it.
//
// # Overview
//
// A Deployer talks to the cluster only through cluster.Client: it reads the
// aggregated status, runs named commands on all or some nodes, and receives
// progress events. Everything else is policy kept here:
//
//   - conflict checks against what the cluster already serves, including
//     retirement of superseded parallel versions
//   - a free-memory guard with optional garbage collection
//   - a bounded convergence wait after upload
//   - best-effort rollback when the new version never comes up
//
// The coordinator binary builds one Deployer at startup and serializes
// requests to it. Tests build Deployers over a scripted fake client and a
// fake sleep function, so every wait in this package is deterministic.
//
// # Architecture
//
//	┌───────────────────────────────────────────┐
//	│                 DEPLOYER                  │
//	├───────────────────────────────────────────┤
//	│                                           │
//	│  ┌─────────────────────────────────────┐  │
//	│  │   Unit parsing                      │  │
//	│  │   - file name → context/path/ver    │  │
//	│  │   - batch validation                │  │
//	│  └─────────────────────────────────────┘  │
//	│                    │                      │
//	│  ┌─────────────────▼───────────────────┐  │
//	│  │   Conflict resolution               │  │
//	│  │   - ClusterView over QueryStatus    │  │
//	│  │   - undeploy_old_versions           │  │
//	│  │   - expire_sessions (KillSessions)  │  │
//	│  └─────────────────────────────────────┘  │
//	│                    │                      │
//	│  ┌─────────────────▼───────────────────┐  │
//	│  │   Memory guard                      │  │
//	│  │   - find_pools_over                 │  │
//	│  │   - run_gc and re-check (AutoGC)    │  │
//	│  └─────────────────────────────────────┘  │
//	│                    │                      │
//	│  ┌─────────────────▼───────────────────┐  │
//	│  │   Upload and convergence            │  │
//	│  │   - deploy on every node            │  │
//	│  │   - poll until STARTED everywhere   │  │
//	│  │   - rollback on failure             │  │
//	│  └─────────────────────────────────────┘  │
//	│                                           │
//	│  Dispatcher ◀── cluster progress events   │
//	└───────────────────────────────────────────┘
//
// # Core Components
//
// Unit: One artifact to deploy
//   - Built from a file name by ParseArtifact or ParseArtifacts
//   - "##" in the name marks a parallel-deployment version
//   - "#" in the name maps to "/" in the context
//   - ROOT maps to the root context "/"
//
// ClusterView: Aggregated status of one virtual host
//   - ByContext holds the coherent state of each context
//   - ByPath groups contexts that serve the same URL path
//   - ServedBy and NodesServing answer conflict questions
//
// Deployer: The orchestration core
//   - Deploy runs the whole pipeline for a batch of units
//   - Undeploy removes contexts from every node
//   - Status returns a ClusterView for one virtual host
//
// Dispatcher: Progress reporting
//   - Turns cluster.ProgressEvent values into structured log lines
//   - Fans events out to subscribers such as an HTTP stream
//
// Config: Tunables
//   - Loaded from YAML with LoadConfig, overridden by ApplyEnv
//   - Validate rejects out-of-range values before New accepts them
//
// # Deployment Pipeline
//
// Deploy processes one batch in fixed stages. The first failing stage ends
// the call:
//
// 1. Validation:
//   - Every unit has an artifact, a context and a path
//   - No two units in the batch share a context
//
// 2. Conflict resolution:
//   - A context that already exists anywhere is a ContextCollisionError
//   - An unversioned unit over a served path is a PathCollisionError
//   - A path served on only some nodes is a PartialDeploymentError
//   - A version older than the one served is a SupersededError
//   - When two versions are already served, the older ones are retired
//     with undeploy_old_versions so at most one remains next to the new
//     one; if sessions keep them alive this is an AmbiguousVersionsError
//     unless KillSessions expires those sessions first
//
// 3. Memory guard (CheckMemory):
//   - Every pool not in NoisePools must keep RequiredFreeMemPct free
//   - With AutoGC, nodes below the threshold collect garbage and are
//     re-checked every PollInterval until GCWait runs out
//
// 4. Upload:
//   - Each unit is streamed to every node
//   - Upload and command events reach the Dispatcher as they happen
//
// 5. Convergence:
//   - Status is polled every PollInterval
//   - Every attempted context must be STARTED on every node
//   - DeployWait bounds the accumulated sleep, not wall-clock time
//
// # Versions
//
// Versions are ordered by plain string comparison of their contexts, the
// same rule the application server uses to route new sessions. Operators
// zero-pad version numbers ("##041", "##042") so the two orders agree.
//
// # Rollback
//
// When UndeployOnError is set and a deploy fails after the upload started,
// every attempted context is undeployed from every node. The rollback runs
// on a context detached from the caller's cancellation and bounded by its
// own timeout, so a deploy that fails because its deadline expired still
// cleans up. Rollback failures are logged and never replace the original
// error.
//
// # Error Handling
//
// Failures are typed (see errors.go) and each matches one of the sentinel
// errors with errors.Is:
//
//	ErrConflict            ContextCollisionError, PathCollisionError,
//	                       PartialDeploymentError, SupersededError,
//	                       AmbiguousVersionsError
//	ErrInsufficientMemory  InsufficientMemoryError
//	ErrDeploymentFailed    DeploymentFailedError
//	ErrInvalidUnit         malformed artifacts or batches
//
// Kind maps an error to a short class name used in metrics, history
// records and HTTP responses. Transport errors from the client pass
// through unchanged.
//
// # Metrics
//
// Operations, failures by stage, rollbacks, GC runs and convergence polls
// are counted on the default Prometheus registry under the deployer_
// prefix.
//
// # Thread Safety
//
// A Deployer holds no per-operation state and may be shared, but two
// concurrent Deploy calls on the same virtual host race on the cluster
// itself. Callers serialize them. Dispatcher is safe for concurrent use.
//
// # Example
//
//	cfg, err := deployer.LoadConfig("deployer.yaml")
//	if err != nil {
//		return err
//	}
//	client := cluster.NewHTTPClient(registry.Nodes, 10*time.Minute)
//	d, err := deployer.New(client, cfg, deployer.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	units, err := deployer.ParseArtifacts([]string{"/builds/shop##042.war"})
//	if err != nil {
//		return err
//	}
//	if err := d.Deploy(ctx, units, ""); err != nil {
//		log.Error("deploy failed", "kind", deployer.Kind(err), "error", err)
//	}
package deployer
