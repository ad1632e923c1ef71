// Package cluster defines how the deployer talks to the nodes of an
// application-server cluster: the wire types exchanged with node agents, the
// Client contract the orchestration core consumes, and HTTPClient, the
// implementation used by the coordinator.
//
// # Topology
//
// A coordinator drives every node directly:
//
//	              ┌──────────────┐
//	              │ Coordinator  │
//	              │  - Deployer  │
//	              │  - Registry  │
//	              │  - Health    │
//	              └──────┬───────┘
//	                     │ HTTP/JSON fan-out
//	      ┌──────────────┼──────────────┐
//	┌─────▼─────┐  ┌─────▼─────┐  ┌─────▼─────┐
//	│  Node 1   │  │  Node 2   │  │  Node 3   │
//	│ webapps   │  │ webapps   │  │ webapps   │
//	│ pools     │  │ pools     │  │ pools     │
//	└───────────┘  └───────────┘  └───────────┘
//
// # Status aggregation
//
// QueryStatus collects GET /status from every node and folds the listings
// with Aggregate. A context is coherent only when every node serves it with
// the same path and the same state. The aggregated Path is left empty when
// the context is missing on some node, which is how callers tell a partial
// deployment apart from a healthy one.
//
// # Commands
//
// RunCommand posts to /commands/{name} on each node, except deploy, which
// streams the artifact body to /deploy and reports UploadEvents while doing
// so. CommandStartEvent and CommandEndEvent bracket every per-node command.
//
// # Failure handling
//
// An unreachable node or a non-2xx answer fails the whole call with the
// first error seen; there are no retries at this layer. Command-level
// refusals (for example undeploying an unknown context) come back as a
// CommandResult with OK == false.
//
// # Core Components
//
// Client: The contract the deployer consumes
//   - QueryStatus aggregates the status of every node
//   - RunCommand runs a command on every node or on the given hosts
//   - SetProgressCallback receives upload and command events
//
// HTTPClient: Client over the node agents' HTTP API
//   - Reads the node list from a NodeSource on every call
//   - Fans requests out concurrently with errgroup
//   - Streams artifacts through a reader that reports upload progress
//
// JSONClient: Small JSON-over-HTTP helper
//   - Post and Get encode requests and decode answers
//   - Non-2xx answers become *HTTPError with the response body
//   - PostJSON and GetJSON use a shared client with a 30 second timeout;
//     long-running callers build their own JSONClient
//
// WriteJSON and WriteError: Handler helpers shared by every HTTP surface
//
// # Thread Safety
//
// HTTPClient is safe for concurrent use. The progress callback may be
// called from several goroutines at once and must synchronize itself.
//
// # Example
//
//	client := cluster.NewHTTPClient(registry.Nodes, 10*time.Minute)
//	client.SetProgressCallback(func(ev cluster.ProgressEvent) {
//		log.Debug("progress", "event", ev)
//	})
//	stats, err := client.QueryStatus(ctx, "*", "localhost")
package cluster
