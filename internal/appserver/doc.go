// Package appserver implements the node agent: an application-server
// emulation that the coordinator's cluster client drives over HTTP.
//
// A Server keeps, per virtual host, the webapps deployed on one node, the
// artifacts they were deployed from, and a small memory model of the
// server JVM. It exposes exactly the operations the deployer needs:
//
//	status                  list webapps with path, version and state
//	deploy                  upload an artifact and start a webapp
//	undeploy                remove one context
//	undeploy_old_versions   retire superseded versions without sessions
//	expire_sessions         drop every session of one context
//	find_pools_over         memory pools above a usage percentage
//	run_gc                  reclaim garbage in every pool
//
// # Lifecycle
//
// A deployed webapp is STARTING for Options.StartDelay, then STARTED. An
// empty artifact never starts and ends up STOPPED, which is how a broken
// build shows up to the deployer's convergence wait.
//
// # Memory model
//
// Every pool tracks live and garbage bytes. Deploying a webapp adds
// Options.AppFootprint live bytes to the heap pool; undeploying turns them
// into garbage; run_gc drops all garbage. Usage is (live+garbage)/max.
//
// # Metrics
//
// Each Server has its own Prometheus registry served on /metrics, so tests
// and demos can run many agents in one process.
//
// # Architecture
//
//	┌──────────────────────────────────────┐
//	│             NODE AGENT               │
//	├──────────────────────────────────────┤
//	│  chi router (Routes)                 │
//	│    /deploy   /commands/{name}        │
//	│    /status   /sessions   /metrics    │
//	│                 │                    │
//	│  ┌──────────────▼───────────────┐    │
//	│  │ Server                       │    │
//	│  │  vhost → context → Webapp    │    │
//	│  │  start timers                │    │
//	│  └───────┬──────────────┬───────┘    │
//	│          │              │            │
//	│  ┌───────▼──────┐ ┌─────▼────────┐   │
//	│  │ MemoryStore  │ │ memory pools │   │
//	│  │ artifacts    │ │ live/garbage │   │
//	│  └──────────────┘ └──────────────┘   │
//	└──────────────────────────────────────┘
//
// # Version Retirement
//
// undeploy_old_versions groups the contexts of one virtual host by path.
// In every group with more than one context, each context except the
// greatest is undeployed unless it still has active sessions. The result
// lists the retired contexts in Affected and names the ones kept alive by
// sessions in its message.
//
// # Errors
//
// ErrBadArgs and ErrUnknownCommand are returned for requests the agent
// cannot interpret; the HTTP layer maps them to 400 and 404. Refusals that
// are part of normal operation, such as undeploying a missing context,
// come back as a CommandResult with OK false and status 200.
//
// # Thread Safety
//
// Server is safe for concurrent use. The webapp map is guarded by an
// RWMutex, and each webapp guards its own state.
//
// # Example
//
//	srv := appserver.New(appserver.Options{Name: "node-1", StartDelay: time.Second})
//	defer srv.Close()
//	res, err := srv.Deploy("/shop##042", "localhost", "shop##042.war", f)
//	if err != nil {
//		return err
//	}
//	fmt.Println(res.OK, srv.Status().Webapps)
package appserver
