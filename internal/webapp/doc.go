// Package webapp models one application deployed on a node agent.
//
// A Webapp is identified by its context name. Parallel deployment encodes
// the version into the context with a "##" separator, so several versions
// of the same URL path can be deployed side by side:
//
//	/shop##041  path /shop  version 041
//	/shop##042  path /shop  version 042
//
// # Lifecycle
//
//	STARTING ──start delay──▶ STARTED
//	    │
//	    └──── start failure ──▶ STOPPED
//
// Only STARTED webapps accept new sessions. The node agent retires an old
// version only when it has no active sessions left, which is why sessions
// are tracked per webapp rather than per node.
//
// # Concurrency
//
// State and sessions are guarded by an RWMutex; request and session
// counters use atomic operations so Serve never blocks on the lock.
//
// # Sessions
//
// OpenSession succeeds only on a STARTED webapp and returns a random ID.
// ExpireSessions drops every session at once and reports how many were
// open; the deployer uses it to force retirement of an old version.
//
// # Snapshots
//
// Info and Status copy state out under the lock. Info carries artifact
// metadata and counters for operators; Status is the compact form a node
// reports to the coordinator.
//
// # Example
//
//	w := webapp.New("/shop##042", "localhost", meta)
//	w.SetState(webapp.StateStarted)
//	id, ok := w.OpenSession(time.Now())
package webapp
