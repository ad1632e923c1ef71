package webapp

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/storage"
	"github.com/google/uuid"
)

// State is the lifecycle state of a webapp on one node.
type State string

const (
	StateStarting State = cluster.StateStarting
	StateStarted  State = cluster.StateStarted
	StateStopped  State = cluster.StateStopped
)

// Webapp is one application deployed on a node under a virtual host.
// Each webapp owns its sessions and request counters.
type Webapp struct {
	Context  string           // Context name, "/shop##42"
	Path     string           // URL path, "/shop"
	Version  string           // Version after "##", empty when unversioned
	VHost    string           // Virtual host the webapp is bound to
	Artifact storage.Artifact // Artifact it was deployed from
	Stats    *Stats

	mu       sync.RWMutex
	state    State
	sessions map[string]time.Time
}

// Stats tracks operational counters for a webapp
type Stats struct {
	Requests        uint64 `json:"requests"`
	SessionsCreated uint64 `json:"sessions_created"`
	SessionsExpired uint64 `json:"sessions_expired"`
}

// Info is a point-in-time snapshot of a webapp.
type Info struct {
	Context  string           `json:"context"`
	Path     string           `json:"path"`
	Version  string           `json:"version,omitempty"`
	VHost    string           `json:"vhost"`
	State    State            `json:"state"`
	Sessions int              `json:"sessions"`
	Artifact storage.Artifact `json:"artifact"`
	Stats    Stats            `json:"stats"`
}

// SplitContext splits a context name into its URL path and version:
//
//	/shop##42 -> /shop, 42
//	/##7      -> /, 7
//	/shop     -> /shop, ""
func SplitContext(context string) (path, version string) {
	path = context
	if i := strings.Index(context, "##"); i >= 0 {
		path, version = context[:i], context[i+2:]
	}
	if path == "" {
		path = "/"
	}
	return path, version
}

// New creates a webapp in the STARTING state.
func New(context, vhost string, artifact storage.Artifact) *Webapp {
	path, version := SplitContext(context)
	return &Webapp{
		Context:  context,
		Path:     path,
		Version:  version,
		VHost:    vhost,
		Artifact: artifact,
		Stats:    &Stats{},
		state:    StateStarting,
		sessions: make(map[string]time.Time),
	}
}

// State returns the current lifecycle state.
func (w *Webapp) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// SetState moves the webapp to s. Any transition is allowed; the node agent
// decides which ones make sense.
func (w *Webapp) SetState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

// OpenSession creates a session and returns its ID. Only a STARTED webapp
// accepts sessions; ok is false otherwise.
func (w *Webapp) OpenSession(now time.Time) (id string, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateStarted {
		return "", false
	}
	id = uuid.NewString()
	w.sessions[id] = now
	atomic.AddUint64(&w.Stats.SessionsCreated, 1)
	return id, true
}

// ExpireSessions drops every session and returns how many there were.
func (w *Webapp) ExpireSessions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.sessions)
	w.sessions = make(map[string]time.Time)
	atomic.AddUint64(&w.Stats.SessionsExpired, uint64(n))
	return n
}

// ActiveSessions returns the number of open sessions.
func (w *Webapp) ActiveSessions() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.sessions)
}

// Serve counts one request against the webapp.
func (w *Webapp) Serve() {
	atomic.AddUint64(&w.Stats.Requests, 1)
}

// Info returns a consistent snapshot of the webapp for JSON output.
func (w *Webapp) Info() Info {
	w.mu.RLock()
	state, sessions := w.state, len(w.sessions)
	w.mu.RUnlock()

	return Info{
		Context:  w.Context,
		Path:     w.Path,
		Version:  w.Version,
		VHost:    w.VHost,
		State:    state,
		Sessions: sessions,
		Artifact: w.Artifact,
		Stats: Stats{
			Requests:        atomic.LoadUint64(&w.Stats.Requests),
			SessionsCreated: atomic.LoadUint64(&w.Stats.SessionsCreated),
			SessionsExpired: atomic.LoadUint64(&w.Stats.SessionsExpired),
		},
	}
}

// Status converts the webapp into the wire form node agents report.
func (w *Webapp) Status() cluster.NodeWebapp {
	info := w.Info()
	return cluster.NodeWebapp{
		Context:   info.Context,
		Path:      info.Path,
		Version:   info.Version,
		VHost:     info.VHost,
		StateName: string(info.State),
		Sessions:  info.Sessions,
	}
}
