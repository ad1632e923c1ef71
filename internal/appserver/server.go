package appserver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/logging"
	"github.com/dreamware/fleetwar/internal/storage"
	"github.com/dreamware/fleetwar/internal/webapp"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ErrUnknownCommand is returned by Exec for command names the agent
	// does not implement.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrBadArgs is returned by Exec when a command gets the wrong arguments.
	ErrBadArgs = errors.New("bad command arguments")
)

// Options configures a node agent.
type Options struct {
	// Name identifies the node in status and command results.
	Name string

	// StartDelay is how long a new webapp stays STARTING.
	StartDelay time.Duration

	// AppFootprint is the heap each deployed webapp keeps live.
	AppFootprint int64

	// MaxArtifactSize bounds one upload; zero means unbounded.
	MaxArtifactSize int64

	// Pools describes the emulated memory pools; nil means DefaultPools.
	Pools []PoolConfig

	Logger *slog.Logger
}

// Server is an application-server node agent. It keeps the webapps deployed
// per virtual host, their artifacts, and an emulated memory model, and
// serves the command surface the cluster client drives.
type Server struct {
	opts  Options
	log   *slog.Logger
	store storage.Store
	mem   *memory

	mu     sync.RWMutex
	apps   map[string]map[string]*webapp.Webapp // vhost -> context -> webapp
	timers map[*webapp.Webapp]*time.Timer

	registry *prometheus.Registry
	commands *prometheus.CounterVec
}

// New creates a node agent with no webapps deployed. Zero-valued options
// get defaults: slog.Default for Logger, DefaultPools for Pools and 64 MiB
// for AppFootprint.
//
// Example:
//
//	srv := appserver.New(appserver.Options{
//		Name:       "node-1",
//		StartDelay: 2 * time.Second,
//	})
//	defer srv.Close()
//	http.ListenAndServe(":8081", srv.Routes())
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Pools == nil {
		opts.Pools = DefaultPools()
	}
	if opts.AppFootprint == 0 {
		opts.AppFootprint = 64 << 20
	}
	s := &Server{
		opts:   opts,
		log:    opts.Logger.With("node", opts.Name),
		store:  storage.NewMemoryStore(opts.MaxArtifactSize),
		mem:    newMemory(opts.Pools),
		apps:   make(map[string]map[string]*webapp.Webapp),
		timers: make(map[*webapp.Webapp]*time.Timer),
	}
	s.registry, s.commands = newMetrics(s)
	return s
}

// Name returns the node ID given in Options.
func (s *Server) Name() string { return s.opts.Name }

// Close stops pending webapp start timers.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for w, t := range s.timers {
		t.Stop()
		delete(s.timers, w)
	}
}

// Status lists every webapp on every virtual host, sorted by vhost then
// context.
func (s *Server) Status() cluster.NodeStatus {
	apps := s.all()
	out := cluster.NodeStatus{Node: s.opts.Name, Webapps: make([]cluster.NodeWebapp, 0, len(apps))}
	for _, w := range apps {
		out.Webapps = append(out.Webapps, w.Status())
	}
	return out
}

// Webapps returns detailed snapshots, including artifact metadata.
func (s *Server) Webapps() []webapp.Info {
	apps := s.all()
	out := make([]webapp.Info, 0, len(apps))
	for _, w := range apps {
		out = append(out, w.Info())
	}
	return out
}

func (s *Server) all() []*webapp.Webapp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*webapp.Webapp
	for _, byCtx := range s.apps {
		for _, w := range byCtx {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VHost != out[j].VHost {
			return out[i].VHost < out[j].VHost
		}
		return out[i].Context < out[j].Context
	})
	return out
}

func (s *Server) lookup(context, vhost string) *webapp.Webapp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apps[vhost][context]
}

// Deploy stores the artifact read from body and starts a webapp for it.
// A context that already exists on vhost is refused, not replaced.
//
// Parameters:
//   - context: Webapp context, starting with "/"
//   - vhost: Virtual host; empty means localhost
//   - filename: Original artifact name, kept in the artifact metadata
//   - body: Artifact bytes; an empty body deploys a webapp that never starts
//
// Returns:
//   - A result with OK set and the context in Affected on success
//   - A refusal (OK false) when the context already exists
//   - ErrBadArgs for a malformed context, or the storage error for a
//     rejected upload
//
// The webapp is STARTING until Options.StartDelay elapses.
func (s *Server) Deploy(context, vhost, filename string, body io.Reader) (cluster.CommandResult, error) {
	code := logging.Code(logging.DEPLOY)
	if context == "" || !strings.HasPrefix(context, "/") {
		return cluster.CommandResult{}, fmt.Errorf("%w: context %q must start with /", ErrBadArgs, context)
	}
	if vhost == "" {
		vhost = "localhost"
	}
	if s.lookup(context, vhost) != nil {
		return s.result(false, fmt.Sprintf("context %s already exists on %s", context, vhost)), nil
	}

	meta, err := s.store.Put(storeKey(context, vhost), filename, body)
	if err != nil {
		return cluster.CommandResult{}, err
	}

	w := webapp.New(context, vhost, meta)
	s.mu.Lock()
	if s.apps[vhost] == nil {
		s.apps[vhost] = make(map[string]*webapp.Webapp)
	}
	if _, dup := s.apps[vhost][context]; dup {
		s.mu.Unlock()
		_ = s.store.Delete(storeKey(context, vhost))
		return s.result(false, fmt.Sprintf("context %s already exists on %s", context, vhost)), nil
	}
	s.apps[vhost][context] = w
	s.mu.Unlock()

	s.mem.allocate(s.opts.AppFootprint)
	s.log.Info("webapp deployed", code, "context", context, "vhost", vhost, "bytes", meta.Size, "sha256", meta.SHA256)

	if s.opts.StartDelay <= 0 {
		s.start(w)
	} else {
		s.mu.Lock()
		s.timers[w] = time.AfterFunc(s.opts.StartDelay, func() { s.start(w) })
		s.mu.Unlock()
	}

	res := s.result(true, "deployed "+context)
	res.Affected = []string{context}
	return res, nil
}

// start moves w out of STARTING. An empty artifact cannot start.
func (s *Server) start(w *webapp.Webapp) {
	s.mu.Lock()
	delete(s.timers, w)
	s.mu.Unlock()

	if w.State() != webapp.StateStarting {
		return
	}
	if w.Artifact.Size == 0 {
		w.SetState(webapp.StateStopped)
		s.log.Warn("webapp failed to start", logging.Code(logging.DEPLOY), "context", w.Context, "reason", "empty artifact")
		return
	}
	w.SetState(webapp.StateStarted)
	s.log.Info("webapp started", logging.Code(logging.DEPLOY), "context", w.Context, "vhost", w.VHost)
}

// Undeploy removes a webapp and its artifact. Its heap footprint becomes
// garbage until the next GC.
func (s *Server) Undeploy(context, vhost string) cluster.CommandResult {
	s.mu.Lock()
	w := s.apps[vhost][context]
	if w != nil {
		delete(s.apps[vhost], context)
		if len(s.apps[vhost]) == 0 {
			delete(s.apps, vhost)
		}
		if t, ok := s.timers[w]; ok {
			t.Stop()
			delete(s.timers, w)
		}
	}
	s.mu.Unlock()

	if w == nil {
		return s.result(false, fmt.Sprintf("no context %s on %s", context, vhost))
	}

	w.SetState(webapp.StateStopped)
	_ = s.store.Delete(storeKey(context, vhost))
	s.mem.release(s.opts.AppFootprint)
	s.log.Info("webapp undeployed", logging.Code(logging.UNDEPLOY), "context", context, "vhost", vhost)

	res := s.result(true, "undeployed "+context)
	res.Affected = []string{context}
	return res
}

// UndeployOldVersions retires, for every path on vhost served by more than
// one context, each context other than the greatest one that has no active
// sessions. Versions still holding sessions are left in place.
func (s *Server) UndeployOldVersions(vhost string) cluster.CommandResult {
	byPath := make(map[string][]*webapp.Webapp)
	for _, w := range s.all() {
		if w.VHost == vhost {
			byPath[w.Path] = append(byPath[w.Path], w)
		}
	}

	var retired, kept []string
	for _, group := range byPath {
		if len(group) < 2 {
			continue
		}
		// all() returns contexts sorted, so the last one is the latest.
		for _, w := range group[:len(group)-1] {
			if w.ActiveSessions() > 0 {
				kept = append(kept, w.Context)
				continue
			}
			if r := s.Undeploy(w.Context, vhost); r.OK {
				retired = append(retired, w.Context)
			}
		}
	}
	sort.Strings(retired)
	sort.Strings(kept)

	res := s.result(true, fmt.Sprintf("retired %d old versions", len(retired)))
	if len(kept) > 0 {
		res.Message += "; sessions still active on " + strings.Join(kept, ", ")
	}
	res.Affected = retired
	return res
}

// ExpireSessions drops every session of a webapp.
func (s *Server) ExpireSessions(context, vhost string) cluster.CommandResult {
	w := s.lookup(context, vhost)
	if w == nil {
		return s.result(false, fmt.Sprintf("no context %s on %s", context, vhost))
	}
	n := w.ExpireSessions()
	s.log.Info("sessions expired", logging.Code(logging.CONFLICT), "context", context, "count", n)
	res := s.result(true, fmt.Sprintf("expired %d sessions", n))
	res.Affected = []string{context}
	return res
}

// FindPoolsOver reports the memory pools used above pct percent.
func (s *Server) FindPoolsOver(pct float64) cluster.CommandResult {
	res := s.result(true, "")
	res.Pools = s.mem.over(pct)
	return res
}

// RunGC reclaims all garbage in every pool.
func (s *Server) RunGC() cluster.CommandResult {
	freed := s.mem.collect()
	s.log.Info("garbage collected", logging.Code(logging.MEMORY), "bytes", freed)
	return s.result(true, fmt.Sprintf("reclaimed %d bytes", freed))
}

// OpenSession opens a session on a started webapp.
func (s *Server) OpenSession(context, vhost string) (string, error) {
	w := s.lookup(context, vhost)
	if w == nil {
		return "", fmt.Errorf("no context %s on %s", context, vhost)
	}
	id, ok := w.OpenSession(time.Now())
	if !ok {
		return "", fmt.Errorf("context %s is %s", context, w.State())
	}
	w.Serve()
	return id, nil
}

// Exec runs a named command with positional arguments, the way the cluster
// client addresses nodes:
//
//	undeploy               context vhost
//	undeploy_old_versions  vhost
//	expire_sessions        context vhost
//	find_pools_over        percentage
//	run_gc
//
// Returns ErrUnknownCommand for any other name and ErrBadArgs when the
// arguments do not match. Every call is counted by name and result.
func (s *Server) Exec(name string, args []string) (res cluster.CommandResult, err error) {
	defer func() {
		ok := strconv.FormatBool(err == nil && res.OK)
		s.commands.WithLabelValues(name, ok).Inc()
	}()

	switch name {
	case cluster.CmdUndeploy:
		if len(args) != 2 {
			return res, fmt.Errorf("%w: undeploy expects context and vhost", ErrBadArgs)
		}
		return s.Undeploy(args[0], args[1]), nil
	case cluster.CmdUndeployOldVersions:
		if len(args) != 1 {
			return res, fmt.Errorf("%w: undeploy_old_versions expects vhost", ErrBadArgs)
		}
		return s.UndeployOldVersions(args[0]), nil
	case cluster.CmdExpireSessions:
		if len(args) != 2 {
			return res, fmt.Errorf("%w: expire_sessions expects context and vhost", ErrBadArgs)
		}
		return s.ExpireSessions(args[0], args[1]), nil
	case cluster.CmdFindPoolsOver:
		if len(args) != 1 {
			return res, fmt.Errorf("%w: find_pools_over expects a percentage", ErrBadArgs)
		}
		pct, perr := strconv.ParseFloat(args[0], 64)
		if perr != nil {
			return res, fmt.Errorf("%w: %v", ErrBadArgs, perr)
		}
		return s.FindPoolsOver(pct), nil
	case cluster.CmdRunGC:
		return s.RunGC(), nil
	default:
		return res, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
}

func (s *Server) result(ok bool, msg string) cluster.CommandResult {
	return cluster.CommandResult{Node: s.opts.Name, OK: ok, Message: msg}
}

func storeKey(context, vhost string) string {
	return vhost + context
}
