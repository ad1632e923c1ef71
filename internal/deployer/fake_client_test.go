package deployer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/logging"
	"github.com/stretchr/testify/require"
)

// call records one RunCommand invocation.
type call struct {
	cmd   cluster.Command
	hosts []string
}

// fakeClient is a scripted cluster.Client. Status reads pop from statuses
// and repeat the last entry once the script runs out.
type fakeClient struct {
	mu        sync.Mutex
	nodes     []string
	statuses  []map[string][]cluster.NodeWebapp
	reads     int
	calls     []call
	refused   []call
	onRun     func(cmd cluster.Command, hosts []string) (map[string]cluster.CommandResult, error)
	statusErr error
	progress  cluster.ProgressFunc
}

func newFakeClient(nodes ...string) *fakeClient {
	return &fakeClient{nodes: nodes}
}

// push appends one status snapshot to the script.
func (f *fakeClient) push(listings map[string][]cluster.NodeWebapp) {
	f.statuses = append(f.statuses, listings)
}

func (f *fakeClient) QueryStatus(ctx context.Context, appFilter, vhostFilter string) (map[string]cluster.AppStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	var cur map[string][]cluster.NodeWebapp
	if len(f.statuses) > 0 {
		i := f.reads
		if i >= len(f.statuses) {
			i = len(f.statuses) - 1
		}
		cur = f.statuses[i]
	}
	f.reads++
	return cluster.Aggregate(f.nodes, cur, appFilter, vhostFilter), nil
}

// RunCommand fails like a real transport when ctx is already done. Such
// calls are kept in refused, not in calls.
func (f *fakeClient) RunCommand(ctx context.Context, cmd cluster.Command, hosts ...string) (map[string]cluster.CommandResult, error) {
	f.mu.Lock()
	if err := ctx.Err(); err != nil {
		f.refused = append(f.refused, call{cmd: cmd, hosts: hosts})
		f.mu.Unlock()
		return nil, err
	}
	f.calls = append(f.calls, call{cmd: cmd, hosts: hosts})
	onRun := f.onRun
	f.mu.Unlock()
	if onRun != nil {
		return onRun(cmd, hosts)
	}
	return f.okResults(hosts), nil
}

func (f *fakeClient) SetProgressCallback(fn cluster.ProgressFunc) { f.progress = fn }

func (f *fakeClient) okResults(hosts []string) map[string]cluster.CommandResult {
	if len(hosts) == 0 {
		hosts = f.nodes
	}
	out := make(map[string]cluster.CommandResult, len(hosts))
	for _, h := range hosts {
		out[h] = cluster.CommandResult{Node: h, OK: true}
	}
	return out
}

// commandNames returns the names of every command run so far, in order.
func (f *fakeClient) commandNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, c := range f.calls {
		names = append(names, c.cmd.Name)
	}
	return names
}

func (f *fakeClient) callsOf(name string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.cmd.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// fakeSleeper records requested sleeps without waiting.
type fakeSleeper struct {
	slept []time.Duration
}

func (s *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.slept = append(s.slept, d)
	return nil
}

func (s *fakeSleeper) total() time.Duration {
	var t time.Duration
	for _, d := range s.slept {
		t += d
	}
	return t
}

// onAll lists the same webapps on every node.
func onAll(nodes []string, apps ...cluster.NodeWebapp) map[string][]cluster.NodeWebapp {
	out := make(map[string][]cluster.NodeWebapp, len(nodes))
	for _, n := range nodes {
		out[n] = append([]cluster.NodeWebapp(nil), apps...)
	}
	return out
}

func app(ctxName, path, state string) cluster.NodeWebapp {
	return cluster.NodeWebapp{Context: ctxName, Path: path, VHost: DefaultVHost, StateName: state}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Second
	cfg.DeployWait = 30 * time.Second
	cfg.GCWait = 10 * time.Second
	return cfg
}

func newTestDeployer(t *testing.T, client *fakeClient, cfg Config) (*Deployer, *fakeSleeper) {
	t.Helper()
	s := &fakeSleeper{}
	d, err := New(client, cfg, WithLogger(logging.Discard()), WithSleep(s.sleep))
	require.NoError(t, err)
	return d, s
}

func mustUnits(t *testing.T, files ...string) []Unit {
	t.Helper()
	units, err := ParseArtifacts(files)
	require.NoError(t, err)
	return units
}
