package deployer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// poolScript answers find_pools_over from a per-round table and records how
// many rounds were asked for.
type poolScript struct {
	rounds []map[string][]cluster.PoolUsage
	asked  int
}

func (p *poolScript) run(cmd cluster.Command, hosts []string) (map[string]cluster.CommandResult, error) {
	if cmd.Name != cluster.CmdFindPoolsOver {
		return map[string]cluster.CommandResult{}, nil
	}
	i := p.asked
	if i >= len(p.rounds) {
		i = len(p.rounds) - 1
	}
	p.asked++
	out := make(map[string]cluster.CommandResult)
	for node, pools := range p.rounds[i] {
		out[node] = cluster.CommandResult{Node: node, OK: true, Pools: pools}
	}
	return out, nil
}

var oldGenFull = []cluster.PoolUsage{{Pool: "Old Gen", PercentUsed: 91}}

func TestEnsureCapacityEnoughMemory(t *testing.T) {
	client := newFakeClient("a", "b")
	script := &poolScript{rounds: []map[string][]cluster.PoolUsage{{}}}
	client.onRun = script.run
	d, s := newTestDeployer(t, client, testConfig())

	require.NoError(t, d.ensureCapacity(context.Background()))
	assert.Equal(t, []string{cluster.CmdFindPoolsOver}, client.commandNames())
	assert.Equal(t, []string{"50"}, client.calls[0].cmd.Args)
	assert.Empty(t, s.slept)
}

func TestEnsureCapacityThreshold(t *testing.T) {
	client := newFakeClient("a")
	client.onRun = (&poolScript{rounds: []map[string][]cluster.PoolUsage{{}}}).run
	cfg := testConfig()
	cfg.RequiredFreeMemPct = 20
	d, _ := newTestDeployer(t, client, cfg)

	require.NoError(t, d.ensureCapacity(context.Background()))
	assert.Equal(t, []string{"80"}, client.calls[0].cmd.Args)
}

func TestEnsureCapacityIgnoresNoisePools(t *testing.T) {
	client := newFakeClient("a")
	client.onRun = (&poolScript{rounds: []map[string][]cluster.PoolUsage{{
		"a": {{Pool: "Par Eden Space", PercentUsed: 99}, {Pool: "Par Survivor Space", PercentUsed: 80}},
	}}}).run
	d, _ := newTestDeployer(t, client, testConfig())

	require.NoError(t, d.ensureCapacity(context.Background()))
	assert.NotContains(t, client.commandNames(), cluster.CmdRunGC)
}

func TestEnsureCapacityWithoutAutoGC(t *testing.T) {
	client := newFakeClient("a", "b")
	client.onRun = (&poolScript{rounds: []map[string][]cluster.PoolUsage{{"b": oldGenFull}}}).run
	cfg := testConfig()
	cfg.AutoGC = false
	d, s := newTestDeployer(t, client, cfg)

	err := d.ensureCapacity(context.Background())
	var memErr *InsufficientMemoryError
	require.ErrorAs(t, err, &memErr)
	assert.ErrorIs(t, err, ErrInsufficientMemory)
	assert.False(t, memErr.GCAttempted)
	assert.Equal(t, []string{"b"}, memErr.NodeIDs())
	assert.Equal(t, oldGenFull, memErr.Nodes["b"])
	assert.NotContains(t, client.commandNames(), cluster.CmdRunGC)
	assert.Empty(t, s.slept)
}

func TestEnsureCapacityGCReclaims(t *testing.T) {
	client := newFakeClient("a", "b", "c")
	client.onRun = (&poolScript{rounds: []map[string][]cluster.PoolUsage{
		{"a": oldGenFull, "c": oldGenFull},
		{},
	}}).run
	d, s := newTestDeployer(t, client, testConfig())

	require.NoError(t, d.ensureCapacity(context.Background()))
	assert.Equal(t, []string{cluster.CmdFindPoolsOver, cluster.CmdRunGC, cluster.CmdFindPoolsOver}, client.commandNames())
	assert.Equal(t, []string{"a", "c"}, client.calls[1].hosts, "gc runs on offenders only")
	assert.Equal(t, []string{"a", "c"}, client.calls[2].hosts, "re-check covers gc'd hosts only")
	assert.Equal(t, []time.Duration{5 * time.Second}, s.slept)
}

func TestEnsureCapacityGCWaitExhausted(t *testing.T) {
	client := newFakeClient("a")
	client.onRun = (&poolScript{rounds: []map[string][]cluster.PoolUsage{{"a": oldGenFull}}}).run
	d, s := newTestDeployer(t, client, testConfig())

	err := d.ensureCapacity(context.Background())
	var memErr *InsufficientMemoryError
	require.ErrorAs(t, err, &memErr)
	assert.True(t, memErr.GCAttempted)
	assert.Len(t, s.slept, 2, "gc_wait of 10s at 5s intervals")
	assert.Equal(t, 10*time.Second, s.total())
	assert.Len(t, client.callsOf(cluster.CmdRunGC), 1)
}

func TestEnsureCapacityZeroGCWait(t *testing.T) {
	client := newFakeClient("a")
	client.onRun = (&poolScript{rounds: []map[string][]cluster.PoolUsage{{"a": oldGenFull}}}).run
	cfg := testConfig()
	cfg.GCWait = 0
	d, s := newTestDeployer(t, client, cfg)

	assert.ErrorIs(t, d.ensureCapacity(context.Background()), ErrInsufficientMemory)
	assert.Empty(t, s.slept)
	assert.Len(t, client.callsOf(cluster.CmdRunGC), 1)
}

func TestEnsureCapacityTransportError(t *testing.T) {
	boom := errors.New("connection refused")
	client := newFakeClient("a")
	client.onRun = func(cluster.Command, []string) (map[string]cluster.CommandResult, error) { return nil, boom }
	d, _ := newTestDeployer(t, client, testConfig())

	assert.ErrorIs(t, d.ensureCapacity(context.Background()), boom)
}
