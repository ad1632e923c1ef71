package deployer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PollInterval = 0
	_, err := New(newFakeClient("a"), cfg)
	assert.ErrorContains(t, err, "poll_interval")
}

func TestNewRegistersProgressCallback(t *testing.T) {
	client := newFakeClient("a")
	d, _ := newTestDeployer(t, client, testConfig())
	require.NotNil(t, client.progress)

	var got []cluster.ProgressEvent
	d.Events().Subscribe(func(ev cluster.ProgressEvent) { got = append(got, ev) })
	client.progress(cluster.CommandStartEvent{Command: cluster.CmdDeploy, Args: []string{"x.war", "/x", "localhost"}, Node: "a"})
	assert.Len(t, got, 1)
}

func TestDeploySuccess(t *testing.T) {
	nodes := []string{"a", "b"}
	client := newFakeClient(nodes...)
	client.push(nil)
	client.push(onAll(nodes, app("/shop##1", "/shop", cluster.StateStarted)))
	d, s := newTestDeployer(t, client, testConfig())

	before := testutil.ToFloat64(operationsMetric.WithLabelValues("deploy", "success"))

	err := d.Deploy(context.Background(), mustUnits(t, "/build/shop##1.war"), "")
	require.NoError(t, err)

	assert.Equal(t, []string{cluster.CmdFindPoolsOver, cluster.CmdDeploy}, client.commandNames())
	deploy := client.callsOf(cluster.CmdDeploy)[0]
	assert.Equal(t, []string{"/build/shop##1.war", "/shop##1", "localhost"}, deploy.cmd.Args)
	assert.Empty(t, deploy.hosts)
	assert.Empty(t, s.slept, "already converged at the first read")
	assert.Equal(t, before+1, testutil.ToFloat64(operationsMetric.WithLabelValues("deploy", "success")))
}

func TestDeploySkipsMemoryCheckWhenDisabled(t *testing.T) {
	nodes := []string{"a"}
	client := newFakeClient(nodes...)
	client.push(nil)
	client.push(onAll(nodes, app("/shop", "/shop", cluster.StateStarted)))
	cfg := testConfig()
	cfg.CheckMemory = false
	d, _ := newTestDeployer(t, client, cfg)

	require.NoError(t, d.Deploy(context.Background(), mustUnits(t, "shop.war"), "localhost"))
	assert.Equal(t, []string{cluster.CmdDeploy}, client.commandNames())
}

func TestDeployWaitsForStart(t *testing.T) {
	nodes := []string{"a", "b"}
	client := newFakeClient(nodes...)
	client.push(nil)
	client.push(onAll(nodes, app("/shop##1", "/shop", cluster.StateStarting)))
	client.push(map[string][]cluster.NodeWebapp{
		"a": {app("/shop##1", "/shop", cluster.StateStarted)},
		"b": {app("/shop##1", "/shop", cluster.StateStarting)},
	})
	client.push(onAll(nodes, app("/shop##1", "/shop", cluster.StateStarted)))
	d, s := newTestDeployer(t, client, testConfig())

	require.NoError(t, d.Deploy(context.Background(), mustUnits(t, "shop##1.war"), ""))
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, s.slept)
	assert.Equal(t, 4, client.reads)
}

func TestDeployNeverConvergesRollsBack(t *testing.T) {
	client := newFakeClient("a", "b")
	client.push(nil)
	d, s := newTestDeployer(t, client, testConfig())
	rollbacks := testutil.ToFloat64(rollbacksMetric)

	err := d.Deploy(context.Background(), mustUnits(t, "shop##1.war", "blog.war"), "")

	var failed *DeploymentFailedError
	require.ErrorAs(t, err, &failed)
	assert.ErrorIs(t, err, ErrDeploymentFailed)
	assert.Equal(t, []string{"/blog", "/shop##1"}, failed.Failed)
	assert.True(t, failed.RolledBack)

	assert.Len(t, s.slept, 6, "deploy_wait of 30s at 5s intervals")
	assert.Equal(t, 1+7, client.reads)

	undeploys := client.callsOf(cluster.CmdUndeploy)
	require.Len(t, undeploys, 2)
	assert.Equal(t, []string{"/shop##1", "localhost"}, undeploys[0].cmd.Args)
	assert.Equal(t, []string{"/blog", "localhost"}, undeploys[1].cmd.Args)
	assert.Equal(t, rollbacks+1, testutil.ToFloat64(rollbacksMetric))
}

func TestDeployNotCoherentFails(t *testing.T) {
	client := newFakeClient("a", "b")
	client.push(nil)
	client.push(map[string][]cluster.NodeWebapp{"a": {app("/shop", "/shop", cluster.StateStarted)}})
	cfg := testConfig()
	cfg.DeployWait = 0
	d, s := newTestDeployer(t, client, cfg)

	err := d.Deploy(context.Background(), mustUnits(t, "shop.war"), "")
	assert.ErrorIs(t, err, ErrDeploymentFailed)
	assert.Empty(t, s.slept)
}

func TestDeployWithoutUndeployOnError(t *testing.T) {
	client := newFakeClient("a")
	client.push(nil)
	cfg := testConfig()
	cfg.UndeployOnError = false
	d, _ := newTestDeployer(t, client, cfg)

	err := d.Deploy(context.Background(), mustUnits(t, "shop.war"), "")
	var failed *DeploymentFailedError
	require.ErrorAs(t, err, &failed)
	assert.False(t, failed.RolledBack)
	assert.Empty(t, client.callsOf(cluster.CmdUndeploy))
}

func TestDeployTransportErrorRollsBackAttempted(t *testing.T) {
	boom := errors.New("upload to node b: broken pipe")
	client := newFakeClient("a", "b")
	client.push(nil)
	client.onRun = func(cmd cluster.Command, hosts []string) (map[string]cluster.CommandResult, error) {
		if cmd.Name == cluster.CmdDeploy && cmd.Args[1] == "/blog" {
			return nil, boom
		}
		return client.okResults(hosts), nil
	}
	d, _ := newTestDeployer(t, client, testConfig())

	err := d.Deploy(context.Background(), mustUnits(t, "shop.war", "blog.war", "wiki.war"), "")
	assert.Same(t, boom, err)
	assert.Equal(t, "transport", Kind(err))

	var rolled []string
	for _, c := range client.callsOf(cluster.CmdUndeploy) {
		rolled = append(rolled, c.cmd.Args[0])
	}
	assert.Equal(t, []string{"/shop", "/blog"}, rolled, "wiki was never attempted")
}

func TestDeployConflictStopsEarly(t *testing.T) {
	nodes := []string{"a"}
	client := newFakeClient(nodes...)
	client.push(onAll(nodes, app("/shop##1", "/shop", cluster.StateStarted)))
	d, _ := newTestDeployer(t, client, testConfig())
	before := testutil.ToFloat64(failuresMetric.WithLabelValues(StageConflictCheck, "path_collision"))

	err := d.Deploy(context.Background(), mustUnits(t, "shop.war"), "")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, client.commandNames())
	assert.Equal(t, before+1, testutil.ToFloat64(failuresMetric.WithLabelValues(StageConflictCheck, "path_collision")))
}

func TestDeployMemoryFailureStopsBeforeUpload(t *testing.T) {
	client := newFakeClient("a")
	client.push(nil)
	client.onRun = (&poolScript{rounds: []map[string][]cluster.PoolUsage{{"a": oldGenFull}}}).run
	cfg := testConfig()
	cfg.AutoGC = false
	d, _ := newTestDeployer(t, client, cfg)

	err := d.Deploy(context.Background(), mustUnits(t, "shop.war"), "")
	assert.ErrorIs(t, err, ErrInsufficientMemory)
	assert.Empty(t, client.callsOf(cluster.CmdDeploy))
}

func TestDeployRejectsBadBatches(t *testing.T) {
	d, _ := newTestDeployer(t, newFakeClient("a"), testConfig())

	assert.ErrorIs(t, d.Deploy(context.Background(), nil, ""), ErrInvalidUnit)

	u := mustUnits(t, "shop.war")[0]
	assert.ErrorIs(t, d.Deploy(context.Background(), []Unit{u, u}, ""), ErrInvalidUnit)
	assert.ErrorIs(t, d.Deploy(context.Background(), []Unit{{Context: "/x"}}, ""), ErrInvalidUnit)
}

func TestDeployCancelledWhileConverging(t *testing.T) {
	client := newFakeClient("a")
	client.push(nil)
	ctx, cancel := context.WithCancel(context.Background())
	d, err := New(client, testConfig(), WithSleep(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))
	require.NoError(t, err)

	err = d.Deploy(ctx, mustUnits(t, "shop.war"), "")
	assert.ErrorIs(t, err, context.Canceled)

	undeploys := client.callsOf(cluster.CmdUndeploy)
	require.Len(t, undeploys, 1)
	assert.Equal(t, []string{"/shop", "localhost"}, undeploys[0].cmd.Args)
	assert.Empty(t, client.refused, "rollback must not run on the cancelled context")
}

func TestDeployDeadlineStillRollsBack(t *testing.T) {
	client := newFakeClient("a", "b")
	client.push(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	cfg := testConfig()
	cfg.PollInterval = time.Hour
	cfg.DeployWait = 2 * time.Hour
	d, err := New(client, cfg)
	require.NoError(t, err)

	err = d.Deploy(ctx, mustUnits(t, "shop##2.war", "blog.war"), "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, client.callsOf(cluster.CmdUndeploy), 2)
	assert.Empty(t, client.refused)
}

func TestUndeploy(t *testing.T) {
	client := newFakeClient("a", "b")
	d, _ := newTestDeployer(t, client, testConfig())

	res, err := d.Undeploy(context.Background(), []string{"/shop##1", "/blog"}, "example.org")
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.True(t, res["/blog"]["b"].OK)

	calls := client.callsOf(cluster.CmdUndeploy)
	require.Len(t, calls, 2)
	assert.Equal(t, []string{"/shop##1", "example.org"}, calls[0].cmd.Args)
	assert.Equal(t, []string{"/blog", "example.org"}, calls[1].cmd.Args)
}

func TestUndeployStopsAtTransportError(t *testing.T) {
	boom := errors.New("node a unreachable")
	client := newFakeClient("a")
	client.onRun = func(cmd cluster.Command, hosts []string) (map[string]cluster.CommandResult, error) {
		if cmd.Args[0] == "/blog" {
			return nil, boom
		}
		return client.okResults(hosts), nil
	}
	d, _ := newTestDeployer(t, client, testConfig())

	res, err := d.Undeploy(context.Background(), []string{"/shop", "/blog", "/wiki"}, "")
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, res, "/shop")
	assert.NotContains(t, res, "/wiki")
	assert.Len(t, client.callsOf(cluster.CmdUndeploy), 2)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
