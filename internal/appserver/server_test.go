package appserver

import (
	"strings"
	"testing"
	"time"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/logging"
	"github.com/dreamware/fleetwar/internal/webapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Name == "" {
		opts.Name = "node-1"
	}
	opts.Logger = logging.Discard()
	s := New(opts)
	t.Cleanup(s.Close)
	return s
}

func deploy(t *testing.T, s *Server, context, body string) cluster.CommandResult {
	t.Helper()
	res, err := s.Deploy(context, "localhost", strings.TrimPrefix(context, "/")+".war", strings.NewReader(body))
	require.NoError(t, err)
	return res
}

func contexts(st cluster.NodeStatus) []string {
	var out []string
	for _, w := range st.Webapps {
		out = append(out, w.Context)
	}
	return out
}

func TestDeployStartsImmediately(t *testing.T) {
	s := newTestServer(t, Options{})

	res := deploy(t, s, "/shop##1", "war")
	assert.True(t, res.OK)
	assert.Equal(t, "node-1", res.Node)
	assert.Equal(t, []string{"/shop##1"}, res.Affected)

	st := s.Status()
	require.Len(t, st.Webapps, 1)
	assert.Equal(t, cluster.NodeWebapp{
		Context: "/shop##1", Path: "/shop", Version: "1", VHost: "localhost", StateName: cluster.StateStarted,
	}, st.Webapps[0])

	infos := s.Webapps()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(3), infos[0].Artifact.Size)
	assert.NotEmpty(t, infos[0].Artifact.SHA256)
}

func TestDeployWithStartDelay(t *testing.T) {
	s := newTestServer(t, Options{StartDelay: 20 * time.Millisecond})
	deploy(t, s, "/shop", "war")

	assert.Equal(t, cluster.StateStarting, s.Status().Webapps[0].StateName)
	assert.Eventually(t, func() bool {
		return s.Status().Webapps[0].StateName == cluster.StateStarted
	}, time.Second, 5*time.Millisecond)
}

func TestDeployEmptyArtifactStops(t *testing.T) {
	s := newTestServer(t, Options{})
	deploy(t, s, "/broken", "")
	assert.Equal(t, cluster.StateStopped, s.Status().Webapps[0].StateName)
}

func TestDeployRefusesExistingContext(t *testing.T) {
	s := newTestServer(t, Options{})
	deploy(t, s, "/shop", "a")

	res := deploy(t, s, "/shop", "b")
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "already exists")

	_, err := s.Deploy("shop", "localhost", "shop.war", strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrBadArgs)
}

func TestUndeploy(t *testing.T) {
	s := newTestServer(t, Options{})
	deploy(t, s, "/shop", "war")

	res := s.Undeploy("/shop", "localhost")
	assert.True(t, res.OK)
	assert.Empty(t, s.Status().Webapps)
	assert.Equal(t, 0, s.store.Stats().Artifacts)

	res = s.Undeploy("/shop", "localhost")
	assert.False(t, res.OK)
}

func TestUndeployOldVersions(t *testing.T) {
	s := newTestServer(t, Options{})
	deploy(t, s, "/shop##1", "a")
	deploy(t, s, "/shop##2", "b")
	deploy(t, s, "/shop##3", "c")
	deploy(t, s, "/blog", "d")

	_, err := s.OpenSession("/shop##2", "localhost")
	require.NoError(t, err)

	res := s.UndeployOldVersions("localhost")
	assert.True(t, res.OK)
	assert.Equal(t, []string{"/shop##1"}, res.Affected)
	assert.Contains(t, res.Message, "/shop##2")
	assert.Equal(t, []string{"/blog", "/shop##2", "/shop##3"}, contexts(s.Status()))

	s.ExpireSessions("/shop##2", "localhost")
	res = s.UndeployOldVersions("localhost")
	assert.Equal(t, []string{"/shop##2"}, res.Affected)
	assert.Equal(t, []string{"/blog", "/shop##3"}, contexts(s.Status()))
}

func TestUndeployOldVersionsIsPerVHost(t *testing.T) {
	s := newTestServer(t, Options{})
	deploy(t, s, "/shop##1", "a")
	_, err := s.Deploy("/shop##2", "example.org", "shop##2.war", strings.NewReader("b"))
	require.NoError(t, err)

	res := s.UndeployOldVersions("localhost")
	assert.Empty(t, res.Affected)
	assert.Len(t, s.Status().Webapps, 2)
}

func TestExpireSessions(t *testing.T) {
	s := newTestServer(t, Options{})
	deploy(t, s, "/shop", "war")
	for i := 0; i < 3; i++ {
		_, err := s.OpenSession("/shop", "localhost")
		require.NoError(t, err)
	}

	res := s.ExpireSessions("/shop", "localhost")
	assert.True(t, res.OK)
	assert.Equal(t, "expired 3 sessions", res.Message)
	assert.Equal(t, 0, s.Status().Webapps[0].Sessions)

	assert.False(t, s.ExpireSessions("/nope", "localhost").OK)
}

func TestOpenSessionRequiresStarted(t *testing.T) {
	s := newTestServer(t, Options{})
	deploy(t, s, "/broken", "")

	_, err := s.OpenSession("/broken", "localhost")
	assert.ErrorContains(t, err, string(webapp.StateStopped))
	_, err = s.OpenSession("/missing", "localhost")
	assert.Error(t, err)
}

func TestMemoryAndGC(t *testing.T) {
	const mb = 1 << 20
	s := newTestServer(t, Options{
		AppFootprint: 100 * mb,
		Pools: []PoolConfig{
			{Name: "Par Eden Space", Max: 100 * mb, Garbage: 90 * mb},
			{Name: "Old Gen", Max: 1000 * mb, Live: 200 * mb, Garbage: 300 * mb, Heap: true},
		},
	})

	over := s.FindPoolsOver(50).Pools
	require.Len(t, over, 1)
	assert.Equal(t, "Par Eden Space", over[0].Pool)
	assert.InDelta(t, 90, over[0].PercentUsed, 0.001)

	deploy(t, s, "/shop", "war")
	over = s.FindPoolsOver(50).Pools
	assert.Len(t, over, 2, "footprint pushes the heap to 60%")

	res := s.RunGC()
	assert.True(t, res.OK)
	assert.Empty(t, s.FindPoolsOver(50).Pools)

	s.Undeploy("/shop", "localhost")
	assert.Empty(t, s.FindPoolsOver(50).Pools, "released footprint is garbage, heap is back at 30%")
	usage := s.mem.usage()
	assert.InDelta(t, 30, usage[0].PercentUsed, 0.001)
}

func TestExec(t *testing.T) {
	s := newTestServer(t, Options{})
	deploy(t, s, "/shop", "war")

	tests := []struct {
		name string
		args []string
		err  error
		ok   bool
	}{
		{cluster.CmdFindPoolsOver, []string{"99.5"}, nil, true},
		{cluster.CmdFindPoolsOver, []string{"lots"}, ErrBadArgs, false},
		{cluster.CmdFindPoolsOver, nil, ErrBadArgs, false},
		{cluster.CmdRunGC, nil, nil, true},
		{cluster.CmdExpireSessions, []string{"/shop", "localhost"}, nil, true},
		{cluster.CmdExpireSessions, []string{"/shop"}, ErrBadArgs, false},
		{cluster.CmdUndeployOldVersions, []string{"localhost"}, nil, true},
		{cluster.CmdUndeploy, []string{"/shop", "localhost"}, nil, true},
		{cluster.CmdUndeploy, []string{"/shop", "localhost"}, nil, false},
		{"reboot", nil, ErrUnknownCommand, false},
	}
	for _, tt := range tests {
		res, err := s.Exec(tt.name, tt.args)
		if tt.err != nil {
			assert.ErrorIs(t, err, tt.err, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.ok, res.OK, tt.name)
	}
}
