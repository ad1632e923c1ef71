package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate(t *testing.T) {
	nodes := []string{"n1", "n2"}

	tests := []struct {
		name      string
		listings  map[string][]NodeWebapp
		context   string
		wantPath  string
		wantState string
		coherent  bool
		presentOn []string
	}{
		{
			name: "started everywhere",
			listings: map[string][]NodeWebapp{
				"n1": {{Context: "/app", Path: "/app", VHost: "localhost", StateName: StateStarted}},
				"n2": {{Context: "/app", Path: "/app", VHost: "localhost", StateName: StateStarted}},
			},
			context:   "/app",
			wantPath:  "/app",
			wantState: StateStarted,
			coherent:  true,
			presentOn: []string{"n1", "n2"},
		},
		{
			name: "missing on one node",
			listings: map[string][]NodeWebapp{
				"n2": {{Context: "/app", Path: "/app", VHost: "localhost", StateName: StateStarted}},
			},
			context:   "/app",
			wantPath:  "",
			wantState: StateStarted,
			coherent:  false,
			presentOn: []string{"n2"},
		},
		{
			name: "state disagreement keeps path",
			listings: map[string][]NodeWebapp{
				"n1": {{Context: "/app", Path: "/app", VHost: "localhost", StateName: StateStarting}},
				"n2": {{Context: "/app", Path: "/app", VHost: "localhost", StateName: StateStarted}},
			},
			context:   "/app",
			wantPath:  "/app",
			wantState: "",
			coherent:  false,
			presentOn: []string{"n1", "n2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Aggregate(nodes, tt.listings, "*", "*")
			st, ok := out[tt.context]
			require.True(t, ok)
			assert.Equal(t, tt.wantPath, st.Path)
			assert.Equal(t, tt.wantState, st.StateName)
			assert.Equal(t, tt.coherent, st.Coherent)
			assert.Equal(t, tt.presentOn, st.PresentOn)
		})
	}
}

func TestAggregateFilters(t *testing.T) {
	listings := map[string][]NodeWebapp{
		"n1": {
			{Context: "/app##v1", Path: "/app", VHost: "localhost", StateName: StateStarted},
			{Context: "/other", Path: "/other", VHost: "localhost", StateName: StateStarted},
			{Context: "/app##v1", Path: "/app", VHost: "intranet", StateName: StateStarted},
		},
	}

	out := Aggregate([]string{"n1"}, listings, "/app*", "localhost")
	require.Len(t, out, 1)
	assert.Contains(t, out, "/app##v1")
	assert.Equal(t, "/app", out["/app##v1"].Nodes["n1"].Path)

	assert.Len(t, Aggregate([]string{"n1"}, listings, "*", "*"), 2)
	assert.Empty(t, Aggregate([]string{"n1"}, listings, "[", "*"))
}
