package deployer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err      error
		kind     string
		sentinel error
	}{
		{&ContextCollisionError{Context: "/a", Nodes: []string{"n1"}}, "context_collision", ErrConflict},
		{&PathCollisionError{Path: "/a", Contexts: []string{"/a##1"}}, "path_collision", ErrConflict},
		{&PartialDeploymentError{Path: "/a"}, "partial_cluster_deployment", ErrConflict},
		{&SupersededError{Context: "/a##1", Newer: "/a##2", Path: "/a"}, "superseded_by_newer_version", ErrConflict},
		{&AmbiguousVersionsError{Path: "/a"}, "ambiguous_versions_remain", ErrConflict},
		{&InsufficientMemoryError{Nodes: map[string][]cluster.PoolUsage{"n1": nil}}, "insufficient_memory", ErrInsufficientMemory},
		{&DeploymentFailedError{Failed: []string{"/a"}}, "deployment_failed", ErrDeploymentFailed},
		{fmt.Errorf("%w: bad", ErrInvalidUnit), "invalid_unit", ErrInvalidUnit},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			assert.Equal(t, tt.kind, Kind(tt.err))
			assert.ErrorIs(t, tt.err, tt.sentinel)
			wrapped := fmt.Errorf("deploy: %w", tt.err)
			assert.Equal(t, tt.kind, Kind(wrapped))
		})
	}
	assert.Equal(t, "none", Kind(nil))
	assert.Equal(t, "transport", Kind(context.DeadlineExceeded))
	assert.Equal(t, "transport", Kind(errors.New("dial tcp: refused")))
}

func TestErrorMessages(t *testing.T) {
	assert.EqualError(t, &ContextCollisionError{Context: "/a##1", Nodes: []string{"n1", "n2"}},
		"there is already a context /a##1 on n1 and n2")
	assert.EqualError(t, &SupersededError{Context: "/a##1", Newer: "/a##2", Path: "/a"},
		"there is a webapp /a##2 deployed to /a that is newer than /a##1")
	assert.EqualError(t, &DeploymentFailedError{Failed: []string{"/a", "/b"}, RolledBack: true},
		"deployment of /a and /b failed; attempted contexts were undeployed")

	memErr := &InsufficientMemoryError{
		Nodes:       map[string][]cluster.PoolUsage{"n2": nil, "n1": nil},
		ThresholdPc: 50,
		GCAttempted: true,
	}
	assert.Equal(t, []string{"n1", "n2"}, memErr.NodeIDs())
	assert.Contains(t, memErr.Error(), "n1, n2")
	assert.Contains(t, memErr.Error(), "running GC did not reclaim enough")
}
