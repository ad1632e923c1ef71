package deployer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dreamware/fleetwar/internal/cluster"
)

var (
	// ErrConflict matches every conflict-resolution failure.
	ErrConflict = errors.New("deployment conflict")

	// ErrInsufficientMemory matches InsufficientMemoryError.
	ErrInsufficientMemory = errors.New("insufficient memory")

	// ErrDeploymentFailed matches DeploymentFailedError.
	ErrDeploymentFailed = errors.New("deployment failed")

	// ErrInvalidUnit is returned for malformed artifacts or batches.
	ErrInvalidUnit = errors.New("invalid deployment unit")
)

// ContextCollisionError is returned when a unit's context already exists on
// at least one node. Deploying over a live context is never attempted; the
// operator undeploys it first or ships a new version.
//
// Nodes lists where the context was found.
type ContextCollisionError struct {
	Context string
	Nodes   []string
}

// Error implements error.
func (e *ContextCollisionError) Error() string {
	return fmt.Sprintf("there is already a context %s on %s", e.Context, joinAnd(e.Nodes))
}

// Is matches ErrConflict.
func (e *ContextCollisionError) Is(target error) bool { return target == ErrConflict }

// PathCollisionError is returned when an unversioned unit targets a path
// that some context already serves. Only versioned units may share a path.
type PathCollisionError struct {
	Path     string
	Contexts []string
}

// Error implements error.
func (e *PathCollisionError) Error() string {
	return fmt.Sprintf("there is already a webapp deployed to %s (%s)", e.Path, joinAnd(e.Contexts))
}

// Is matches ErrConflict.
func (e *PathCollisionError) Is(target error) bool { return target == ErrConflict }

// PartialDeploymentError is returned when the target path is served, but by
// no context that is present on every node. The cluster is inconsistent and
// needs manual repair before a new version can be added.
type PartialDeploymentError struct {
	Path     string
	Contexts []string
	Nodes    []string
}

// Error implements error.
func (e *PartialDeploymentError) Error() string {
	return fmt.Sprintf("webapp %s is deployed only to a subset of nodes (%s on %s)",
		e.Path, joinAnd(e.Contexts), joinAnd(e.Nodes))
}

// Is matches ErrConflict.
func (e *PartialDeploymentError) Is(target error) bool { return target == ErrConflict }

// SupersededError is returned when the cluster already serves a version of
// the path that sorts after the unit's context. Newer is that context.
type SupersededError struct {
	Context string
	Newer   string
	Path    string
}

// Error implements error.
func (e *SupersededError) Error() string {
	return fmt.Sprintf("there is a webapp %s deployed to %s that is newer than %s", e.Newer, e.Path, e.Context)
}

// Is matches ErrConflict.
func (e *SupersededError) Is(target error) bool { return target == ErrConflict }

// AmbiguousVersionsError is returned when retiring old versions still left
// more than one context serving the path, typically because old versions
// hold active sessions and KillSessions is off.
type AmbiguousVersionsError struct {
	Path     string
	Contexts []string
}

// Error implements error.
func (e *AmbiguousVersionsError) Error() string {
	return fmt.Sprintf("path %s is served by more than one version (%s)", e.Path, joinAnd(e.Contexts))
}

// Is matches ErrConflict.
func (e *AmbiguousVersionsError) Is(target error) bool { return target == ErrConflict }

// InsufficientMemoryError is returned by the memory check. Nodes maps each
// offending node to its pools above ThresholdPc percent, noise pools
// excluded. GCAttempted tells whether a collection ran before giving up.
type InsufficientMemoryError struct {
	Nodes       map[string][]cluster.PoolUsage
	ThresholdPc int
	GCAttempted bool
}

// Error lists the offending nodes in sorted order.
func (e *InsufficientMemoryError) Error() string {
	nodes := e.NodeIDs()
	msg := fmt.Sprintf("the following nodes do not have enough memory (over %d%% used): %s",
		e.ThresholdPc, strings.Join(nodes, ", "))
	if e.GCAttempted {
		msg += "; running GC did not reclaim enough"
	}
	return msg
}

// Is matches ErrInsufficientMemory.
func (e *InsufficientMemoryError) Is(target error) bool { return target == ErrInsufficientMemory }

// NodeIDs returns the offending nodes in sorted order.
func (e *InsufficientMemoryError) NodeIDs() []string {
	nodes := make([]string, 0, len(e.Nodes))
	for n := range e.Nodes {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}

// DeploymentFailedError is returned when some contexts were not coherent and
// STARTED when the convergence wait ran out. Failed is sorted. RolledBack is
// set when every attempted context was undeployed again.
type DeploymentFailedError struct {
	Failed     []string
	RolledBack bool
}

// Error implements error.
func (e *DeploymentFailedError) Error() string {
	msg := fmt.Sprintf("deployment of %s failed", joinAnd(e.Failed))
	if e.RolledBack {
		msg += "; attempted contexts were undeployed"
	}
	return msg
}

// Is matches ErrDeploymentFailed.
func (e *DeploymentFailedError) Is(target error) bool { return target == ErrDeploymentFailed }

// Kind names the failure class of err for logs, metrics and HTTP mapping.
func Kind(err error) string {
	var (
		ctxErr     *ContextCollisionError
		pathErr    *PathCollisionError
		partialErr *PartialDeploymentError
		superErr   *SupersededError
		ambErr     *AmbiguousVersionsError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &ctxErr):
		return "context_collision"
	case errors.As(err, &pathErr):
		return "path_collision"
	case errors.As(err, &partialErr):
		return "partial_cluster_deployment"
	case errors.As(err, &superErr):
		return "superseded_by_newer_version"
	case errors.As(err, &ambErr):
		return "ambiguous_versions_remain"
	case errors.Is(err, ErrInsufficientMemory):
		return "insufficient_memory"
	case errors.Is(err, ErrDeploymentFailed):
		return "deployment_failed"
	case errors.Is(err, ErrInvalidUnit):
		return "invalid_unit"
	default:
		return "transport"
	}
}

func joinAnd(items []string) string {
	return strings.Join(items, " and ")
}
