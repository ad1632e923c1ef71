package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
)

// NodeSource returns the current node set. The coordinator passes its
// registry here so nodes that register later are picked up by the next call.
type NodeSource func() []NodeInfo

// StaticNodes returns a NodeSource over a fixed list.
func StaticNodes(nodes ...NodeInfo) NodeSource {
	return func() []NodeInfo { return nodes }
}

// HTTPClient is the Client implementation that talks to node agents over
// HTTP/JSON. Every call fans out to the selected nodes in parallel and fails
// as a whole when any node cannot be reached.
type HTTPClient struct {
	nodes    NodeSource
	upload   *http.Client
	mu       sync.Mutex // serializes progress callbacks
	progress ProgressFunc
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client over nodes.
//
// The node set is re-read on every call, so a registry-backed NodeSource picks
// up nodes that register later. Status reads and commands use a 30 second
// request timeout; uploads use uploadTimeout instead because artifacts can be
// large.
//
// Parameters:
//   - nodes: Source of the current node set
//   - uploadTimeout: Bound on one artifact upload to one node; zero means five minutes
//
// Example:
//
//	reg := coordinator.NewNodeRegistry()
//	client := cluster.NewHTTPClient(reg.Nodes, 10*time.Minute)
//	status, err := client.QueryStatus(ctx, "*", "localhost")
func NewHTTPClient(nodes NodeSource, uploadTimeout time.Duration) *HTTPClient {
	if uploadTimeout == 0 {
		uploadTimeout = 5 * time.Minute
	}
	return &HTTPClient{
		nodes:  nodes,
		upload: &http.Client{Timeout: uploadTimeout},
	}
}

// SetProgressCallback registers fn for upload and command events. Calls to
// fn are serialized even though nodes are contacted in parallel.
func (c *HTTPClient) SetProgressCallback(fn ProgressFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress = fn
}

func (c *HTTPClient) emit(ev ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.progress != nil {
		c.progress(ev)
	}
}

// QueryStatus fetches GET /status from every node in parallel and aggregates
// the listings with Aggregate. The first node that cannot be reached fails the
// whole read: a partial view would make conflict checks unsafe.
func (c *HTTPClient) QueryStatus(ctx context.Context, appFilter, vhostFilter string) (map[string]AppStatus, error) {
	nodes := c.nodes()
	ids := make([]string, 0, len(nodes))
	listings := make(map[string][]NodeWebapp, len(nodes))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		n := n
		ids = append(ids, n.ID)
		g.Go(func() error {
			var st NodeStatus
			if err := GetJSON(gctx, n.Addr+"/status", &st); err != nil {
				return fmt.Errorf("status from node %s: %w", n.ID, err)
			}
			mu.Lock()
			listings[n.ID] = st.Webapps
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return Aggregate(ids, listings, appFilter, vhostFilter), nil
}

// RunCommand sends cmd to hosts, or to every node when hosts is empty, in
// parallel.
//
// The deploy command is special: args[0] names a local artifact file that is
// streamed to each node's /deploy endpoint, emitting UploadEvents as bytes go
// out. Every other command is posted as a CommandRequest to
// /commands/{name}.
//
// Returns:
//   - Results keyed by node ID
//   - An error naming the first node that failed or is unknown; results from
//     nodes that answered before it are still returned
func (c *HTTPClient) RunCommand(ctx context.Context, cmd Command, hosts ...string) (map[string]CommandResult, error) {
	targets, err := c.targets(hosts)
	if err != nil {
		return nil, err
	}

	results := make(map[string]CommandResult, len(targets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range targets {
		n := n
		g.Go(func() error {
			c.emit(CommandStartEvent{Command: cmd.Name, Args: cmd.Args, Node: n.ID})
			start := time.Now()

			var res CommandResult
			var err error
			if cmd.Name == CmdDeploy {
				res, err = c.deployTo(gctx, n, cmd.Args)
			} else {
				err = PostJSON(gctx, n.Addr+"/commands/"+url.PathEscape(cmd.Name), CommandRequest{Args: cmd.Args}, &res)
			}
			if err != nil {
				return fmt.Errorf("%s on node %s: %w", cmd.Name, n.ID, err)
			}

			res.Node = n.ID
			res.DurationMs = time.Since(start).Milliseconds()
			mu.Lock()
			results[n.ID] = res
			mu.Unlock()

			c.emit(CommandEndEvent{Command: cmd.Name, Args: cmd.Args, Node: n.ID})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (c *HTTPClient) targets(hosts []string) ([]NodeInfo, error) {
	nodes := c.nodes()
	if len(hosts) == 0 {
		return nodes, nil
	}
	out := make([]NodeInfo, 0, len(hosts))
	for _, h := range hosts {
		idx := slices.IndexFunc(nodes, func(n NodeInfo) bool { return n.ID == h })
		if idx < 0 {
			return nil, fmt.Errorf("unknown node %q", h)
		}
		out = append(out, nodes[idx])
	}
	return out, nil
}

// deployTo streams the artifact named by args[0] to one node.
func (c *HTTPClient) deployTo(ctx context.Context, n NodeInfo, args []string) (CommandResult, error) {
	if len(args) != 3 {
		return CommandResult{}, fmt.Errorf("deploy expects artifact, context and vhost, got %d args", len(args))
	}
	artifact, contextPath, vhost := args[0], args[1], args[2]

	f, err := os.Open(artifact)
	if err != nil {
		return CommandResult{}, fmt.Errorf("opening artifact: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return CommandResult{}, fmt.Errorf("stat artifact: %w", err)
	}

	q := url.Values{}
	q.Set("context", contextPath)
	q.Set("vhost", vhost)
	q.Set("filename", filepath.Base(artifact))
	target := n.Addr + "/deploy?" + q.Encode()

	body := &progressReader{
		r:     f,
		total: info.Size(),
		report: func(pos, total int64) {
			c.emit(UploadEvent{Filename: artifact, URL: n.Addr, Position: pos, Total: total})
		},
	}
	body.report(0, body.total)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return CommandResult{}, err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.upload.Do(req)
	if err != nil {
		return CommandResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return CommandResult{}, &HTTPError{URL: target, StatusCode: resp.StatusCode, Body: string(data)}
	}

	var res CommandResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return CommandResult{}, fmt.Errorf("decoding deploy result: %w", err)
	}
	return res, nil
}

// progressReader reports the running byte count after every read. The final
// report has pos == total.
type progressReader struct {
	r      io.Reader
	pos    int64
	total  int64
	report func(pos, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.pos += int64(n)
		p.report(p.pos, p.total)
	}
	return n, err
}
