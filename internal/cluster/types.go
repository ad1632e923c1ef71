package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Webapp lifecycle states reported by node agents.
const (
	StateStarting = "STARTING"
	StateStarted  = "STARTED"
	StateStopped  = "STOPPED"
)

// Node health values kept in NodeInfo.HealthStatus.
const (
	HealthUnknown   = "unknown"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// NodeInfo identifies one application-server node of the cluster.
type NodeInfo struct {
	ID              string    `json:"id"`
	Addr            string    `json:"addr"`
	HealthStatus    string    `json:"health_status"`
	LastHealthCheck time.Time `json:"last_health_check"`
}

// RegisterRequest is the body a node agent posts to the coordinator's
// /register endpoint on startup.
type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

// NodeWebapp is one application as a single node reports it.
type NodeWebapp struct {
	Context   string `json:"context"`
	Path      string `json:"path"`
	Version   string `json:"version,omitempty"`
	VHost     string `json:"vhost"`
	StateName string `json:"state_name"`
	Sessions  int    `json:"sessions"`
}

// NodeStatus is the body of a node's GET /status response.
type NodeStatus struct {
	Node    string       `json:"node"`
	Webapps []NodeWebapp `json:"webapps"`
}

// NodeAppDetail is the per-node slice of an aggregated AppStatus.
type NodeAppDetail struct {
	Path      string `json:"path"`
	StateName string `json:"state_name"`
}

// AppStatus is the cluster-aggregated status of one context.
//
// Path is set only when every node serves the context and all of them agree
// on the path; StateName only when all of them agree on the state. Coherent
// requires both.
type AppStatus struct {
	Context   string                   `json:"context"`
	Path      string                   `json:"path"`
	StateName string                   `json:"state_name"`
	Coherent  bool                     `json:"coherent"`
	PresentOn []string                 `json:"present_on"`
	Nodes     map[string]NodeAppDetail `json:"nodes"`
}

// PoolUsage is one memory pool reported above a usage threshold.
type PoolUsage struct {
	Pool        string  `json:"pool"`
	PercentUsed float64 `json:"percent_used"`
}

// CommandRequest is the body posted to a node's /commands/{name} endpoint.
type CommandRequest struct {
	Args []string `json:"args"`
}

// CommandResult is one node's answer to a command.
type CommandResult struct {
	Node       string      `json:"node"`
	OK         bool        `json:"ok"`
	Message    string      `json:"message,omitempty"`
	Pools      []PoolUsage `json:"pools,omitempty"`
	Affected   []string    `json:"affected,omitempty"`
	DurationMs int64       `json:"duration_ms"`
}

// JSONClient exchanges JSON bodies with fleetwar services.
//
// The zero value uses http.DefaultClient, which never times out; callers
// that talk to long-running endpoints such as the coordinator's /deploy
// rely on their context for cancellation instead.
//
// Example:
//
//	c := cluster.JSONClient{HTTP: &http.Client{Timeout: 10 * time.Minute}}
//	err := c.Post(ctx, coord+"/deploy", req, &resp)
type JSONClient struct {
	HTTP *http.Client
}

// defaultClient backs PostJSON and GetJSON. Node calls are short, so a
// fixed timeout applies.
var defaultClient = JSONClient{HTTP: &http.Client{Timeout: 30 * time.Second}}

// PostJSON sends body as JSON to url and decodes the response into out,
// unless out is nil. Non-2xx answers are returned as *HTTPError.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	return defaultClient.Post(ctx, url, body, out)
}

// GetJSON fetches url and decodes the JSON response into out.
// Non-2xx answers are returned as *HTTPError.
func GetJSON(ctx context.Context, url string, out any) error {
	return defaultClient.Get(ctx, url, out)
}

// Post is PostJSON over c.
func (c JSONClient) Post(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// Get is GetJSON over c.
func (c JSONClient) Get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// HTTPError is returned by PostJSON and GetJSON for non-2xx responses.
type HTTPError struct {
	URL        string
	StatusCode int
	Body       string
}

// Error includes the response body when there is one.
func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %s: %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("http %s: %d: %s", e.URL, e.StatusCode, e.Body)
}

func (c JSONClient) do(req *http.Request, out any) error {
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{URL: req.URL.String(), StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
