package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/dreamware/fleetwar/internal/coordinator"
	"github.com/dreamware/fleetwar/internal/deployer"
	"github.com/dreamware/fleetwar/internal/history"
	"github.com/dreamware/fleetwar/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var errNoNodes = errors.New("no nodes registered")

// server is the coordinator HTTP API. Deploy and undeploy requests are
// serialized on deployMu: the deployer's conflict checks assume nothing
// else changes the cluster while an operation runs.
type server struct {
	registry *coordinator.NodeRegistry
	deployer *deployer.Deployer
	history  *history.Store
	log      *slog.Logger

	deployMu sync.Mutex
}

func newServer(reg *coordinator.NodeRegistry, dep *deployer.Deployer, hist *history.Store, log *slog.Logger) *server {
	return &server{registry: reg, deployer: dep, history: hist, log: log}
}

// DeployRequest names artifacts by path on the coordinator host.
type DeployRequest struct {
	Artifacts []string `json:"artifacts"`
	VHost     string   `json:"vhost"`
}

// DeployResponse is returned when every unit converged.
type DeployResponse struct {
	OperationId uuid.UUID       `json:"operation_id"`
	Units       []deployer.Unit `json:"units"`
}

// UndeployRequest names contexts to remove from every node. Repeated
// contexts are undeployed once.
type UndeployRequest struct {
	Contexts []string `json:"contexts"`
	VHost    string   `json:"vhost"`
}

// UndeployResponse carries the per-context, per-node command results.
type UndeployResponse struct {
	OperationId uuid.UUID                                   `json:"operation_id"`
	Results     map[string]map[string]cluster.CommandResult `json:"results"`
}

// FailureResponse carries the operation ID next to the error so the
// failed attempt can be looked up in the history.
type FailureResponse struct {
	OperationId uuid.UUID `json:"operation_id"`
	Error       string    `json:"error"`
	Kind        string    `json:"kind"`
}

func (s *server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		cluster.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/register", s.handleRegister)
	r.Get("/nodes", s.handleListNodes)
	r.Post("/deploy", s.handleDeploy)
	r.Post("/undeploy", s.handleUndeploy)
	r.Get("/status", s.handleStatus)
	r.Get("/history", s.handleHistory)
	r.Get("/history/{id}", s.handleHistoryItem)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if !cluster.ParseRequestBody(w, r, &req) {
		return
	}
	isNew, err := s.registry.Register(req.Node)
	if err != nil {
		cluster.WriteError(w, http.StatusBadRequest, "", err)
		return
	}
	s.log.Info("node registered", logging.Code(logging.NODE), "node", req.Node.ID, "addr", req.Node.Addr, "new", isNew)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	cluster.WriteJSON(w, http.StatusOK, struct {
		Nodes []cluster.NodeInfo `json:"nodes"`
	}{Nodes: s.registry.Nodes()})
}

func (s *server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req DeployRequest
	if !cluster.ParseRequestBody(w, r, &req) {
		return
	}
	units, err := deployer.ParseArtifacts(req.Artifacts)
	if err == nil && len(units) == 0 {
		err = fmt.Errorf("%w: no artifacts given", deployer.ErrInvalidUnit)
	}
	if err != nil {
		cluster.WriteError(w, http.StatusBadRequest, deployer.Kind(err), err)
		return
	}
	if len(s.registry.Nodes()) == 0 {
		cluster.WriteError(w, http.StatusServiceUnavailable, "", errNoNodes)
		return
	}

	op := &history.Operation{Id: uuid.New(), Kind: history.KindDeploy, VHost: vhostOrDefault(req.VHost)}
	for _, u := range units {
		op.Units = append(op.Units, history.OperationUnit{Context: u.Context, Artifact: u.Artifact})
	}

	// A client disconnect must not abort a deployment halfway.
	ctx := context.WithoutCancel(r.Context())

	s.deployMu.Lock()
	start := time.Now()
	err = s.deployer.Deploy(ctx, units, req.VHost)
	s.deployMu.Unlock()

	s.record(op, start, err)
	if err != nil {
		s.writeFailure(w, op.Id, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, DeployResponse{OperationId: op.Id, Units: units})
}

func (s *server) handleUndeploy(w http.ResponseWriter, r *http.Request) {
	var req UndeployRequest
	if !cluster.ParseRequestBody(w, r, &req) {
		return
	}
	if len(req.Contexts) == 0 {
		cluster.WriteError(w, http.StatusBadRequest, "", errors.New("no contexts given"))
		return
	}
	req.Contexts = dedupe(req.Contexts)

	op := &history.Operation{Id: uuid.New(), Kind: history.KindUndeploy, VHost: vhostOrDefault(req.VHost)}
	for _, c := range req.Contexts {
		op.Units = append(op.Units, history.OperationUnit{Context: c})
	}

	ctx := context.WithoutCancel(r.Context())

	s.deployMu.Lock()
	start := time.Now()
	results, err := s.deployer.Undeploy(ctx, req.Contexts, req.VHost)
	s.deployMu.Unlock()

	s.record(op, start, err)
	if err != nil {
		s.writeFailure(w, op.Id, err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, UndeployResponse{OperationId: op.Id, Results: results})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.deployer.Status(r.Context(), r.URL.Query().Get("vhost"))
	if err != nil {
		cluster.WriteError(w, http.StatusBadGateway, deployer.Kind(err), err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, view)
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			cluster.WriteError(w, http.StatusBadRequest, "", fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	ops, err := s.history.List(r.Context(), r.URL.Query().Get("kind"), limit)
	if err != nil {
		cluster.WriteError(w, http.StatusInternalServerError, "", err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, struct {
		Operations []history.Operation `json:"operations"`
	}{Operations: ops})
}

func (s *server) handleHistoryItem(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		cluster.WriteError(w, http.StatusBadRequest, "", fmt.Errorf("invalid operation id: %w", err))
		return
	}
	op, err := s.history.Get(r.Context(), id)
	switch {
	case errors.Is(err, history.ErrNotFound):
		cluster.WriteError(w, http.StatusNotFound, "", err)
	case err != nil:
		cluster.WriteError(w, http.StatusInternalServerError, "", err)
	default:
		cluster.WriteJSON(w, http.StatusOK, op)
	}
}

// record stores the outcome of op. History failures are logged and never
// fail the request.
func (s *server) record(op *history.Operation, start time.Time, err error) {
	op.StartedAt = start
	op.DurationMs = time.Since(start).Milliseconds()
	op.Outcome = history.OutcomeSuccess
	if err != nil {
		op.Outcome = history.OutcomeFailure
		op.ErrorKind = deployer.Kind(err)
		op.Error = err.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if herr := s.history.Record(ctx, op); herr != nil {
		s.log.Error("unable to record operation", logging.Code(logging.SYSTEM), "operation_id", op.Id, "error", herr)
	}
}

func (s *server) writeFailure(w http.ResponseWriter, id uuid.UUID, err error) {
	cluster.WriteJSON(w, statusFor(err), FailureResponse{OperationId: id, Error: err.Error(), Kind: deployer.Kind(err)})
}

// statusFor maps deployer failures onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, deployer.ErrInvalidUnit):
		return http.StatusBadRequest
	case errors.Is(err, deployer.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, deployer.ErrInsufficientMemory):
		return http.StatusInsufficientStorage
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// dedupe drops repeated entries, keeping first occurrences in order.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0:0]
	for _, it := range items {
		if !seen[it] {
			seen[it] = true
			out = append(out, it)
		}
	}
	return out
}

func vhostOrDefault(vhost string) string {
	if vhost == "" {
		return deployer.DefaultVHost
	}
	return vhost
}
