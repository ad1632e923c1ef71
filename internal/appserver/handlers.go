package appserver

import (
	"errors"
	"net/http"

	"github.com/dreamware/fleetwar/internal/cluster"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes returns the node agent HTTP API:
//
//	GET  /health            liveness
//	GET  /status            cluster.NodeStatus
//	GET  /webapps           detailed webapp snapshots
//	POST /deploy            artifact upload; query: context, vhost, filename
//	POST /commands/{name}   cluster.CommandRequest -> cluster.CommandResult
//	POST /sessions          open a session; query: context, vhost
//	GET  /metrics           Prometheus metrics of this agent
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		cluster.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "node": s.opts.Name})
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		cluster.WriteJSON(w, http.StatusOK, s.Status())
	})
	r.Get("/webapps", func(w http.ResponseWriter, _ *http.Request) {
		cluster.WriteJSON(w, http.StatusOK, s.Webapps())
	})
	r.Post("/deploy", s.handleDeploy)
	r.Post("/commands/{name}", s.handleCommand)
	r.Post("/sessions", s.handleSession)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.Deploy(q.Get("context"), q.Get("vhost"), q.Get("filename"), r.Body)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrBadArgs) {
			status = http.StatusBadRequest
		}
		cluster.WriteError(w, status, "", err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req cluster.CommandRequest
	if !cluster.ParseRequestBody(w, r, &req) {
		return
	}
	res, err := s.Exec(chi.URLParam(r, "name"), req.Args)
	switch {
	case errors.Is(err, ErrUnknownCommand):
		cluster.WriteError(w, http.StatusNotFound, "", err)
	case errors.Is(err, ErrBadArgs):
		cluster.WriteError(w, http.StatusBadRequest, "", err)
	case err != nil:
		cluster.WriteError(w, http.StatusInternalServerError, "", err)
	default:
		cluster.WriteJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	vhost := q.Get("vhost")
	if vhost == "" {
		vhost = "localhost"
	}
	id, err := s.OpenSession(q.Get("context"), vhost)
	if err != nil {
		cluster.WriteError(w, http.StatusConflict, "", err)
		return
	}
	cluster.WriteJSON(w, http.StatusOK, map[string]string{"session": id})
}
