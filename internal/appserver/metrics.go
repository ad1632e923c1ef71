package appserver

import (
	"github.com/dreamware/fleetwar/internal/webapp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Each Server owns a registry so several agents can run in one process.
func newMetrics(s *Server) (*prometheus.Registry, *prometheus.CounterVec) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(&stateCollector{s: s})

	commands := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name:        "appserver_commands_total",
		Help:        "Commands executed by the node agent.",
		ConstLabels: prometheus.Labels{"node": s.opts.Name},
	}, []string{"command", "ok"})
	return reg, commands
}

var (
	webappsDesc = prometheus.NewDesc("appserver_webapps",
		"Deployed webapps by lifecycle state.", []string{"node", "state"}, nil)
	sessionsDesc = prometheus.NewDesc("appserver_sessions_active",
		"Active sessions across all webapps.", []string{"node"}, nil)
	poolDesc = prometheus.NewDesc("appserver_pool_used_percent",
		"Memory pool usage.", []string{"node", "pool"}, nil)
	artifactBytesDesc = prometheus.NewDesc("appserver_artifact_bytes",
		"Bytes of stored artifacts.", []string{"node"}, nil)
)

// stateCollector reads the server state at scrape time.
type stateCollector struct {
	s *Server
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- webappsDesc
	ch <- sessionsDesc
	ch <- poolDesc
	ch <- artifactBytesDesc
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	node := c.s.opts.Name
	counts := map[webapp.State]int{
		webapp.StateStarting: 0,
		webapp.StateStarted:  0,
		webapp.StateStopped:  0,
	}
	var sessions int
	for _, info := range c.s.Webapps() {
		counts[info.State]++
		sessions += info.Sessions
	}
	for state, n := range counts {
		ch <- prometheus.MustNewConstMetric(webappsDesc, prometheus.GaugeValue, float64(n), node, string(state))
	}
	ch <- prometheus.MustNewConstMetric(sessionsDesc, prometheus.GaugeValue, float64(sessions), node)
	for _, p := range c.s.mem.usage() {
		ch <- prometheus.MustNewConstMetric(poolDesc, prometheus.GaugeValue, p.PercentUsed, node, p.Pool)
	}
	ch <- prometheus.MustNewConstMetric(artifactBytesDesc, prometheus.GaugeValue, float64(c.s.store.Stats().Bytes), node)
}
