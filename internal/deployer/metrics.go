package deployer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deployer_operations_total",
		Help: "Deploy and undeploy operations by outcome.",
	}, []string{"operation", "outcome"})

	failuresMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deployer_failures_total",
		Help: "Failed deploy operations by stage and error kind.",
	}, []string{"stage", "kind"})

	durationMetric = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "deployer_operation_seconds",
		Help: "Wall-clock duration of deploy and undeploy operations.",
	}, []string{"operation"})

	rollbacksMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deployer_rollbacks_total",
		Help: "Rollbacks issued after a deployment failed to converge.",
	})

	gcRunsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deployer_gc_runs_total",
		Help: "Garbage collections triggered by the memory check.",
	})

	convergencePollsMetric = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deployer_convergence_polls_total",
		Help: "Status reads performed while waiting for convergence.",
	})
)
