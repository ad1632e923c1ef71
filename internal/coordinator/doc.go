// Package coordinator implements cluster membership for the deployment
// coordinator: which application-server nodes exist and whether they
// answer.
//
// # Overview
//
// Node agents register themselves on startup. The coordinator keeps them
// in a NodeRegistry and hands NodeRegistry.Nodes to the cluster client as
// its node source, so every deploy fans out to the nodes registered at
// the moment of the call.
//
//	┌─────────────────────────────────────┐
//	│           COORDINATOR               │
//	├─────────────────────────────────────┤
//	│  ┌──────────────────────────────┐   │
//	│  │  NodeRegistry                │   │
//	│  │  - registration              │   │
//	│  │  - last health status        │   │
//	│  └──────────────────────────────┘   │
//	│               ▲                     │
//	│               │ SetHealth           │
//	│  ┌──────────────────────────────┐   │
//	│  │  HealthMonitor               │   │
//	│  │  - periodic GET /health      │   │
//	│  │  - failure threshold         │   │
//	│  └──────────────────────────────┘   │
//	└─────────────────────────────────────┘
//
// # Health
//
// HealthMonitor checks every registered node each interval. A node is
// unknown until its first successful check, unhealthy after three
// consecutive failures, and healthy again after one success. Health is
// informational: the deployer never skips an unhealthy node, because a
// deployment must reach every node or fail. Operators use the reported
// status to tell a failing node apart from a failing webapp.
//
// # Thread Safety
//
// NodeRegistry and HealthMonitor are safe for concurrent use. The monitor
// copies NodeHealth values out of its map before returning them.
//
// # Example
//
//	reg := coordinator.NewNodeRegistry()
//	monitor := coordinator.NewHealthMonitor(5*time.Second, log)
//	monitor.SetOnStatusChange(reg.SetHealth)
//	go monitor.Start(ctx, reg.Nodes)
//	defer monitor.Stop()
package coordinator
