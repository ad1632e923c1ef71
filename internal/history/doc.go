// Package history keeps a persistent log of deploy and undeploy operations
// handled by the coordinator.
//
// # Overview
//
// Every operation is stored with its outcome, failure class and the
// contexts it touched, so an operator can answer "what was deployed where,
// and why did it fail" after the log lines are gone. Storage is sqlite via
// gorm; the schema is migrated on Open.
//
// # Schema
//
//	┌──────────────────────────┐        ┌──────────────────────────┐
//	│ operations               │        │ operation_units          │
//	├──────────────────────────┤        ├──────────────────────────┤
//	│ id          uuid  PK     │◀──┐    │ operation_id uuid  PK,FK │
//	│ kind        deploy|...   │   └────│ context      text  PK    │
//	│ v_host                   │        │ artifact                 │
//	│ outcome     success|...  │        └──────────────────────────┘
//	│ error_kind               │
//	│ error                    │
//	│ started_at  indexed      │
//	│ duration_ms              │
//	└──────────────────────────┘
//
// A unit is keyed by operation and context, so one operation lists each
// context once. Callers remove repeated contexts before recording.
//
// # Core Components
//
// Store: The operation log
//   - Record inserts an operation and its units in one transaction
//   - List returns the latest operations, optionally of one kind
//   - Get loads one operation by ID, or ErrNotFound
//   - Close releases the connection pool
//
// Operation and OperationUnit: gorm models that double as the JSON shape
// served on GET /history.
//
// # Concurrency
//
// Store is safe for concurrent use; gorm serializes access through its
// connection pool. Every method takes a context that bounds the query.
//
// # Example
//
//	store, err := history.Open("fleetwar.db")
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	err = store.Record(ctx, &history.Operation{
//		Kind:    history.KindDeploy,
//		VHost:   "localhost",
//		Outcome: history.OutcomeSuccess,
//		Units:   []history.OperationUnit{{Context: "/shop##042", Artifact: "shop##042.war"}},
//	})
package history
