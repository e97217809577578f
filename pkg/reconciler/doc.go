/*
Package reconciler keeps stored instance records in line with the container
runtime.

The runtime is the source of truth for which instances exist and what state
they are in. Records drift when a server crashes, when containerd's restart
monitor brings a task back, when an operator uses ctr directly, or when the
panel restarts in the middle of a deploy.

# Architecture

	┌──────────────────────────────────────────────────────────────┐
	│                      Reconciler                              │
	│  ticker (10s) ─► Reconcile(ctx)                              │
	└────┬─────────────┬──────────────────┬─────────────────┬──────┘
	     │ Ping        │ List             │ UpdateStatus    │ SweepDeleted
	     ▼             ▼                  │ Adopt           ▼ (hourly)
	┌──────────┐  ┌──────────┐            ▼          ┌──────────────┐
	│ metrics  │  │ runtime  │     ┌─────────────┐   │ volume       │
	│ health   │  │          │     │ manager     │   │ .deleted/    │
	└──────────┘  └──────────┘     │ records +   │   └──────────────┘
	                               │ events      │
	                               └─────────────┘

# Reconciliation Cycle

	 1. SESSIONS
	    └── Expired logout revocations dropped
	 2. RUNTIME
	    ├── Ping, reported as the runtime component health
	    └── Unreachable: cycle ends, nothing changes
	 3. RECORDS (live records only, deleting skipped)
	    ├── creating + deploy in flight     → left alone
	    ├── creating, nothing provisioning  → error "provisioning interrupted"
	    ├── container missing               → error "container missing"
	    ├── already error, no container     → unchanged
	    └── otherwise                       → runtime status copied
	 4. ADOPTION
	    └── Managed container without a record, not being deployed,
	        gets a record built from its labels
	 5. SWEEP (at most once per sweep interval, default 1h)
	    └── Retained data older than the retention period removed

Every status change goes through manager.UpdateStatus, which publishes an
instance.status event so dashboards follow crashes and restarts without
polling.

# Metrics

	minepanel_reconciliation_cycles_total
	minepanel_reconciliation_errors_total
	minepanel_reconciliation_duration_seconds

A cycle that cannot reach the runtime changes nothing and is counted as an
error. A failed sweep is logged and counted but does not fail the cycle.

# Usage Examples

	rec := reconciler.NewReconciler(mgr, sessions, 10*time.Second)
	rec.Start()
	defer rec.Stop()

	// tests drive single cycles
	err := rec.Reconcile(ctx)

# Thread Safety

Reconcile holds the reconciler lock for the whole cycle, so a manual cycle
and a ticker cycle never overlap. Stop waits for a running cycle to finish.
*/
package reconciler
