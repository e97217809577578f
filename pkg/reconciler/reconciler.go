package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/minepanel/pkg/log"
	"github.com/cuemby/minepanel/pkg/manager"
	"github.com/cuemby/minepanel/pkg/metrics"
	"github.com/cuemby/minepanel/pkg/runtime"
	"github.com/cuemby/minepanel/pkg/types"
)

const (
	// DefaultInterval is the time between reconciliation cycles
	DefaultInterval = 10 * time.Second

	// DefaultSweepInterval is the time between sweeps of deleted instance data
	DefaultSweepInterval = time.Hour
)

// SessionCleaner drops expired session bookkeeping
type SessionCleaner interface {
	CleanupExpired()
}

// Reconciler keeps stored instance records in line with the runtime
type Reconciler struct {
	manager  *manager.Manager
	sessions SessionCleaner
	interval time.Duration
	sweepInt time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu        sync.Mutex
	lastSweep time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewReconciler creates a new reconciler. sessions may be nil.
func NewReconciler(mgr *manager.Manager, sessions SessionCleaner, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		manager:  mgr,
		sessions: sessions,
		interval: interval,
		sweepInt: DefaultSweepInterval,
		now:      time.Now,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// SetSweepInterval changes how often deleted instance data is swept
func (r *Reconciler) SetSweepInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepInt = d
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler and waits for the current cycle to finish
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

// run is the main reconciliation loop
func (r *Reconciler) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.interval)
			if err := r.Reconcile(ctx); err != nil {
				r.logger.Warn().Err(err).Msg("Reconciliation cycle failed")
			}
			cancel()
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one reconciliation cycle
func (r *Reconciler) Reconcile(ctx context.Context) error {
	// Start timing the reconciliation cycle
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions != nil {
		r.sessions.CleanupExpired()
	}

	rt := r.manager.Runtime()
	if err := metrics.Check(ctx, metrics.ComponentRuntime, rt.Ping); err != nil {
		metrics.ReconciliationErrorsTotal.Inc()
		return err
	}

	if err := r.reconcileInstances(ctx, rt); err != nil {
		metrics.ReconciliationErrorsTotal.Inc()
		return err
	}

	now := r.now()
	if now.Sub(r.lastSweep) >= r.sweepInt {
		r.lastSweep = now
		if _, err := r.manager.SweepDeleted(ctx, now); err != nil {
			metrics.ReconciliationErrorsTotal.Inc()
			r.logger.Warn().Err(err).Msg("Failed to sweep deleted instance data")
		}
	}
	return nil
}

// reconcileInstances syncs record statuses with what the runtime reports
func (r *Reconciler) reconcileInstances(ctx context.Context, rt runtime.Runtime) error {
	live, err := rt.List(ctx, runtime.Filter{})
	if err != nil {
		return err
	}
	records, err := r.manager.ListRecords(ctx)
	if err != nil {
		return err
	}

	byID := make(map[string]*runtime.InstanceSummary, len(live))
	for i := range live {
		byID[live[i].ID] = &live[i]
	}

	known := make(map[string]bool, len(records))
	for _, rec := range records {
		known[rec.ID] = true
		if !rec.Status.Live() || rec.Status == types.StatusDeleting {
			continue
		}
		if rec.Status == types.StatusCreating && r.manager.InFlight(rec.CanonicalName) {
			continue
		}

		status, reason := rec.Status, rec.Error
		s, ok := byID[rec.ID]
		switch {
		case rec.Status == types.StatusCreating && (!ok || s.Status == types.StatusCreating):
			// nothing is provisioning it any more
			status, reason = types.StatusError, "provisioning interrupted"
		case !ok && rec.Status == types.StatusError:
			// already failed, nothing to compare against
		case !ok:
			status, reason = types.StatusError, "container missing"
		default:
			status = s.Status
			if status != types.StatusError {
				reason = ""
			}
		}

		changed, err := r.manager.UpdateStatus(ctx, rec.ID, status, reason)
		if err != nil {
			r.logger.Warn().Err(err).Str("instance", rec.CanonicalName).Msg("Failed to update instance status")
			continue
		}
		if changed {
			r.logger.Info().
				Str("instance", rec.CanonicalName).
				Str("from", string(rec.Status)).
				Str("to", string(status)).
				Msg("Instance status reconciled")
		}
	}

	for i := range live {
		s := &live[i]
		if known[s.ID] || r.manager.InFlight(s.CanonicalName) {
			continue
		}
		if _, err := r.manager.Adopt(s); err != nil && !errors.Is(err, types.ErrValidation) {
			r.logger.Warn().Err(err).Str("instance", s.CanonicalName).Msg("Failed to adopt container")
		}
	}
	return nil
}
