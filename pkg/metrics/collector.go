package metrics

import (
	"context"
	"time"

	"github.com/cuemby/minepanel/pkg/types"
)

// InstanceLister returns every instance record, deleted ones included
type InstanceLister interface {
	ListRecords(ctx context.Context) ([]*types.Instance, error)
}

// Counter reports a current count, such as connected subscribers
type Counter interface {
	SubscriberCount() int
}

// SessionCounter reports open console sessions
type SessionCounter interface {
	Sessions() int
}

// Collector periodically refreshes gauges that are derived from state
type Collector struct {
	instances   InstanceLister
	subscribers Counter
	sessions    SessionCounter
	interval    time.Duration
	stopCh      chan struct{}
}

// NewCollector creates a new metrics collector. subscribers and sessions may be nil.
func NewCollector(instances InstanceLister, subscribers Counter, sessions SessionCounter) *Collector {
	return &Collector{
		instances:   instances,
		subscribers: subscribers,
		sessions:    sessions,
		interval:    15 * time.Second,
		stopCh:      make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect(context.Background())

		for {
			select {
			case <-ticker.C:
				c.Collect(context.Background())
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect refreshes every gauge once
func (c *Collector) Collect(ctx context.Context) {
	c.collectInstanceMetrics(ctx)

	if c.subscribers != nil {
		EventSubscribers.Set(float64(c.subscribers.SubscriberCount()))
	}
	if c.sessions != nil {
		ConsoleSessions.Set(float64(c.sessions.Sessions()))
	}
}

func (c *Collector) collectInstanceMetrics(ctx context.Context) {
	instances, err := c.instances.ListRecords(ctx)
	if err != nil {
		return
	}

	counts := map[types.InstanceStatus]int{
		types.StatusCreating:   0,
		types.StatusRunning:    0,
		types.StatusStopped:    0,
		types.StatusRestarting: 0,
		types.StatusDeleting:   0,
		types.StatusError:      0,
	}
	retained := 0
	for _, inst := range instances {
		if inst.Status == types.StatusDeleted {
			if inst.RetainedDir != "" {
				retained++
			}
			continue
		}
		counts[inst.Status]++
	}

	// Update metrics
	for status, count := range counts {
		InstancesTotal.WithLabelValues(string(status)).Set(float64(count))
	}
	RetainedInstances.Set(float64(retained))
}
