package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/minepanel/pkg/deploy"
	"github.com/cuemby/minepanel/pkg/events"
	"github.com/cuemby/minepanel/pkg/log"
	"github.com/cuemby/minepanel/pkg/metrics"
	"github.com/cuemby/minepanel/pkg/network"
	"github.com/cuemby/minepanel/pkg/properties"
	"github.com/cuemby/minepanel/pkg/runtime"
	"github.com/cuemby/minepanel/pkg/storage"
	"github.com/cuemby/minepanel/pkg/types"
	"github.com/cuemby/minepanel/pkg/volume"
	"github.com/cuemby/minepanel/pkg/world"
)

// InstancesDir is the directory under the data root holding instance data
const InstancesDir = "instances"

// DefaultRetention is how long the data of a deleted instance is kept
const DefaultRetention = 7 * 24 * time.Hour

// Manager is the facade over every instance operation
type Manager struct {
	dataDir   string
	retention time.Duration

	runtime  runtime.Runtime
	store    *storage.BoltStore
	volumes  *volume.LocalDriver
	broker   *events.Broker
	ports    *network.Reservations
	deployer *deploy.Deployer
	worlds   *world.Service
	props    *properties.Editor
	logger   zerolog.Logger

	// per-instance locks serialize lifecycle operations on one instance
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Config holds configuration for creating a Manager
type Config struct {
	DataDir      string
	Image        string
	InternalPort int
	Retention    time.Duration
	// DefaultMemoryMB supplies the memory limit for deploys that name none
	DefaultMemoryMB func() int64
	RestartPolicy   types.RestartPolicy
}

// NewManager opens the instance store and wires the pipeline around rt
func NewManager(cfg *Config, rt runtime.Runtime) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Create BoltDB store
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	volumes, err := volume.NewLocalDriver(filepath.Join(cfg.DataDir, InstancesDir))
	if err != nil {
		store.Close()
		return nil, err
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}

	// Create event broker
	broker := events.NewBroker()
	broker.Start()

	ports := network.NewReservations()

	return &Manager{
		dataDir:   cfg.DataDir,
		retention: retention,
		runtime:   rt,
		store:     store,
		volumes:   volumes,
		broker:    broker,
		ports:     ports,
		deployer: deploy.NewDeployer(rt, store, volumes, broker, ports, deploy.Config{
			Image:           cfg.Image,
			InternalPort:    cfg.InternalPort,
			DefaultMemoryMB: cfg.DefaultMemoryMB,
			RestartPolicy:   cfg.RestartPolicy,
		}),
		worlds: world.NewService(volumes),
		props:  properties.NewEditor(volumes),
		logger: log.WithComponent("manager"),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Broker returns the event broker
func (m *Manager) Broker() *events.Broker {
	return m.broker
}

// Runtime returns the container runtime
func (m *Manager) Runtime() runtime.Runtime {
	return m.runtime
}

// Store returns the instance store
func (m *Manager) Store() storage.Store {
	return m.store
}

// Retention returns how long deleted instance data is kept
func (m *Manager) Retention() time.Duration {
	return m.retention
}

// InFlight reports whether a deploy run for canonical is still going
func (m *Manager) InFlight(canonical string) bool {
	return m.deployer.InFlight(canonical)
}

func (m *Manager) lock(id string) func() {
	m.locksMu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	m.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// Deploy validates a request and starts provisioning
func (m *Manager) Deploy(ctx context.Context, req types.DeployRequest) (*types.Instance, error) {
	return m.deployer.Deploy(ctx, req)
}

// ListInstances returns every live instance. Statuses come from the runtime
// when it knows the container; containers carrying the managed labels but
// missing from the store are listed from their labels.
func (m *Manager) ListInstances(ctx context.Context) ([]*types.Instance, error) {
	live, err := m.runtime.List(ctx, runtime.Filter{})
	if err != nil {
		return nil, err
	}
	records, err := m.store.ListInstances()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	byID := make(map[string]*types.Instance, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	out := make([]*types.Instance, 0, len(live)+len(records))
	seen := make(map[string]bool, len(live))
	for i := range live {
		s := &live[i]
		seen[s.ID] = true
		inst, ok := byID[s.ID]
		if !ok {
			inst = FromSummary(s, m.volumes.Path(s.CanonicalName))
		}
		if inst.Status != types.StatusCreating || !m.deployer.InFlight(inst.CanonicalName) {
			inst.Status = s.Status
		}
		out = append(out, inst)
	}

	for _, r := range records {
		if seen[r.ID] || !r.Status.Live() {
			continue
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ListRecords returns every stored record, including deleted ones
func (m *Manager) ListRecords(ctx context.Context) ([]*types.Instance, error) {
	return m.store.ListInstances()
}

// FromSummary builds an instance from runtime labels
func FromSummary(s *runtime.InstanceSummary, dataDir string) *types.Instance {
	return &types.Instance{
		ID:            s.ID,
		Name:          s.DisplayName,
		CanonicalName: s.CanonicalName,
		Status:        s.Status,
		Image:         s.Image,
		HostPort:      s.HostPort,
		HostPortV6:    s.HostPortV6,
		InternalPort:  s.InternalPort,
		MemoryMB:      s.MemoryMB,
		DataDir:       dataDir,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.CreatedAt,
	}
}

// GetInstance resolves an instance by container ID or by name
func (m *Manager) GetInstance(ctx context.Context, ref string) (*types.Instance, error) {
	inst, err := m.store.GetInstance(ref)
	if errors.Is(err, types.ErrNotFound) {
		inst, err = m.store.GetInstanceByName(types.CanonicalName(ref))
	}
	if errors.Is(err, types.ErrNotFound) {
		// a managed container the store has not seen
		s, ierr := m.runtime.Inspect(ctx, ref)
		if ierr != nil {
			return nil, fmt.Errorf("instance %s: %w", ref, types.ErrNotFound)
		}
		return FromSummary(s, m.volumes.Path(s.CanonicalName)), nil
	}
	if err != nil {
		return nil, err
	}
	if !inst.Status.Live() {
		return nil, fmt.Errorf("instance %s was deleted: %w", ref, types.ErrNotFound)
	}

	s, err := m.runtime.Inspect(ctx, inst.ID)
	switch {
	case err == nil:
		if inst.Status != types.StatusCreating || !m.deployer.InFlight(inst.CanonicalName) {
			inst.Status = s.Status
		}
	case errors.Is(err, types.ErrNotFound):
		// no container yet, or provisioning failed before create
	default:
		return nil, err
	}
	return inst, nil
}

// Action applies a lifecycle verb to an instance
func (m *Manager) Action(ctx context.Context, ref string, verb string) (*types.Instance, error) {
	action, ok := types.ParseAction(verb)
	if !ok {
		return nil, types.Validationf("unknown action %q", verb)
	}

	inst, err := m.GetInstance(ctx, ref)
	if err != nil {
		return nil, err
	}
	if inst.Status == types.StatusCreating && m.deployer.InFlight(inst.CanonicalName) {
		return nil, fmt.Errorf("%s is still being provisioned: %w", inst.CanonicalName, types.ErrInstanceBusy)
	}

	unlock := m.lock(inst.ID)
	defer unlock()

	logger := log.WithInstance(m.logger, inst.CanonicalName)
	err = m.apply(ctx, inst, action)
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(string(action), "failure").Inc()
		logger.Warn().Err(err).Str("action", string(action)).Msg("Lifecycle action failed")
		return nil, err
	}
	metrics.ActionsTotal.WithLabelValues(string(action), "success").Inc()
	logger.Info().Str("action", string(action)).Str("status", string(inst.Status)).Msg("Lifecycle action applied")
	return inst, nil
}

func (m *Manager) apply(ctx context.Context, inst *types.Instance, action types.Action) error {
	switch action {
	case types.ActionStart:
		if err := m.runtime.Start(ctx, inst.ID); err != nil {
			return fmt.Errorf("failed to start %s: %w", inst.CanonicalName, err)
		}
		return m.SetStatus(inst, types.StatusRunning, "")

	case types.ActionStop:
		if err := m.runtime.Stop(ctx, inst.ID); err != nil {
			return fmt.Errorf("failed to stop %s: %w", inst.CanonicalName, err)
		}
		return m.SetStatus(inst, types.StatusStopped, "")

	case types.ActionRestart:
		if err := m.SetStatus(inst, types.StatusRestarting, ""); err != nil {
			return err
		}
		if err := m.runtime.Restart(ctx, inst.ID); err != nil {
			_ = m.SetStatus(inst, types.StatusError, err.Error())
			return fmt.Errorf("failed to restart %s: %w", inst.CanonicalName, err)
		}
		return m.SetStatus(inst, types.StatusRunning, "")

	case types.ActionDelete:
		return m.delete(ctx, inst)
	}
	return types.Validationf("unknown action %q", action)
}

// delete removes the container and retains the data directory
func (m *Manager) delete(ctx context.Context, inst *types.Instance) error {
	if err := m.SetStatus(inst, types.StatusDeleting, ""); err != nil {
		return err
	}

	if err := m.runtime.Remove(ctx, inst.ID); err != nil && !errors.Is(err, types.ErrNotFound) {
		_ = m.SetStatus(inst, types.StatusError, err.Error())
		return fmt.Errorf("failed to remove %s: %w", inst.CanonicalName, err)
	}

	now := time.Now()
	retained, err := m.volumes.SoftDelete(inst.CanonicalName, now)
	if err != nil {
		// the data still sits under the live name; deleting again retries the move
		_ = m.SetStatus(inst, types.StatusError, err.Error())
		return fmt.Errorf("failed to retain data of %s: %w", inst.CanonicalName, err)
	}

	inst.Status = types.StatusDeleted
	inst.DeletedAt = now
	inst.RetainedDir = retained
	inst.UpdatedAt = now
	if err := m.store.PutInstance(inst); err != nil {
		return fmt.Errorf("failed to record deletion: %w", err)
	}

	m.broker.Publish(&events.Event{
		Type:    events.EventInstanceDeleted,
		Topic:   inst.CanonicalName,
		Message: fmt.Sprintf("Server %s deleted", inst.Name),
		Status:  string(types.StatusDeleted),
		Metadata: map[string]string{
			"instance_id":  inst.ID,
			"retained_dir": retained,
		},
	})
	return nil
}

// SetStatus records a status change and publishes it
func (m *Manager) SetStatus(inst *types.Instance, status types.InstanceStatus, reason string) error {
	inst.Status = status
	inst.Error = reason
	inst.UpdatedAt = time.Now()
	if err := m.store.PutInstance(inst); err != nil {
		return fmt.Errorf("failed to record status of %s: %w", inst.CanonicalName, err)
	}

	msg := fmt.Sprintf("Server %s is %s", inst.Name, status)
	if reason != "" {
		msg += ": " + reason
	}
	m.broker.Publish(&events.Event{
		Type:     events.EventInstanceStatus,
		Topic:    inst.CanonicalName,
		Message:  msg,
		Status:   string(status),
		Metadata: map[string]string{"instance_id": inst.ID},
	})
	return nil
}

// requireStopped fails with ErrInstanceRunning unless the container is down
func (m *Manager) requireStopped(ctx context.Context, ref string) (*types.Instance, error) {
	inst, err := m.GetInstance(ctx, ref)
	if err != nil {
		return nil, err
	}
	switch inst.Status {
	case types.StatusRunning, types.StatusRestarting, types.StatusCreating:
		return nil, fmt.Errorf("%s: %w", inst.CanonicalName, types.ErrInstanceRunning)
	}
	return inst, nil
}

// ExportWorld writes the world archive of a stopped instance to w
func (m *Manager) ExportWorld(ctx context.Context, ref string, w io.Writer) (*types.Instance, error) {
	inst, err := m.requireStopped(ctx, ref)
	if err != nil {
		return nil, err
	}

	unlock := m.lock(inst.ID)
	defer unlock()
	return inst, m.worlds.WriteArchive(inst.CanonicalName, w)
}

// ImportWorld replaces the world of a stopped instance
func (m *Manager) ImportWorld(ctx context.Context, ref string, data []byte) (*types.Instance, error) {
	inst, err := m.requireStopped(ctx, ref)
	if err != nil {
		return nil, err
	}

	unlock := m.lock(inst.ID)
	defer unlock()
	if err := m.worlds.Import(inst.CanonicalName, data); err != nil {
		return nil, err
	}
	return inst, nil
}

// GetProperties returns the server.properties of an instance
func (m *Manager) GetProperties(ctx context.Context, ref string) (map[string]string, error) {
	inst, err := m.GetInstance(ctx, ref)
	if err != nil {
		return nil, err
	}
	return m.props.Get(inst.CanonicalName)
}

// SetProperties merges values into the server.properties of an instance.
// Changes apply on the next start.
func (m *Manager) SetProperties(ctx context.Context, ref string, values map[string]string) (map[string]string, error) {
	inst, err := m.GetInstance(ctx, ref)
	if err != nil {
		return nil, err
	}

	unlock := m.lock(inst.ID)
	defer unlock()
	return m.props.Set(inst.CanonicalName, values)
}

// SweepDeleted permanently removes retained data older than the retention
// period and purges the matching records
func (m *Manager) SweepDeleted(ctx context.Context, now time.Time) ([]string, error) {
	removed, err := m.volumes.Sweep(m.retention, now)
	if err != nil {
		return removed, err
	}

	gone := make(map[string]bool, len(removed))
	for _, p := range removed {
		gone[p] = true
	}

	records, err := m.store.ListInstances()
	if err != nil {
		return removed, fmt.Errorf("failed to list instances: %w", err)
	}
	for _, r := range records {
		if r.Status != types.StatusDeleted {
			continue
		}
		if gone[r.RetainedDir] || (r.RetainedDir == "" && now.Sub(r.DeletedAt) >= m.retention) {
			if err := m.store.DeleteInstance(r.ID); err != nil {
				return removed, fmt.Errorf("failed to purge %s: %w", r.ID, err)
			}
		}
	}

	if len(removed) > 0 {
		m.logger.Info().Int("removed", len(removed)).Msg("Swept retained instance data")
	}
	return removed, nil
}

// Shutdown waits for in-flight deploys, then stops the broker and closes the store
func (m *Manager) Shutdown(ctx context.Context) error {
	if err := m.deployer.Wait(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Aborting in-flight deploys")
		m.deployer.Abort()
		waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = m.deployer.Wait(waitCtx)
		cancel()
	}

	// Stop event broker
	m.broker.Stop()

	if err := m.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

// UpdateStatus records a status observed outside an action. It is a no-op
// when the stored status already matches or the record is gone.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status types.InstanceStatus, reason string) (bool, error) {
	unlock := m.lock(id)
	defer unlock()

	inst, err := m.store.GetInstance(id)
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !inst.Status.Live() || (inst.Status == status && inst.Error == reason) {
		return false, nil
	}
	if inst.Status == types.StatusDeleting {
		// a delete action owns this record
		return false, nil
	}
	return true, m.SetStatus(inst, status, reason)
}

// Adopt records a managed container the store has never seen
func (m *Manager) Adopt(s *runtime.InstanceSummary) (*types.Instance, error) {
	inst := FromSummary(s, m.volumes.Path(s.CanonicalName))
	if err := m.store.PutInstance(inst); err != nil {
		return nil, fmt.Errorf("failed to adopt %s: %w", s.CanonicalName, err)
	}
	m.logger.Info().Str("instance", inst.CanonicalName).Str("instance_id", inst.ID).Msg("Adopted container without a record")
	return inst, nil
}
