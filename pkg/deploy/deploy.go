package deploy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/minepanel/pkg/events"
	"github.com/cuemby/minepanel/pkg/log"
	"github.com/cuemby/minepanel/pkg/metrics"
	"github.com/cuemby/minepanel/pkg/network"
	"github.com/cuemby/minepanel/pkg/progress"
	"github.com/cuemby/minepanel/pkg/properties"
	"github.com/cuemby/minepanel/pkg/runtime"
	"github.com/cuemby/minepanel/pkg/storage"
	"github.com/cuemby/minepanel/pkg/types"
	"github.com/cuemby/minepanel/pkg/volume"
)

// DataMountPath is where the instance data directory appears inside the container
const DataMountPath = "/data"

// DefaultMemoryMB applies when neither the request nor the policy names a limit
const DefaultMemoryMB int64 = 2048

// MaxMemoryMB is the largest limit whose byte count still fits an int64
const MaxMemoryMB int64 = math.MaxInt64 / (1024 * 1024)

var canonicalPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

// Config holds the deployer's fixed settings
type Config struct {
	Image        string
	InternalPort int
	// DefaultMemoryMB is read at acceptance so settings changes apply to the next deploy
	DefaultMemoryMB func() int64
	RestartPolicy   types.RestartPolicy
}

// Deployer validates deploy requests and runs accepted ones in the background
type Deployer struct {
	runtime runtime.Runtime
	store   storage.Store
	volumes *volume.LocalDriver
	props   *properties.Editor
	broker  *events.Broker
	ports   *network.Reservations
	cfg     Config
	logger  zerolog.Logger

	// acceptMu serializes the check-and-reserve step of concurrent requests
	acceptMu sync.Mutex
	runs     sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc
}

// NewDeployer creates a new deployer
func NewDeployer(rt runtime.Runtime, store storage.Store, volumes *volume.LocalDriver, broker *events.Broker, ports *network.Reservations, cfg Config) *Deployer {
	if cfg.Image == "" {
		cfg.Image = types.DefaultImage
	}
	if cfg.InternalPort == 0 {
		cfg.InternalPort = types.DefaultInternalPort
	}
	if cfg.DefaultMemoryMB == nil {
		cfg.DefaultMemoryMB = func() int64 { return DefaultMemoryMB }
	}
	if cfg.RestartPolicy.Condition == "" {
		cfg.RestartPolicy = types.RestartPolicy{Condition: types.RestartOnFailure}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Deployer{
		runtime: rt,
		store:   store,
		volumes: volumes,
		props:   properties.NewEditor(volumes),
		broker:  broker,
		ports:   ports,
		cfg:     cfg,
		logger:  log.WithComponent("deploy"),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Request is a deploy request after validation
type Request struct {
	Name          string
	CanonicalName string
	HostPort      int
	MemoryMB      int64
	World         types.WorldParams
}

// Validate checks a raw request and normalizes it
func (d *Deployer) Validate(raw types.DeployRequest) (*Request, error) {
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return nil, types.Validationf("name is required")
	}
	canonical := types.CanonicalName(name)
	if !canonicalPattern.MatchString(strings.TrimPrefix(canonical, types.NamePrefix)) {
		return nil, types.Validationf("name %q may only contain letters, digits, spaces, '.', '_' and '-'", name)
	}

	port, err := strconv.Atoi(strings.TrimSpace(raw.Port))
	if err != nil {
		return nil, types.Validationf("port %q is not a number", raw.Port)
	}
	if port < 1 || port > 65535 {
		return nil, types.Validationf("port %d out of range 1-65535", port)
	}

	memory, err := ParseMemory(raw.Memory, d.cfg.DefaultMemoryMB())
	if err != nil {
		return nil, err
	}

	return &Request{
		Name:          name,
		CanonicalName: canonical,
		HostPort:      port,
		MemoryMB:      memory,
		World:         raw.World,
	}, nil
}

// ParseMemory parses a memory limit in MiB. A trailing M, MB, G or GB is
// accepted; an empty value yields def.
func ParseMemory(s string, def int64) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		if def <= 0 {
			return DefaultMemoryMB, nil
		}
		return def, nil
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "GB"):
		s, multiplier = strings.TrimSuffix(s, "GB"), 1024
	case strings.HasSuffix(s, "G"):
		s, multiplier = strings.TrimSuffix(s, "G"), 1024
	case strings.HasSuffix(s, "MB"):
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "M"):
		s = strings.TrimSuffix(s, "M")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, types.Validationf("memory %q is not a number", s)
	}
	if n <= 0 {
		return 0, types.Validationf("memory must be positive")
	}
	if n > MaxMemoryMB/multiplier {
		return 0, types.Validationf("memory %q exceeds the limit of %d MB", s, MaxMemoryMB)
	}
	return n * multiplier, nil
}

// Deploy validates a request, reserves its name and port, and starts the
// provisioning run. It returns once the request is accepted; progress and the
// outcome are published on the broker under the instance's canonical name.
func (d *Deployer) Deploy(ctx context.Context, raw types.DeployRequest) (*types.Instance, error) {
	req, err := d.Validate(raw)
	if err != nil {
		return nil, err
	}

	inst, err := d.accept(ctx, req)
	if err != nil {
		return nil, err
	}

	tracker := progress.NewTracker()
	d.publish(inst, events.EventDeployProgress, tracker.Report(5), fmt.Sprintf("Starting deploy of %s", inst.Name))

	accepted := *inst
	d.runs.Add(1)
	go func() {
		defer d.runs.Done()
		d.run(inst, tracker)
	}()

	return &accepted, nil
}

// accept performs the conflict checks and records the instance. Checks and
// reservation happen under one lock so two requests for the same port cannot
// both pass.
func (d *Deployer) accept(ctx context.Context, req *Request) (*types.Instance, error) {
	d.acceptMu.Lock()
	defer d.acceptMu.Unlock()

	// every host port bound by a live instance, v4 and v6 alike
	used := make(map[int]string)

	live, err := d.runtime.List(ctx, runtime.Filter{})
	if err != nil {
		return nil, err
	}
	for i := range live {
		s := &live[i]
		if s.CanonicalName == req.CanonicalName {
			return nil, fmt.Errorf("instance %s: %w", req.CanonicalName, types.ErrAlreadyExists)
		}
		for _, p := range s.Ports() {
			used[p] = s.CanonicalName
		}
	}

	records, err := d.store.ListInstances()
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	for _, r := range records {
		if !r.Status.Live() {
			continue
		}
		if r.CanonicalName == req.CanonicalName {
			return nil, fmt.Errorf("instance %s: %w", req.CanonicalName, types.ErrAlreadyExists)
		}
		for _, p := range []int{r.HostPort, r.HostPortV6} {
			if p > 0 {
				used[p] = r.CanonicalName
			}
		}
	}

	if owner, ok := used[req.HostPort]; ok {
		return nil, fmt.Errorf("host port %d is used by %s: %w", req.HostPort, owner, types.ErrPortConflict)
	}
	if d.ports.HoldsName(req.CanonicalName) {
		return nil, fmt.Errorf("instance %s: %w", req.CanonicalName, types.ErrAlreadyExists)
	}
	if err := d.ports.Claim(req.HostPort, req.CanonicalName); err != nil {
		return nil, err
	}

	taken := make(map[int]bool, len(used)+1)
	for p := range used {
		taken[p] = true
	}
	taken[req.HostPort] = true
	portV6, err := d.ports.ClaimNext(req.HostPort+1, taken, req.CanonicalName)
	if err != nil {
		d.ports.ReleaseAll(req.CanonicalName)
		return nil, err
	}

	now := time.Now()
	inst := &types.Instance{
		ID:            uuid.NewString(),
		Name:          req.Name,
		CanonicalName: req.CanonicalName,
		Status:        types.StatusCreating,
		Image:         d.cfg.Image,
		HostPort:      req.HostPort,
		HostPortV6:    portV6,
		InternalPort:  d.cfg.InternalPort,
		MemoryMB:      req.MemoryMB,
		World:         req.World,
		DataDir:       d.volumes.Path(req.CanonicalName),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.store.PutInstance(inst); err != nil {
		d.ports.ReleaseAll(req.CanonicalName)
		return nil, fmt.Errorf("failed to record instance: %w", err)
	}

	return inst, nil
}

func (d *Deployer) run(inst *types.Instance, tracker *progress.Tracker) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DeployDuration)
	defer d.ports.ReleaseAll(inst.CanonicalName)

	logger := log.WithInstance(d.logger, inst.CanonicalName)
	logger.Info().Str("instance_id", inst.ID).Int("host_port", inst.HostPort).Int("host_port_v6", inst.HostPortV6).Int64("memory_mb", inst.MemoryMB).Msg("Deploy accepted")

	if err := d.provision(d.baseCtx, inst, tracker); err != nil {
		logger.Error().Err(err).Msg("Deploy failed")
		metrics.DeploysTotal.WithLabelValues("failure").Inc()

		inst.Status = types.StatusError
		inst.Error = err.Error()
		inst.UpdatedAt = time.Now()
		if perr := d.store.PutInstance(inst); perr != nil {
			logger.Error().Err(perr).Msg("Failed to record deploy failure")
		}
		d.publish(inst, events.EventDeployFailed, tracker.Last(), fmt.Sprintf("Deploy of %s failed: %v", inst.Name, err))
		return
	}

	metrics.DeploysTotal.WithLabelValues("success").Inc()
	inst.Status = types.StatusRunning
	inst.Error = ""
	inst.UpdatedAt = time.Now()
	if err := d.store.PutInstance(inst); err != nil {
		logger.Error().Err(err).Msg("Failed to record deployed instance")
	}
	logger.Info().Dur("duration", timer.Duration()).Msg("Deploy succeeded")
	d.publish(inst, events.EventDeploySucceeded, tracker.Report(100), fmt.Sprintf("Server %s is online", inst.Name))
}

func (d *Deployer) provision(ctx context.Context, inst *types.Instance, tracker *progress.Tracker) error {
	exists, err := d.runtime.ImageExists(ctx, inst.Image)
	if err != nil {
		return fmt.Errorf("failed to check image: %w", err)
	}
	tracker.Report(progress.BandFor(progress.StageResolve).Max)

	if !exists {
		if err := d.pull(ctx, inst, tracker); err != nil {
			metrics.ImagePullsTotal.WithLabelValues("failure").Inc()
			return fmt.Errorf("failed to pull image: %w", err)
		}
		metrics.ImagePullsTotal.WithLabelValues("success").Inc()
	}

	d.publish(inst, events.EventDeployProgress, tracker.Observe(progress.StageCreate, 0, 1), "Preparing server space")

	dataDir, err := d.volumes.Ensure(inst.CanonicalName)
	if err != nil {
		return err
	}
	if _, err := d.props.Set(inst.CanonicalName, properties.WorldValues(inst.Name, inst.HostPort, inst.HostPortV6, inst.World)); err != nil {
		return err
	}

	spec := &runtime.CreateSpec{
		ID:            inst.ID,
		CanonicalName: inst.CanonicalName,
		DisplayName:   inst.Name,
		Image:         inst.Image,
		Env:           Env(inst),
		Port: types.PortMapping{
			HostPort:      inst.HostPort,
			HostPortV6:    inst.HostPortV6,
			ContainerPort: inst.InternalPort,
			Protocol:      "udp",
		},
		MemoryMB:      inst.MemoryMB,
		Mounts:        []types.Mount{{Source: dataDir, Target: DataMountPath}},
		RestartPolicy: d.cfg.RestartPolicy,
	}
	if _, err := d.runtime.Create(ctx, spec); err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}

	d.publish(inst, events.EventDeployProgress, tracker.Observe(progress.StageStart, 95, 100), "Starting server")
	if err := d.runtime.Start(ctx, inst.ID); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}

	return nil
}

// pull fetches the image, folding per-layer counters into one percentage
func (d *Deployer) pull(ctx context.Context, inst *types.Instance, tracker *progress.Tracker) error {
	type counter struct{ current, total int64 }
	layers := make(map[string]counter)
	var mu sync.Mutex

	d.publish(inst, events.EventDeployProgress, tracker.Observe(progress.StageDownload, 0, 1), fmt.Sprintf("Pulling %s", inst.Image))

	return d.runtime.Pull(ctx, inst.Image, func(ev runtime.PullEvent) {
		mu.Lock()
		defer mu.Unlock()

		stage := progress.StageDownload
		if ev.Stage == runtime.PullStageExtracting {
			stage = progress.StageExtract
		}
		layers[ev.Layer] = counter{ev.Current, ev.Total}

		var cur, total int64
		for _, c := range layers {
			cur += c.current
			total += c.total
		}

		before := tracker.Last()
		p := tracker.Observe(stage, cur, total)
		if p != before {
			d.publish(inst, events.EventDeployProgress, p, fmt.Sprintf("%s %s", ev.Stage, ev.Layer))
		}
	})
}

// Env builds the container environment for an instance. Instances share the
// host network, so both listen ports are always set explicitly.
func Env(inst *types.Instance) []string {
	w := inst.World
	env := []string{
		"EULA=TRUE",
		"SERVER_NAME=" + inst.Name,
		"SERVER_PORT=" + strconv.Itoa(inst.HostPort),
	}
	if inst.HostPortV6 > 0 {
		env = append(env, "SERVER_PORT_V6="+strconv.Itoa(inst.HostPortV6))
	}
	if w.Seed != "" {
		env = append(env, "LEVEL_SEED="+w.Seed)
	}
	if w.AllowCheats != nil {
		env = append(env, "ALLOW_CHEATS="+strconv.FormatBool(*w.AllowCheats))
	}
	if w.OnlineMode != nil {
		env = append(env, "ONLINE_MODE="+strconv.FormatBool(*w.OnlineMode))
	}
	if w.GameMode != "" {
		env = append(env, "GAMEMODE="+w.GameMode)
	}
	if w.Difficulty != "" {
		env = append(env, "DIFFICULTY="+w.Difficulty)
	}
	if w.LevelType != "" {
		env = append(env, "LEVEL_TYPE="+w.LevelType)
	}
	if w.Version != "" {
		env = append(env, "VERSION="+w.Version)
	}
	return env
}

func (d *Deployer) publish(inst *types.Instance, typ events.EventType, pct int, msg string) {
	d.broker.Publish(&events.Event{
		Type:     typ,
		Topic:    inst.CanonicalName,
		Message:  msg,
		Progress: pct,
		Status:   string(inst.Status),
		Metadata: map[string]string{
			"instance_id":  inst.ID,
			"name":         inst.Name,
			"host_port":    strconv.Itoa(inst.HostPort),
			"host_port_v6": strconv.Itoa(inst.HostPortV6),
		},
	})
}

// InFlight reports whether a provisioning run for canonical has not finished yet
func (d *Deployer) InFlight(canonical string) bool {
	return d.ports.HoldsName(canonical)
}

// Wait blocks until every in-flight run has finished or ctx is done.
// Runs are not cancelled by Wait.
func (d *Deployer) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.New("deploy runs still in flight")
	}
}

// Abort cancels the context of in-flight runs. Used on forced shutdown only.
func (d *Deployer) Abort() {
	d.cancel()
}
