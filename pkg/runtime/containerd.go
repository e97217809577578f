package runtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/containerd/containerd/runtime/restart"
	"github.com/google/uuid"
	"github.com/nxadm/tail"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cuemby/minepanel/pkg/log"
	"github.com/cuemby/minepanel/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace for managed instances
	DefaultNamespace = "minepanel"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// DefaultStopTimeout is the grace period between SIGTERM and SIGKILL
	DefaultStopTimeout = 30 * time.Second

	pullPollInterval = 250 * time.Millisecond
)

// DefaultExecCommand forwards operator input to the server console
var DefaultExecCommand = []string{"send-command"}

// ContainerdConfig configures the containerd runtime
type ContainerdConfig struct {
	SocketPath  string
	Namespace   string
	LogDir      string
	StopTimeout time.Duration
	ExecCommand []string
}

// ContainerdRuntime implements Runtime using containerd
type ContainerdRuntime struct {
	client      *containerd.Client
	namespace   string
	logDir      string
	stopTimeout time.Duration
	execCommand []string
	logger      zerolog.Logger
}

// NewContainerdRuntime creates a new containerd runtime client
func NewContainerdRuntime(cfg ContainerdConfig) (*ContainerdRuntime, error) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if len(cfg.ExecCommand) == 0 {
		cfg.ExecCommand = DefaultExecCommand
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(os.TempDir(), "minepanel-logs")
	}
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	client, err := containerd.New(cfg.SocketPath, containerd.WithDefaultNamespace(cfg.Namespace))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w: %v", types.ErrRuntimeUnavailable, err)
	}

	return &ContainerdRuntime{
		client:      client,
		namespace:   cfg.Namespace,
		logDir:      cfg.LogDir,
		stopTimeout: cfg.StopTimeout,
		execCommand: cfg.ExecCommand,
		logger:      log.WithComponent("runtime"),
	}, nil
}

// Close closes the containerd client connection
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *ContainerdRuntime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

// LogPath returns the combined output file of a container
func (r *ContainerdRuntime) LogPath(id string) string {
	return filepath.Join(r.logDir, id+".log")
}

// Ping checks that containerd is serving
func (r *ContainerdRuntime) Ping(ctx context.Context) error {
	serving, err := r.client.IsServing(r.ctx(ctx))
	if err != nil {
		return wrapErr("ping", "containerd", err)
	}
	if !serving {
		return fmt.Errorf("containerd is not serving: %w", types.ErrRuntimeUnavailable)
	}
	return nil
}

// List returns every managed container
func (r *ContainerdRuntime) List(ctx context.Context, filter Filter) ([]InstanceSummary, error) {
	ctx = r.ctx(ctx)

	containers, err := r.client.Containers(ctx, fmt.Sprintf("labels.%q==true", LabelManaged))
	if err != nil {
		return nil, wrapErr("list", "containers", err)
	}

	out := make([]InstanceSummary, 0, len(containers))
	for _, c := range containers {
		summary, err := r.summarize(ctx, c)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				// removed between list and inspect
				continue
			}
			return nil, err
		}
		if filter.CanonicalName != "" && summary.CanonicalName != filter.CanonicalName {
			continue
		}
		out = append(out, *summary)
	}
	return out, nil
}

// Inspect returns the summary of one container
func (r *ContainerdRuntime) Inspect(ctx context.Context, id string) (*InstanceSummary, error) {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return nil, wrapErr("load container", id, err)
	}
	return r.summarize(ctx, container)
}

func (r *ContainerdRuntime) summarize(ctx context.Context, c containerd.Container) (*InstanceSummary, error) {
	info, err := c.Info(ctx)
	if err != nil {
		return nil, wrapErr("inspect", c.ID(), err)
	}

	summary := SummaryFromLabels(info.ID, info.Labels)
	summary.Image = info.Image
	summary.CreatedAt = info.CreatedAt

	st, err := r.status(ctx, c)
	if err != nil {
		return nil, err
	}
	summary.Status = st
	return &summary, nil
}

// status maps the containerd task state onto instance statuses
func (r *ContainerdRuntime) status(ctx context.Context, c containerd.Container) (types.InstanceStatus, error) {
	task, err := c.Task(ctx, nil)
	if err != nil {
		if errdefs.IsNotFound(err) {
			// No task means container is not running
			return types.StatusStopped, nil
		}
		return types.StatusError, wrapErr("load task", c.ID(), err)
	}

	st, err := task.Status(ctx)
	if err != nil {
		return types.StatusError, wrapErr("task status", c.ID(), err)
	}

	switch st.Status {
	case containerd.Running, containerd.Paused, containerd.Pausing:
		return types.StatusRunning, nil
	case containerd.Created:
		return types.StatusCreating, nil
	case containerd.Stopped:
		if st.ExitStatus == 0 {
			return types.StatusStopped, nil
		}
		return types.StatusError, nil
	default:
		return types.StatusStopped, nil
	}
}

// ImageExists reports whether ref is already in the local image store
func (r *ContainerdRuntime) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, err := r.client.GetImage(r.ctx(ctx), ref)
	if err == nil {
		return true, nil
	}
	if errdefs.IsNotFound(err) {
		return false, nil
	}
	return false, wrapErr("get image", ref, err)
}

// Pull fetches and unpacks an image. Ingest statuses are polled from the
// content store while the fetch runs and reported per layer.
func (r *ContainerdRuntime) Pull(ctx context.Context, ref string, onProgress func(PullEvent)) error {
	ctx = r.ctx(ctx)
	if onProgress == nil {
		onProgress = func(PullEvent) {}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(pullPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				statuses, err := r.client.ContentStore().ListStatuses(ctx)
				if err != nil {
					continue
				}
				for _, s := range statuses {
					onProgress(PullEvent{
						Stage:   PullStageDownloading,
						Layer:   s.Ref,
						Current: s.Offset,
						Total:   s.Total,
					})
				}
			}
		}
	}()

	image, err := r.client.Pull(ctx, ref)
	close(stop)
	wg.Wait()
	if err != nil {
		return wrapErr("pull image", ref, err)
	}

	onProgress(PullEvent{Stage: PullStageExtracting, Layer: ref, Current: 0, Total: 1})
	if err := image.Unpack(ctx, ""); err != nil {
		return wrapErr("unpack image", ref, err)
	}
	onProgress(PullEvent{Stage: PullStageExtracting, Layer: ref, Current: 1, Total: 1})

	return nil
}

// Create creates a container from a spec. The game server shares the host
// network namespace; the host port reaches it through its own port setting.
func (r *ContainerdRuntime) Create(ctx context.Context, spec *CreateSpec) (string, error) {
	ctx = r.ctx(ctx)

	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		return "", wrapErr("get image", spec.Image, err)
	}

	mounts := make([]specs.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		options := []string{"rbind", "rw"}
		if m.ReadOnly {
			options = []string{"rbind", "ro"}
		}
		mounts = append(mounts, specs.Mount{
			Source:      m.Source,
			Destination: m.Target,
			Type:        "bind",
			Options:     options,
		})
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
		oci.WithMounts(mounts),
		oci.WithHostNamespace(specs.NetworkNamespace),
		oci.WithHostHostsFile,
		oci.WithHostResolvconf,
	}
	if spec.MemoryMB > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.MemoryMB)*1024*1024))
	}

	copts := []containerd.NewContainerOpts{
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(Labels(spec)),
	}

	switch spec.RestartPolicy.Condition {
	case types.RestartOnFailure, types.RestartAlways:
		policy := string(spec.RestartPolicy.Condition)
		if spec.RestartPolicy.Condition == types.RestartOnFailure && spec.RestartPolicy.MaxAttempts > 0 {
			policy = fmt.Sprintf("%s:%d", policy, spec.RestartPolicy.MaxAttempts)
		}
		p, err := restart.NewPolicy(policy)
		if err != nil {
			return "", fmt.Errorf("invalid restart policy %q: %w", policy, err)
		}
		copts = append(copts,
			restart.WithStatus(containerd.Running),
			restart.WithPolicy(p),
			restart.WithLogURIString("file://"+r.LogPath(spec.ID)),
		)
	}

	container, err := r.client.NewContainer(ctx, spec.ID, copts...)
	if err != nil {
		return "", wrapErr("create container", spec.ID, err)
	}

	return container.ID(), nil
}

// Start starts a container's task with output captured to its log file
func (r *ContainerdRuntime) Start(ctx context.Context, id string) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return wrapErr("load container", id, err)
	}

	if err := setRestartStatus(ctx, container, containerd.Running); err != nil {
		return wrapErr("mark container running", id, err)
	}

	// a task left over from a previous run must be deleted before a new one is created
	if existing, err := container.Task(ctx, nil); err == nil {
		st, err := existing.Status(ctx)
		if err == nil && st.Status == containerd.Running {
			return nil
		}
		if _, err := existing.Delete(ctx, containerd.WithProcessKill); err != nil {
			return wrapErr("delete stale task", id, err)
		}
	}

	task, err := container.NewTask(ctx, cio.LogFile(r.LogPath(id)))
	if err != nil {
		return wrapErr("create task", id, err)
	}

	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx, containerd.WithProcessKill)
		return wrapErr("start task", id, err)
	}

	return nil
}

// Stop stops a running container
func (r *ContainerdRuntime) Stop(ctx context.Context, id string) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return wrapErr("load container", id, err)
	}

	// the restart monitor must see the stop as intended before the task exits
	if err := setRestartStatus(ctx, container, containerd.Stopped); err != nil {
		return wrapErr("mark container stopped", id, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// Task might not exist (container not running)
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, r.stopTimeout)
	defer cancel()

	// Wait must be registered before the signal so the exit is not missed
	statusC, err := task.Wait(ctx)
	if err != nil {
		return wrapErr("wait for task", id, err)
	}

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil && !errdefs.IsNotFound(err) {
		return wrapErr("kill task", id, err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		// Timeout - force kill (SIGKILL)
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil && !errdefs.IsNotFound(err) {
			return wrapErr("force kill task", id, err)
		}
		<-statusC
	}

	if _, err := task.Delete(ctx); err != nil && !errdefs.IsNotFound(err) {
		return wrapErr("delete task", id, err)
	}

	return nil
}

// setRestartStatus records the desired task status for containerd's restart
// monitor. Containers created without a restart policy are left untouched.
func setRestartStatus(ctx context.Context, container containerd.Container, status containerd.ProcessStatus) error {
	labels, err := container.Labels(ctx)
	if err != nil {
		return err
	}
	if _, ok := labels[restart.StatusLabel]; !ok {
		return nil
	}
	_, err = container.SetLabels(ctx, map[string]string{restart.StatusLabel: string(status)})
	return err
}

// Restart stops then starts a container
func (r *ContainerdRuntime) Restart(ctx context.Context, id string) error {
	if err := r.Stop(ctx, id); err != nil {
		return err
	}
	return r.Start(ctx, id)
}

// Remove removes a container and its snapshot. A failing stop is ignored.
func (r *ContainerdRuntime) Remove(ctx context.Context, id string) error {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return wrapErr("load container", id, err)
	}

	if err := r.Stop(ctx, id); err != nil {
		r.logger.Warn().Err(err).Str("container_id", id).Msg("stop before remove failed")
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return wrapErr("delete container", id, err)
	}

	if err := os.Remove(r.LogPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn().Err(err).Str("container_id", id).Msg("failed to remove output log")
	}

	return nil
}

// AttachOutput follows the container's combined output from the current end of its log
func (r *ContainerdRuntime) AttachOutput(ctx context.Context, id string) (io.ReadCloser, error) {
	if _, err := r.client.LoadContainer(r.ctx(ctx), id); err != nil {
		return nil, wrapErr("load container", id, err)
	}

	t, err := tail.TailFile(r.LogPath(id), tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach output of %s: %w", id, err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer t.Cleanup()
		for {
			select {
			case <-ctx.Done():
				_ = t.Stop()
				pw.CloseWithError(ctx.Err())
				return
			case line, ok := <-t.Lines:
				if !ok {
					pw.CloseWithError(t.Err())
					return
				}
				if line.Err != nil {
					continue
				}
				if _, err := io.WriteString(pw, line.Text+"\n"); err != nil {
					// reader closed
					_ = t.Stop()
					return
				}
			}
		}
	}()

	return pr, nil
}

// Exec runs the configured console command with the operator's text as argument
func (r *ContainerdRuntime) Exec(ctx context.Context, id string, command string) ([]byte, error) {
	ctx = r.ctx(ctx)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return nil, wrapErr("load container", id, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil, wrapErr("load task", id, err)
	}
	spec, err := container.Spec(ctx)
	if err != nil {
		return nil, wrapErr("load spec", id, err)
	}

	pspec := *spec.Process
	pspec.Terminal = false
	pspec.Args = append(append([]string{}, r.execCommand...), strings.Fields(command)...)

	out := &syncBuffer{}
	execID := "exec-" + uuid.NewString()[:8]
	process, err := task.Exec(ctx, execID, &pspec, cio.NewCreator(cio.WithStreams(nil, out, out)))
	if err != nil {
		return nil, wrapErr("exec", id, err)
	}
	defer func() {
		_, _ = process.Delete(ctx)
	}()

	statusC, err := process.Wait(ctx)
	if err != nil {
		return nil, wrapErr("wait for exec", id, err)
	}
	if err := process.Start(ctx); err != nil {
		return nil, wrapErr("start exec", id, err)
	}

	exit := <-statusC
	process.IO().Wait()

	code, _, err := exit.Result()
	if err != nil {
		return out.Bytes(), wrapErr("exec result", id, err)
	}
	if code != 0 {
		return out.Bytes(), fmt.Errorf("command exited with status %d: %s", code, strings.TrimSpace(out.String()))
	}
	return out.Bytes(), nil
}

// syncBuffer lets stdout and stderr copiers share one buffer
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *syncBuffer) String() string {
	return string(b.Bytes())
}

// wrapErr maps containerd and transport errors onto the runtime error taxonomy
func wrapErr(op, subject string, err error) error {
	switch {
	case errdefs.IsNotFound(err):
		return fmt.Errorf("%s %s: %w", op, subject, types.ErrNotFound)
	case errdefs.IsUnavailable(err),
		status.Code(err) == codes.Unavailable,
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ENOENT):
		return fmt.Errorf("%s %s: %w: %v", op, subject, types.ErrRuntimeUnavailable, err)
	}
	return fmt.Errorf("failed to %s %s: %w", op, subject, err)
}
