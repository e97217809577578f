// Package runtimetest provides an in-memory runtime.Runtime for tests.
package runtimetest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/minepanel/pkg/runtime"
	"github.com/cuemby/minepanel/pkg/types"
)

// ExecCall records one Exec invocation
type ExecCall struct {
	ID      string
	Command string
}

type container struct {
	summary runtime.InstanceSummary
	spec    runtime.CreateSpec
	writers []*io.PipeWriter
}

// Fake is a thread-safe in-memory runtime
type Fake struct {
	mu         sync.Mutex
	containers map[string]*container
	images     map[string]bool
	calls      map[string]int
	execs      []ExecCall

	// CreateDelay is slept inside Create before the container appears
	CreateDelay time.Duration
	// PullLayers is the number of layers reported by Pull
	PullLayers int

	PullErr     error
	CreateErr   error
	StartErr    error
	ExecErr     error
	ExecOutput  []byte
	Unavailable bool
}

var _ runtime.Runtime = (*Fake)(nil)

// New returns an empty fake runtime
func New() *Fake {
	return &Fake{
		containers: make(map[string]*container),
		images:     make(map[string]bool),
		calls:      make(map[string]int),
		PullLayers: 2,
	}
}

// AddImage marks an image as present locally
func (f *Fake) AddImage(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[ref] = true
}

// Calls returns how often a method was invoked
func (f *Fake) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// MutatingCalls counts every call that changes runtime state
func (f *Fake) MutatingCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range []string{"Pull", "Create", "Start", "Stop", "Restart", "Remove", "Exec"} {
		n += f.calls[m]
	}
	return n
}

// Execs returns the recorded Exec calls
func (f *Fake) Execs() []ExecCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExecCall(nil), f.execs...)
}

// Spec returns the create spec of a container
func (f *Fake) Spec(id string) (runtime.CreateSpec, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return runtime.CreateSpec{}, false
	}
	return c.spec, true
}

// SetStatus forces the status of a container
func (f *Fake) SetStatus(id string, status types.InstanceStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.summary.Status = status
	}
}

// Emit writes a line to every attached output stream of a container
func (f *Fake) Emit(id, line string) {
	f.mu.Lock()
	c, ok := f.containers[id]
	var writers []*io.PipeWriter
	if ok {
		writers = append(writers, c.writers...)
	}
	f.mu.Unlock()

	for _, w := range writers {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			f.detach(id, w)
		}
	}
}

func (f *Fake) detach(id string, w *io.PipeWriter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return
	}
	for i, cw := range c.writers {
		if cw == w {
			c.writers = append(c.writers[:i], c.writers[i+1:]...)
			return
		}
	}
}

func (f *Fake) enter(method string) error {
	f.calls[method]++
	if f.Unavailable {
		return fmt.Errorf("%s: %w", method, types.ErrRuntimeUnavailable)
	}
	return nil
}

func (f *Fake) lookup(id string) (*container, error) {
	c, ok := f.containers[id]
	if !ok {
		return nil, fmt.Errorf("container %s: %w", id, types.ErrNotFound)
	}
	return c, nil
}

func (f *Fake) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enter("Ping")
}

func (f *Fake) List(ctx context.Context, filter runtime.Filter) ([]runtime.InstanceSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("List"); err != nil {
		return nil, err
	}
	out := make([]runtime.InstanceSummary, 0, len(f.containers))
	for _, c := range f.containers {
		if filter.CanonicalName != "" && c.summary.CanonicalName != filter.CanonicalName {
			continue
		}
		out = append(out, c.summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *Fake) Inspect(ctx context.Context, id string) (*runtime.InstanceSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Inspect"); err != nil {
		return nil, err
	}
	c, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	s := c.summary
	return &s, nil
}

func (f *Fake) ImageExists(ctx context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ImageExists"); err != nil {
		return false, err
	}
	return f.images[ref], nil
}

// Pull reports PullLayers layers downloading in four steps each, then extraction
func (f *Fake) Pull(ctx context.Context, ref string, onProgress func(runtime.PullEvent)) error {
	f.mu.Lock()
	if err := f.enter("Pull"); err != nil {
		f.mu.Unlock()
		return err
	}
	pullErr := f.PullErr
	layers := f.PullLayers
	f.mu.Unlock()

	if onProgress == nil {
		onProgress = func(runtime.PullEvent) {}
	}
	const size = 400
	for l := 0; l < layers; l++ {
		for cur := int64(0); cur <= size; cur += size / 4 {
			if err := ctx.Err(); err != nil {
				return err
			}
			onProgress(runtime.PullEvent{
				Stage:   runtime.PullStageDownloading,
				Layer:   fmt.Sprintf("layer-%d", l),
				Current: cur,
				Total:   size,
			})
		}
	}
	if pullErr != nil {
		return pullErr
	}
	onProgress(runtime.PullEvent{Stage: runtime.PullStageExtracting, Layer: ref, Current: 1, Total: 1})

	f.mu.Lock()
	f.images[ref] = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) Create(ctx context.Context, spec *runtime.CreateSpec) (string, error) {
	f.mu.Lock()
	if err := f.enter("Create"); err != nil {
		f.mu.Unlock()
		return "", err
	}
	delay := f.CreateDelay
	createErr := f.CreateErr
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if createErr != nil {
		return "", createErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.summary.CanonicalName == spec.CanonicalName {
			return "", fmt.Errorf("container %s: %w", spec.CanonicalName, types.ErrAlreadyExists)
		}
		for _, used := range c.summary.Ports() {
			if used == spec.Port.HostPort || used == spec.Port.HostPortV6 {
				return "", fmt.Errorf("host port %d: %w", used, types.ErrPortConflict)
			}
		}
	}

	id := spec.ID
	if id == "" {
		id = uuid.NewString()
	}
	summary := runtime.SummaryFromLabels(id, runtime.Labels(spec))
	summary.Image = spec.Image
	summary.Status = types.StatusCreating
	summary.CreatedAt = time.Now()
	f.containers[id] = &container{summary: summary, spec: *spec}
	return id, nil
}

func (f *Fake) Start(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Start"); err != nil {
		return err
	}
	c, err := f.lookup(id)
	if err != nil {
		return err
	}
	if f.StartErr != nil {
		c.summary.Status = types.StatusError
		return f.StartErr
	}
	c.summary.Status = types.StatusRunning
	return nil
}

func (f *Fake) Stop(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Stop"); err != nil {
		return err
	}
	c, err := f.lookup(id)
	if err != nil {
		return err
	}
	c.summary.Status = types.StatusStopped
	return nil
}

func (f *Fake) Restart(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Restart"); err != nil {
		return err
	}
	c, err := f.lookup(id)
	if err != nil {
		return err
	}
	c.summary.Status = types.StatusRunning
	return nil
}

func (f *Fake) Remove(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Remove"); err != nil {
		return err
	}
	c, err := f.lookup(id)
	if err != nil {
		return err
	}
	for _, w := range c.writers {
		w.Close()
	}
	delete(f.containers, id)
	return nil
}

func (f *Fake) AttachOutput(ctx context.Context, id string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AttachOutput"); err != nil {
		return nil, err
	}
	c, err := f.lookup(id)
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	c.writers = append(c.writers, pw)

	go func() {
		<-ctx.Done()
		pw.CloseWithError(ctx.Err())
		f.detach(id, pw)
	}()
	return pr, nil
}

func (f *Fake) Exec(ctx context.Context, id string, command string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Exec"); err != nil {
		return nil, err
	}
	if _, err := f.lookup(id); err != nil {
		return nil, err
	}
	f.execs = append(f.execs, ExecCall{ID: id, Command: command})
	if f.ExecErr != nil {
		return nil, f.ExecErr
	}
	return f.ExecOutput, nil
}

func (f *Fake) Close() error {
	return nil
}
