package runtime

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/cuemby/minepanel/pkg/types"
)

// Labels attached to every managed container. The runtime is the source of
// truth for the live set, so everything needed to rebuild an InstanceSummary
// travels on the container itself.
const (
	LabelManaged      = "minepanel.managed"
	LabelName         = "minepanel.name"
	LabelDisplayName  = "minepanel.display-name"
	LabelHostPort     = "minepanel.port.host"
	LabelHostPortV6   = "minepanel.port.host-v6"
	LabelInternalPort = "minepanel.port.internal"
	LabelMemoryMB     = "minepanel.memory-mb"
)

// InstanceSummary is what the runtime knows about one managed container
type InstanceSummary struct {
	ID            string
	CanonicalName string
	DisplayName   string
	Image         string
	Status        types.InstanceStatus
	HostPort      int
	HostPortV6    int
	InternalPort  int
	MemoryMB      int64
	CreatedAt     time.Time
	Labels        map[string]string
}

// Filter narrows List results
type Filter struct {
	// CanonicalName restricts the result to one instance name
	CanonicalName string
}

// CreateSpec describes the container to create
type CreateSpec struct {
	ID            string
	CanonicalName string
	DisplayName   string
	Image         string
	Env           []string
	Port          types.PortMapping
	MemoryMB      int64
	Mounts        []types.Mount
	RestartPolicy types.RestartPolicy
}

// PullEvent is one raw progress sample from an image pull
type PullEvent struct {
	Stage   string // "Downloading" or "Extracting"
	Layer   string
	Current int64
	Total   int64
}

const (
	PullStageDownloading = "Downloading"
	PullStageExtracting  = "Extracting"
)

// Runtime is the contract onto the container engine. Every method may fail
// with types.ErrRuntimeUnavailable or types.ErrNotFound.
type Runtime interface {
	Ping(ctx context.Context) error
	List(ctx context.Context, filter Filter) ([]InstanceSummary, error)
	Inspect(ctx context.Context, id string) (*InstanceSummary, error)
	ImageExists(ctx context.Context, ref string) (bool, error)
	Pull(ctx context.Context, ref string, onProgress func(PullEvent)) error
	Create(ctx context.Context, spec *CreateSpec) (string, error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string) error
	Restart(ctx context.Context, id string) error
	// Remove stops the container best-effort, then deletes it
	Remove(ctx context.Context, id string) error
	// AttachOutput streams the combined stdout/stderr of the running process
	AttachOutput(ctx context.Context, id string) (io.ReadCloser, error)
	// Exec runs an operator command against the instance and returns its output
	Exec(ctx context.Context, id string, command string) ([]byte, error)
	Close() error
}

// Labels builds the managed-container label set for a spec
func Labels(spec *CreateSpec) map[string]string {
	return map[string]string{
		LabelManaged:      "true",
		LabelName:         spec.CanonicalName,
		LabelDisplayName:  spec.DisplayName,
		LabelHostPort:     strconv.Itoa(spec.Port.HostPort),
		LabelHostPortV6:   strconv.Itoa(spec.Port.HostPortV6),
		LabelInternalPort: strconv.Itoa(spec.Port.ContainerPort),
		LabelMemoryMB:     strconv.FormatInt(spec.MemoryMB, 10),
	}
}

// SummaryFromLabels fills the label-derived fields of a summary
func SummaryFromLabels(id string, labels map[string]string) InstanceSummary {
	s := InstanceSummary{
		ID:            id,
		CanonicalName: labels[LabelName],
		DisplayName:   labels[LabelDisplayName],
		Labels:        labels,
	}
	s.HostPort, _ = strconv.Atoi(labels[LabelHostPort])
	s.HostPortV6, _ = strconv.Atoi(labels[LabelHostPortV6])
	s.InternalPort, _ = strconv.Atoi(labels[LabelInternalPort])
	s.MemoryMB, _ = strconv.ParseInt(labels[LabelMemoryMB], 10, 64)
	if s.DisplayName == "" {
		s.DisplayName = types.DisplayName(s.CanonicalName)
	}
	return s
}

// Ports returns the non-zero host ports a summary binds
func (s *InstanceSummary) Ports() []int {
	var out []int
	for _, p := range []int{s.HostPort, s.HostPortV6} {
		if p > 0 {
			out = append(out, p)
		}
	}
	return out
}
