package types

import (
	"regexp"
	"strings"
	"time"
)

const (
	// NamePrefix tags managed workloads so they are distinguishable from
	// unrelated containers on the same host
	NamePrefix = "mc-"

	// DefaultInternalPort is the IPv4 port the image listens on when no port is set
	DefaultInternalPort = 19132

	// DefaultImage is the image provisioned when none is configured
	DefaultImage = "docker.io/itzg/minecraft-bedrock-server:latest"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// CanonicalName derives the managed name for a user-supplied server name:
// lowercased, whitespace runs replaced by a hyphen, prefixed with NamePrefix.
func CanonicalName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = whitespaceRun.ReplaceAllString(n, "-")
	if strings.HasPrefix(n, NamePrefix) {
		return n
	}
	return NamePrefix + n
}

// DisplayName strips the managed prefix from a canonical name
func DisplayName(canonical string) string {
	return strings.TrimPrefix(canonical, NamePrefix)
}

// InstanceStatus represents the lifecycle state of an instance
type InstanceStatus string

const (
	StatusCreating   InstanceStatus = "creating"
	StatusRunning    InstanceStatus = "running"
	StatusStopped    InstanceStatus = "stopped"
	StatusRestarting InstanceStatus = "restarting"
	StatusDeleting   InstanceStatus = "deleting"
	StatusDeleted    InstanceStatus = "deleted"
	StatusError      InstanceStatus = "error"
)

// Live reports whether an instance in this status still owns its name and port
func (s InstanceStatus) Live() bool {
	return s != StatusDeleted
}

// WorldParams are the parameters that shape a generated world. Unset
// switches keep the image defaults.
type WorldParams struct {
	Seed        string `json:"seed,omitempty"`
	GameMode    string `json:"game_mode,omitempty"`
	Difficulty  string `json:"difficulty,omitempty"`
	AllowCheats *bool  `json:"allow_cheats,omitempty"`
	OnlineMode  *bool  `json:"online_mode,omitempty"`
	LevelType   string `json:"level_type,omitempty"`
	Version     string `json:"version,omitempty"`
}

// Instance represents one managed game-server workload
type Instance struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	CanonicalName string         `json:"canonical_name"`
	Status        InstanceStatus `json:"status"`
	Image         string         `json:"image"`
	HostPort      int            `json:"host_port"`
	HostPortV6    int            `json:"host_port_v6,omitempty"`
	InternalPort  int            `json:"internal_port"`
	MemoryMB      int64          `json:"memory_mb"`
	World         WorldParams    `json:"world"`
	DataDir       string         `json:"data_dir"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`

	// Soft-delete bookkeeping
	DeletedAt   time.Time `json:"deleted_at,omitempty"`
	RetainedDir string    `json:"retained_dir,omitempty"`
}

// Action is a lifecycle verb accepted for an existing instance
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionDelete  Action = "delete"
)

// ParseAction validates a lifecycle verb
func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToLower(s)); a {
	case ActionStart, ActionStop, ActionRestart, ActionDelete:
		return a, true
	}
	return "", false
}

// DeployRequest is the raw deploy intent as submitted by an operator.
// Numeric fields arrive as strings and are validated by the pipeline.
type DeployRequest struct {
	Name   string      `json:"name"`
	Port   string      `json:"port"`
	Memory string      `json:"memory"`
	World  WorldParams `json:"world"`
}

// PortMapping carries the ports an instance binds. Instances share the host
// network, so both the IPv4 and the IPv6 port must be unique per host.
type PortMapping struct {
	HostPort      int
	HostPortV6    int
	ContainerPort int
	Protocol      string // "tcp" or "udp"
}

// RestartPolicy defines container restart behavior
type RestartPolicy struct {
	Condition   RestartCondition
	MaxAttempts int
}

// RestartCondition defines when to restart
type RestartCondition string

const (
	RestartNever     RestartCondition = "never"
	RestartOnFailure RestartCondition = "on-failure"
	RestartAlways    RestartCondition = "always"
)

// Mount defines a host directory bound into a container
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}
