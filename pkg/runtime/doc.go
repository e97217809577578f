/*
Package runtime is the contract between minepanel and the container engine.

The Runtime interface covers everything the rest of the system asks of the
engine: listing managed containers, pulling images with progress, creating
containers with a memory limit, a host port and a data bind mount, lifecycle
transitions, output streaming and command execution. ContainerdRuntime is the
production implementation; runtimetest.Fake is an in-memory stand-in for tests.

# Architecture

	┌─────────────────── CONTAINERD RUNTIME ───────────────────┐
	│                                                            │
	│  ┌──────────────────────────────────────────────┐         │
	│  │        ContainerdRuntime Client               │         │
	│  │  - Socket: /run/containerd/containerd.sock   │         │
	│  │  - Namespace: minepanel                       │         │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │           Image Operations                    │         │
	│  │  - Pull, polling content store ingests        │         │
	│  │  - Unpack into the default snapshotter        │         │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │        Container Lifecycle                    │         │
	│  │  - Create: OCI spec, labels, memory limit     │         │
	│  │  - Start: task with output to a log file      │         │
	│  │  - Stop: SIGTERM, then SIGKILL on timeout     │         │
	│  │  - Remove: best-effort stop, then delete      │         │
	│  └──────────────────┬───────────────────────────┘         │
	│                     │                                      │
	│  ┌──────────────────▼───────────────────────────┐         │
	│  │        Console                                │         │
	│  │  - AttachOutput: follow the log file          │         │
	│  │  - Exec: send-command <text> in the task      │         │
	│  └───────────────────────────────────────────────┘         │
	└────────────────────────────────────────────────────────────┘

# Labels

Every managed container carries labels with its canonical name, display name,
host and internal port and memory limit. The engine is the source of truth
for which instances exist, so List rebuilds an InstanceSummary from labels
alone:

	minepanel.managed=true
	minepanel.name=mc-survival-mabar
	minepanel.display-name=Survival Mabar
	minepanel.port.host=19134
	minepanel.port.host-v6=19135
	minepanel.port.internal=19132
	minepanel.memory-mb=2048

InstanceSummary.Ports returns every host port an instance binds, which is
what the deployer checks new requests against.

# Networking

Containers join the host network namespace. The game server is told to
listen on the chosen host ports through its SERVER_PORT and SERVER_PORT_V6
environment variables, and the mapping to the fixed internal port is recorded
in labels. No CNI plugin is required. Because every instance binds directly
on the host, the IPv6 port must be as unique as the IPv4 one.

# Restart Policy

Containers created with a restart policy carry containerd's restart monitor
labels (containerd.io/restart.policy and containerd.io/restart.status). The
monitor restarts any task whose status label says running, and for the
"always" policy it does so regardless of how the task exited. Start and Stop
therefore flip the status label to running or stopped before touching the
task, so an operator's stop is not undone by the monitor. Containers without
the labels are left unlabelled.

# Errors

Engine errors are mapped onto the shared taxonomy: a missing container or
image becomes types.ErrNotFound, and a daemon that cannot be reached becomes
types.ErrRuntimeUnavailable. Callers branch with errors.Is.
*/
package runtime
