/*
Package network tracks host port reservations for game-server instances.

Instances share the host network namespace, so two instances can never bind
the same host port. Every instance listens on two UDP ports: the IPv4 port
the operator picked, and an IPv6 port assigned by the panel.

# Architecture

	┌──────────────────────────────────────────────────────────────┐
	│                  deploy.Deployer.accept                      │
	│              (one lock around the whole check)               │
	└────┬──────────────────┬──────────────────────┬───────────────┘
	     │ live containers  │ instance records     │ in flight
	     ▼                  ▼                      ▼
	┌──────────────┐  ┌──────────────┐  ┌──────────────────────────┐
	│ runtime      │  │ storage      │  │ Reservations             │
	│ port labels  │  │ HostPort,    │  │ port → canonical name    │
	│ v4 + v6      │  │ HostPortV6   │  │ Claim / ClaimNext        │
	└──────────────┘  └──────────────┘  └──────────────────────────┘

The runtime's label set records the ports held by live containers and the
store records the ports of every known instance. Reservations covers the
window between accepting a deploy and its container appearing in the
runtime, so two concurrent deploys asking for the same port cannot both be
accepted.

# Reservation Lifecycle

	 1. ACCEPT
	    ├── v4 port in use (runtime or records) → ErrPortConflict
	    ├── Claim(v4, canonical)                → ErrPortConflict if held
	    └── ClaimNext(v4+1, used, canonical)    → first free v6 port
	 2. PROVISION
	    └── Container created with both ports in its labels
	 3. RELEASE
	    └── ReleaseAll(canonical) when the deploy goroutine returns,
	        whether it succeeded or failed

After release the runtime labels and the stored record carry the claim.

# IPv6 Port Assignment

ClaimNext scans upward from its start port, skipping ports in used and ports
reserved by another owner. After 65535 it wraps to MinDynamicPort (1024). A
full scan without a free port fails with ErrPortConflict. The deployer starts
at the IPv4 port plus one, so the common layout is 19132/19133, 19134/19135
and so on.

# Usage Examples

	ports := network.NewReservations()

	if err := ports.Claim(19132, "mc-survival"); err != nil {
		return err // ErrPortConflict
	}
	v6, err := ports.ClaimNext(19133, used, "mc-survival")
	if err != nil {
		ports.ReleaseAll("mc-survival")
		return err
	}
	defer ports.ReleaseAll("mc-survival")

# Thread Safety

Reservations is safe for concurrent use. Claim and ClaimNext are atomic
against each other; the deployer still holds its own lock so that the check
against runtime and store and the claim happen as one step.
*/
package network
