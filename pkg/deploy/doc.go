/*
Package deploy implements the provisioning pipeline for game-server instances.

Deploy validates a request synchronously and returns as soon as it is
accepted. Everything after acceptance runs in its own goroutine, reporting
progress on the event broker under the instance's canonical name.

# Architecture

	┌──────────────────────────────────────────────────────────────┐
	│              POST /api/servers  (manager.Deploy)             │
	└────────┬─────────────────────────────────────────────────────┘
	         │ Deploy(ctx, DeployRequest)
	         ▼
	┌──────────────────────────────────────────────────────────────┐
	│                          Deployer                            │
	│  Validate ─► accept (acceptMu) ─► go run ─► provision        │
	└──┬────────────┬─────────────┬─────────────┬────────────┬─────┘
	   │            │             │             │            │
	   ▼            ▼             ▼             ▼            ▼
	 runtime     storage      network       volume +     events
	 List,Pull   instance     Reservations  properties   Broker
	 Create,     records      v4 + v6       data dir,    deploy.*
	 Start                                  .properties

# Validation

	name     trimmed, required; canonical form "mc-" + lowercase slug
	port     integer 1..65535
	memory   "", "2048", "2048M", "2048MB", "4G", "4GB" (MiB);
	         empty uses the configured default; must be positive and at most
	         MaxMemoryMB so the byte limit fits in an int64
	world    seed, game mode, difficulty, level type; allow_cheats and
	         online_mode are optional switches

# Acceptance

Acceptance checks the canonical name and host ports against the runtime's
live set, the instance records and the in-flight reservations under one
lock:

  - a live container or record with the same canonical name → ErrAlreadyExists
  - the IPv4 port bound by any live instance, on v4 or v6   → ErrPortConflict
  - the IPv4 port reserved by a concurrent deploy           → ErrPortConflict

It then claims the IPv4 port, assigns the first free IPv6 port above it with
network.Reservations.ClaimNext, and records the instance as creating.

# Provisioning Run

	resolve   ImageExists, else Pull                      0..10
	download  per-layer counters folded into one value   10..90
	create    data dir, server.properties, container     90
	start     task start                                 95
	done      deploy.succeeded                           100

The container gets the data directory at /data, the memory limit, the
restart policy, and an environment the image reads on first start:

	EULA=TRUE
	SERVER_NAME=<display name>
	SERVER_PORT=<v4 port>
	SERVER_PORT_V6=<v6 port>
	LEVEL_SEED, GAMEMODE, DIFFICULTY, LEVEL_TYPE   when set
	ALLOW_CHEATS, ONLINE_MODE                      only when the request sets them

server.properties receives the same values through properties.WorldValues
before the container is created.

Progress never decreases within one run. A failing run records the instance
as error and publishes deploy.failed at the last reported percentage; nothing
is rolled back, so the operator can inspect or delete the instance. The
reservations are released when the run returns either way.

# Usage Examples

	d := deploy.NewDeployer(rt, store, volumes, broker, ports, cfg)

	inst, err := d.Deploy(ctx, types.DeployRequest{
		Name:   "Survival Mabar",
		Port:   "19132",
		Memory: "4G",
	})
	if err != nil {
		return err
	}

	sub := broker.Subscribe(inst.CanonicalName)
	defer broker.Unsubscribe(sub)

	_ = d.Wait(ctx) // tests and shutdown

# Thread Safety

Deployer is safe for concurrent use. InFlight reports whether a run for a
canonical name is still going, which the reconciler uses to leave creating
records alone.
*/
package deploy
