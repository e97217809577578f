package deploy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/minepanel/pkg/events"
	"github.com/cuemby/minepanel/pkg/network"
	"github.com/cuemby/minepanel/pkg/runtime"
	"github.com/cuemby/minepanel/pkg/runtime/runtimetest"
	"github.com/cuemby/minepanel/pkg/storage"
	"github.com/cuemby/minepanel/pkg/types"
	"github.com/cuemby/minepanel/pkg/volume"
)

type fixture struct {
	rt       *runtimetest.Fake
	store    *storage.BoltStore
	volumes  *volume.LocalDriver
	broker   *events.Broker
	ports    *network.Reservations
	deployer *Deployer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	volumes, err := volume.NewLocalDriver(filepath.Join(dir, "instances"))
	require.NoError(t, err)

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	rt := runtimetest.New()
	ports := network.NewReservations()
	f := &fixture{
		rt:      rt,
		store:   store,
		volumes: volumes,
		broker:  broker,
		ports:   ports,
		deployer: NewDeployer(rt, store, volumes, broker, ports, Config{
			DefaultMemoryMB: func() int64 { return 1024 },
		}),
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = f.deployer.Wait(ctx)
	})
	return f
}

// collect reads events until the run's terminal event
func collect(t *testing.T, sub *events.Subscription) []*events.Event {
	t.Helper()
	var out []*events.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C:
			require.True(t, ok, "subscription closed before terminal event")
			out = append(out, ev)
			if ev.Terminal {
				return out
			}
		case <-deadline:
			t.Fatalf("no terminal event after %d events", len(out))
		}
	}
}

func assertNonDecreasing(t *testing.T, evs []*events.Event) {
	t.Helper()
	last := -1
	for _, ev := range evs {
		assert.GreaterOrEqual(t, ev.Progress, last, "progress went backwards at %q", ev.Message)
		last = ev.Progress
	}
}

func TestDeploySurvivalMabar(t *testing.T) {
	f := newFixture(t)
	sub := f.broker.Subscribe("mc-survival-mabar")

	inst, err := f.deployer.Deploy(context.Background(), types.DeployRequest{
		Name:   "Survival Mabar",
		Port:   "19132",
		Memory: "2048",
		World:  types.WorldParams{Seed: "42", GameMode: "survival"},
	})
	require.NoError(t, err)
	assert.Equal(t, "mc-survival-mabar", inst.CanonicalName)
	assert.Equal(t, "Survival Mabar", inst.Name)
	assert.Equal(t, types.StatusCreating, inst.Status)
	assert.Equal(t, 19132, inst.HostPort)
	assert.Equal(t, int64(2048), inst.MemoryMB)

	evs := collect(t, sub)
	assertNonDecreasing(t, evs)

	final := evs[len(evs)-1]
	assert.Equal(t, events.EventDeploySucceeded, final.Type)
	assert.Equal(t, 100, final.Progress)
	assert.Equal(t, inst.ID, final.Metadata["instance_id"])

	// the image was not cached, so a pull happened
	assert.Equal(t, 1, f.rt.Calls("Pull"))

	spec, ok := f.rt.Spec(inst.ID)
	require.True(t, ok)
	assert.Equal(t, int64(2048), spec.MemoryMB)
	assert.Equal(t, 19132, spec.Port.HostPort)
	assert.Equal(t, 19133, spec.Port.HostPortV6)
	assert.Equal(t, types.DefaultInternalPort, spec.Port.ContainerPort)
	assert.Contains(t, spec.Env, "EULA=TRUE")
	assert.Contains(t, spec.Env, "SERVER_NAME=Survival Mabar")
	assert.Contains(t, spec.Env, "SERVER_PORT=19132")
	assert.Contains(t, spec.Env, "SERVER_PORT_V6=19133")
	assert.Contains(t, spec.Env, "LEVEL_SEED=42")
	assert.Contains(t, spec.Env, "GAMEMODE=survival")
	require.Len(t, spec.Mounts, 1)
	assert.Equal(t, f.volumes.Path("mc-survival-mabar"), spec.Mounts[0].Source)
	assert.Equal(t, DataMountPath, spec.Mounts[0].Target)
	assert.Equal(t, types.RestartOnFailure, spec.RestartPolicy.Condition)

	rec, err := f.store.GetInstance(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, rec.Status)

	summary, err := f.rt.Inspect(context.Background(), inst.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, summary.Status)

	raw, err := os.ReadFile(filepath.Join(f.volumes.Path("mc-survival-mabar"), "server.properties"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "server-port=19132")
	assert.Contains(t, string(raw), "server-portv6=19133")

	assert.Empty(t, f.ports.Reserved(), "reservation released after the run")
}

func TestDeploySkipsPullForCachedImage(t *testing.T) {
	f := newFixture(t)
	f.rt.AddImage(types.DefaultImage)
	sub := f.broker.Subscribe("mc-lobby")

	_, err := f.deployer.Deploy(context.Background(), types.DeployRequest{Name: "lobby", Port: "19140"})
	require.NoError(t, err)

	evs := collect(t, sub)
	assert.Equal(t, events.EventDeploySucceeded, evs[len(evs)-1].Type)
	assert.Equal(t, 0, f.rt.Calls("Pull"))
}

func TestDeployConcurrentSamePortConflicts(t *testing.T) {
	f := newFixture(t)
	f.rt.CreateDelay = 300 * time.Millisecond
	sub := f.broker.Subscribe("mc-survival-mabar")

	_, err := f.deployer.Deploy(context.Background(), types.DeployRequest{
		Name: "Survival Mabar", Port: "19132", Memory: "2048",
	})
	require.NoError(t, err)

	// first run is inside Create and its container does not exist yet
	require.Eventually(t, func() bool { return f.rt.Calls("Create") == 1 }, 2*time.Second, 5*time.Millisecond)
	_, err = f.rt.Inspect(context.Background(), "missing")
	require.ErrorIs(t, err, types.ErrNotFound)

	before := f.rt.MutatingCalls()
	_, err = f.deployer.Deploy(context.Background(), types.DeployRequest{
		Name: "Creative", Port: "19132", Memory: "1024",
	})
	assert.ErrorIs(t, err, types.ErrPortConflict)
	assert.Equal(t, before, f.rt.MutatingCalls(), "rejected deploy must not touch the runtime")

	evs := collect(t, sub)
	assert.Equal(t, events.EventDeploySucceeded, evs[len(evs)-1].Type)

	// once the first run is done the live set still holds the port
	_, err = f.deployer.Deploy(context.Background(), types.DeployRequest{Name: "Creative", Port: "19132"})
	assert.ErrorIs(t, err, types.ErrPortConflict)
}

func TestDeployPortBoundByLiveInstance(t *testing.T) {
	f := newFixture(t)

	// a container that was created outside this process
	_, err := f.rt.Create(context.Background(), &runtime.CreateSpec{
		CanonicalName: "mc-existing",
		Port:          types.PortMapping{HostPort: 19150, ContainerPort: types.DefaultInternalPort},
	})
	require.NoError(t, err)

	before := f.rt.MutatingCalls()
	_, err = f.deployer.Deploy(context.Background(), types.DeployRequest{Name: "newcomer", Port: "19150"})
	assert.ErrorIs(t, err, types.ErrPortConflict)
	assert.Equal(t, before, f.rt.MutatingCalls())

	_, err = f.deployer.Deploy(context.Background(), types.DeployRequest{Name: "existing", Port: "19151"})
	assert.ErrorIs(t, err, types.ErrAlreadyExists)
	assert.Equal(t, before, f.rt.MutatingCalls())
	assert.Empty(t, f.ports.Reserved())
}

func TestDeployAssignsDistinctV6Ports(t *testing.T) {
	f := newFixture(t)
	f.rt.AddImage(types.DefaultImage)

	a, err := f.deployer.Deploy(context.Background(), types.DeployRequest{Name: "alpha", Port: "19132"})
	require.NoError(t, err)
	// the next v6 candidate is taken as alpha's v4 port
	b, err := f.deployer.Deploy(context.Background(), types.DeployRequest{Name: "beta", Port: "19134"})
	require.NoError(t, err)
	require.NoError(t, f.deployer.Wait(context.Background()))

	assert.Equal(t, 19133, a.HostPortV6)
	assert.Equal(t, 19135, b.HostPortV6)

	seen := map[int]bool{}
	for _, inst := range []*types.Instance{a, b} {
		spec, ok := f.rt.Spec(inst.ID)
		require.True(t, ok)
		for _, p := range []int{spec.Port.HostPort, spec.Port.HostPortV6} {
			assert.False(t, seen[p], "port %d bound twice", p)
			seen[p] = true
		}
	}

	// a v6 port is as taken as a v4 one
	_, err = f.deployer.Deploy(context.Background(), types.DeployRequest{Name: "gamma", Port: "19133"})
	assert.ErrorIs(t, err, types.ErrPortConflict)
	assert.Empty(t, f.ports.Reserved())
}

func TestDeployDuplicateNameWhileCreating(t *testing.T) {
	f := newFixture(t)
	f.rt.CreateDelay = 200 * time.Millisecond

	_, err := f.deployer.Deploy(context.Background(), types.DeployRequest{Name: "Lobby", Port: "19160"})
	require.NoError(t, err)

	_, err = f.deployer.Deploy(context.Background(), types.DeployRequest{Name: "lobby", Port: "19161"})
	assert.ErrorIs(t, err, types.ErrAlreadyExists)
}

func TestDeployValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  types.DeployRequest
	}{
		{"empty name", types.DeployRequest{Name: "   ", Port: "19132"}},
		{"bad characters", types.DeployRequest{Name: "../etc", Port: "19132"}},
		{"port not numeric", types.DeployRequest{Name: "a", Port: "abc"}},
		{"port zero", types.DeployRequest{Name: "a", Port: "0"}},
		{"port too large", types.DeployRequest{Name: "a", Port: "70000"}},
		{"negative memory", types.DeployRequest{Name: "a", Port: "19132", Memory: "-1"}},
		{"memory not numeric", types.DeployRequest{Name: "a", Port: "19132", Memory: "lots"}},
		{"memory overflows", types.DeployRequest{Name: "a", Port: "19132", Memory: "9999999999999999G"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.deployer.Deploy(context.Background(), tt.req)
			assert.ErrorIs(t, err, types.ErrValidation)
		})
	}
	assert.Equal(t, 0, f.rt.MutatingCalls())
}

func TestDeployUsesDefaultMemory(t *testing.T) {
	f := newFixture(t)
	f.rt.AddImage(types.DefaultImage)

	req, err := f.deployer.Validate(types.DeployRequest{Name: "a", Port: "19132"})
	require.NoError(t, err)
	assert.Equal(t, int64(1024), req.MemoryMB)
}

func TestDeployFailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.rt.AddImage(types.DefaultImage)
	f.rt.StartErr = errors.New("exec format error")
	sub := f.broker.Subscribe("mc-broken")

	inst, err := f.deployer.Deploy(context.Background(), types.DeployRequest{Name: "broken", Port: "19170"})
	require.NoError(t, err)

	evs := collect(t, sub)
	assertNonDecreasing(t, evs)
	final := evs[len(evs)-1]
	assert.Equal(t, events.EventDeployFailed, final.Type)
	assert.Contains(t, final.Message, "exec format error")

	rec, err := f.store.GetInstance(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, rec.Status)
	assert.Contains(t, rec.Error, "exec format error")

	// no automatic rollback: the container stays for inspection
	assert.Equal(t, 0, f.rt.Calls("Remove"))
	assert.Empty(t, f.ports.Reserved())
}

func TestDeployRuntimeUnavailable(t *testing.T) {
	f := newFixture(t)
	f.rt.Unavailable = true

	_, err := f.deployer.Deploy(context.Background(), types.DeployRequest{Name: "a", Port: "19132"})
	assert.ErrorIs(t, err, types.ErrRuntimeUnavailable)
	assert.Empty(t, f.ports.Reserved())
}

func TestEveryObserverSeesNonDecreasingProgress(t *testing.T) {
	f := newFixture(t)
	f.rt.PullLayers = 4

	first := f.broker.Subscribe("mc-busy")
	second := f.broker.Subscribe("")

	_, err := f.deployer.Deploy(context.Background(), types.DeployRequest{Name: "busy", Port: "19180"})
	require.NoError(t, err)

	a := collect(t, first)
	b := collect(t, second)
	assertNonDecreasing(t, a)
	assertNonDecreasing(t, b)
	assert.Equal(t, len(a), len(b))
}

func TestParseMemory(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		err  bool
	}{
		{"", 2048, false},
		{"512", 512, false},
		{"512M", 512, false},
		{"512mb", 512, false},
		{"2G", 2048, false},
		{" 4gb ", 4096, false},
		{"0", 0, true},
		{"-5", 0, true},
		{"1.5G", 0, true},
		{"9999999999999999G", 0, true},
		{"9223372036854775807", 0, true},
		{"8796093022207", 8796093022207, false},
		{"8796093022208", 0, true},
		{"8589934591G", 8796093021184, false},
		{"8589934592G", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseMemory(tt.in, 2048)
		if tt.err {
			assert.ErrorIs(t, err, types.ErrValidation, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestEnv(t *testing.T) {
	cheats := true
	env := Env(&types.Instance{
		Name:       "Lobby",
		HostPort:   19200,
		HostPortV6: 19201,
		World:      types.WorldParams{Difficulty: "hard", Version: "1.21.0", AllowCheats: &cheats},
	})
	assert.Contains(t, env, "SERVER_PORT=19200")
	assert.Contains(t, env, "SERVER_PORT_V6=19201")
	assert.Contains(t, env, "DIFFICULTY=hard")
	assert.Contains(t, env, "VERSION=1.21.0")
	assert.Contains(t, env, "ALLOW_CHEATS=true")
	assert.NotContains(t, env, "GAMEMODE=")
}

func TestEnvKeepsImageDefaultsForUnsetSwitches(t *testing.T) {
	env := Env(&types.Instance{Name: "x", HostPort: 19132, HostPortV6: 19133})
	for _, kv := range env {
		assert.NotContains(t, kv, "ONLINE_MODE", "online mode must stay on unless asked")
		assert.NotContains(t, kv, "ALLOW_CHEATS")
		assert.NotContains(t, kv, "LEVEL_SEED")
	}

	off := false
	env = Env(&types.Instance{Name: "x", HostPort: 19132, World: types.WorldParams{OnlineMode: &off}})
	assert.Contains(t, env, "ONLINE_MODE=false")
}
