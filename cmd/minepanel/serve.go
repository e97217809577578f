package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/minepanel/pkg/api"
	"github.com/cuemby/minepanel/pkg/config"
	"github.com/cuemby/minepanel/pkg/console"
	"github.com/cuemby/minepanel/pkg/log"
	"github.com/cuemby/minepanel/pkg/manager"
	"github.com/cuemby/minepanel/pkg/metrics"
	"github.com/cuemby/minepanel/pkg/reconciler"
	"github.com/cuemby/minepanel/pkg/runtime"
	"github.com/cuemby/minepanel/pkg/session"
	"github.com/cuemby/minepanel/pkg/types"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the panel: HTTP API, reconciler and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		listen, _ := cmd.Flags().GetString("listen")
		socket, _ := cmd.Flags().GetString("containerd-socket")
		namespace, _ := cmd.Flags().GetString("namespace")
		image, _ := cmd.Flags().GetString("image")
		internalPort, _ := cmd.Flags().GetInt("internal-port")
		interval, _ := cmd.Flags().GetDuration("reconcile-interval")
		retention, _ := cmd.Flags().GetDuration("retention")
		restart, _ := cmd.Flags().GetString("restart-policy")
		origins, _ := cmd.Flags().GetStringSlice("allowed-origins")

		logger := log.WithComponent("serve")

		policy, err := parseRestartPolicy(restart)
		if err != nil {
			return err
		}

		store, err := config.Open(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open config: %w", err)
		}
		metrics.UpdateComponent(metrics.ComponentConfig, true, "")
		sessions := session.NewManager(store, session.NewMemoryRegistry())

		rt, err := runtime.NewContainerdRuntime(runtime.ContainerdConfig{
			SocketPath: socket,
			Namespace:  namespace,
			LogDir:     filepath.Join(dataDir, "logs"),
		})
		if err != nil {
			return fmt.Errorf("failed to connect to containerd: %w", err)
		}
		defer rt.Close()

		mgr, err := manager.NewManager(&manager.Config{
			DataDir:      dataDir,
			Image:        image,
			InternalPort: internalPort,
			Retention:    retention,
			DefaultMemoryMB: func() int64 {
				return store.Snapshot().Session.DefaultMemoryMB
			},
			RestartPolicy: policy,
		}, rt)
		if err != nil {
			return fmt.Errorf("failed to create manager: %w", err)
		}
		metrics.UpdateComponent(metrics.ComponentStorage, true, "")

		relay := console.NewRelay(rt)
		server := api.NewServer(api.Config{
			Manager:        mgr,
			Sessions:       sessions,
			Relay:          relay,
			AllowedOrigins: origins,
		})
		httpServer := server.NewHTTPServer(listen)

		recon := reconciler.NewReconciler(mgr, sessions, interval)
		collector := metrics.NewCollector(mgr, mgr.Broker(), relay)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// one cycle up front so statuses are fresh before the first request
		if err := recon.Reconcile(ctx); err != nil {
			logger.Warn().Err(err).Msg("Initial reconciliation failed")
		}
		recon.Start()
		collector.Start()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info().Str("listen", listen).Str("data_dir", dataDir).Str("image", image).Msg("minepanel is running")
			metrics.UpdateComponent(metrics.ComponentAPI, true, "")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("API server error: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			logger.Info().Msg("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
			err := httpServer.Shutdown(shutdownCtx)
			server.Close()
			relay.Close()
			recon.Stop()
			collector.Stop()
			if serr := mgr.Shutdown(shutdownCtx); serr != nil && err == nil {
				err = serr
			}
			return err
		})

		if err := g.Wait(); err != nil {
			return err
		}
		logger.Info().Msg("Shutdown complete")
		return nil
	},
}

func parseRestartPolicy(s string) (types.RestartPolicy, error) {
	switch c := types.RestartCondition(strings.ToLower(s)); c {
	case types.RestartNever, types.RestartOnFailure, types.RestartAlways:
		return types.RestartPolicy{Condition: c}, nil
	}
	return types.RestartPolicy{}, fmt.Errorf("invalid restart policy %q (never, on-failure, always)", s)
}

func init() {
	serveCmd.Flags().String("listen", envOr("MINEPANEL_LISTEN", "0.0.0.0:3000"), "HTTP listen address")
	serveCmd.Flags().String("containerd-socket", envOr("MINEPANEL_CONTAINERD_SOCKET", runtime.DefaultSocketPath), "containerd socket path")
	serveCmd.Flags().String("namespace", envOr("MINEPANEL_NAMESPACE", runtime.DefaultNamespace), "containerd namespace")
	serveCmd.Flags().String("image", envOr("MINEPANEL_IMAGE", types.DefaultImage), "Game server image")
	serveCmd.Flags().Int("internal-port", envInt("MINEPANEL_INTERNAL_PORT", types.DefaultInternalPort), "Port the game server listens on inside its container")
	serveCmd.Flags().Duration("reconcile-interval", envDuration("MINEPANEL_RECONCILE_INTERVAL", reconciler.DefaultInterval), "Time between reconciliation cycles")
	serveCmd.Flags().Duration("retention", envDuration("MINEPANEL_RETENTION", manager.DefaultRetention), "How long data of deleted servers is kept")
	serveCmd.Flags().String("restart-policy", envOr("MINEPANEL_RESTART_POLICY", string(types.RestartOnFailure)), "Container restart policy (never, on-failure, always)")
	serveCmd.Flags().StringSlice("allowed-origins", splitList(envOr("MINEPANEL_ALLOWED_ORIGINS", "")), "Browser origins allowed to open WebSockets (* for any)")
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
