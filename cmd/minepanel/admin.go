package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/minepanel/pkg/config"
	"github.com/cuemby/minepanel/pkg/manager"
	"github.com/cuemby/minepanel/pkg/session"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Permanently remove data of deleted servers past the retention period",
	Long: `Remove retained data directories of deleted servers once they are older
than the retention period, and purge their records.

The database is locked while "serve" is running; a running panel sweeps on
its own every hour.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		retention, _ := cmd.Flags().GetDuration("retention")

		// sweeping only touches the data directory and the database
		mgr, err := manager.NewManager(&manager.Config{DataDir: dataDir, Retention: retention}, nil)
		if err != nil {
			return fmt.Errorf("failed to open data directory: %w", err)
		}
		defer mgr.Shutdown(context.Background())

		removed, err := mgr.SweepDeleted(cmd.Context(), time.Now())
		for _, p := range removed {
			fmt.Printf("removed %s\n", p)
		}
		if err != nil {
			return err
		}
		fmt.Printf("✓ %d retained director%s removed\n", len(removed), plural(len(removed), "y", "ies"))
		return nil
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Set the operator password",
	Long: `Set the operator password in the config document. Every issued session
token becomes invalid. The password is read from standard input when
--password is not given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		password, _ := cmd.Flags().GetString("password")

		if password == "" {
			fmt.Fprint(os.Stderr, "New password: ")
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if password == "" {
			return fmt.Errorf("password must not be empty")
		}

		if err := resetPassword(dataDir, password); err != nil {
			return err
		}

		fmt.Println("✓ Password updated")
		return nil
	},
}

// resetPassword sets a new operator password. A stored session timeout that
// would expire every token at once is reset to the default so the operator
// can log in again.
func resetPassword(dataDir, password string) error {
	store, err := config.Open(dataDir)
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}
	sessions := session.NewManager(store, session.NewMemoryRegistry())

	policy := sessions.Policy()
	if policy.TimeoutMinutes < 1 {
		policy.TimeoutMinutes = config.DefaultTimeoutMinutes
	}
	return sessions.UpdatePolicy(session.PolicyUpdate{
		Policy:      policy,
		NewPassword: password,
	})
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	sweepCmd.Flags().Duration("retention", envDuration("MINEPANEL_RETENTION", manager.DefaultRetention), "How long data of deleted servers is kept")

	passwdCmd.Flags().String("password", "", "New password (read from stdin when empty)")
}
