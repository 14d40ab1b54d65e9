package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/docingest/internal/models"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Inspect or clear distributed job locks",
	Long: `Inspect or clear the distributed locks that keep a job running on one
instance at a time. Clearing a lock is only needed when an instance died
while holding it and no lease was configured.

Examples:
  docingest locks list
  docingest locks clear process_pending_documents`,
	Annotations: map[string]string{annotationLocalOnly: "true"},
}

var locksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List held locks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		locks, err := application.DB.QueryListLocks(cmd.Context())
		if err != nil {
			return err
		}
		printLocks(cmd.OutOrStdout(), locks, time.Now())
		return nil
	},
}

var locksClearCmd = &cobra.Command{
	Use:       "clear <job>",
	Short:     "Release a lock regardless of its holder",
	Args:      cobra.ExactArgs(1),
	ValidArgs: jobNames,
	RunE: func(cmd *cobra.Command, args []string) error {
		released, err := application.DB.QueryForceReleaseLock(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !released {
			fmt.Fprintf(cmd.OutOrStdout(), "No lock held for %s\n", args[0])
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Released lock %s\n", args[0])
		return nil
	},
}

func init() {
	locksCmd.AddCommand(locksListCmd)
	locksCmd.AddCommand(locksClearCmd)
}

func printLocks(w io.Writer, locks []models.Lock, now time.Time) {
	if len(locks) == 0 {
		fmt.Fprintln(w, "No locks held.")
		return
	}
	fmt.Fprintf(w, "%-30s %-24s %-10s %s\n", "JOB", "INSTANCE", "HELD", "EXPIRES")
	fmt.Fprintln(w, "--------------------------------------------------------------------------------")
	for i := range locks {
		l := &locks[i]
		expires := "never"
		switch {
		case l.Expired(now):
			expires = "expired"
		case l.ExpiresAt != nil:
			expires = l.ExpiresAt.Format(time.RFC3339)
		}
		held := now.Sub(l.CreatedAt).Round(time.Second)
		fmt.Fprintf(w, "%-30s %-24s %-10s %s\n", l.LockKey, l.InstanceName, held, expires)
	}
}
