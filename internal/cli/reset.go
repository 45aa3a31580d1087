package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var resetAll bool

var resetCmd = &cobra.Command{
	Use:   "reset [session_id]",
	Short: "Reset a chat session on the running daemon",
	Long: `Reset one chat session, dropping its history, or every session with --all.
Without a session id the default session is reset.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "reset every session")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if resetAll && len(args) > 0 {
		return fmt.Errorf("--all does not take a session id")
	}

	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client := newAPIClient(resolveServerURL(cfg), 10*time.Second)
	out := cmd.OutOrStdout()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	if resetAll {
		resp, err := client.ClearAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Cleared %d sessions\n", resp.Cleared)
		return nil
	}

	sessionID := "default"
	if len(args) == 1 {
		sessionID = args[0]
	}
	resp, err := client.Reset(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, resp.Message)
	return nil
}
