package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"selfquiz/internal/domain"
	"selfquiz/internal/localstore"
)

// NewUsersCmd lists and removes names registered on this device.
func NewUsersCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users known on this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ledger, backends, err := openLedger(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer backends.Close()

			out := cmd.OutOrStdout()
			for _, name := range ledger.KnownUsers() {
				fmt.Fprintf(out, "%s\t%d results\n", name, len(ledger.Results(name)))
			}
			return nil
		},
	}
	cmd.AddCommand(newRemoveUserCmd(configPath))
	return cmd
}

func newRemoveUserCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove NAME",
		Short: "Remove a user and their results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ledger, backends, err := openLedger(ctx, cfg)
			if err != nil {
				return err
			}
			defer backends.Close()

			snap, err := localstore.Load(ctx, backends.store)
			if err != nil {
				return err
			}
			name := args[0]
			if snap.ActiveUser == name {
				return domain.ErrUserActive
			}
			if err := ledger.RemoveUser(ctx, name); err != nil {
				return err
			}

			waitCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			if err := ledger.Wait(waitCtx); err != nil {
				return fmt.Errorf("remote cleanup still running: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
			return nil
		},
	}
}
