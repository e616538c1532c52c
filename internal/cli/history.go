package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"selfquiz/internal/domain"
)

// NewHistoryCmd prints the stored results of a user.
func NewHistoryCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "history NAME",
		Short: "Show a user's quiz results",
		Args:  cobra.ExactArgs(1),
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

			name := args[0]
			if !ledger.IsKnown(name) {
				return fmt.Errorf("%w: %s", domain.ErrUserNotFound, name)
			}
			out := cmd.OutOrStdout()
			records := ledger.Results(name)
			if len(records) == 0 {
				fmt.Fprintf(out, "%s has no results yet\n", name)
				return nil
			}
			for _, r := range records {
				status := "needs review"
				if r.Score >= domain.PassingScore {
					status = "passed"
				}
				fmt.Fprintf(out, "%-20s %3d%%  %s\n", r.Topic, r.Score, status)
			}
			return nil
		},
	}
}
