package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shipsplit/shipsplit/internal/experiment"
	"github.com/shipsplit/shipsplit/internal/store"
)

func init() {
	rootCmd.AddCommand(newWinnerCmd())
}

func newWinnerCmd() *cobra.Command {
	var variantID string

	cmd := &cobra.Command{
		Use:   "winner <id>",
		Short: "Declare a winner for a test",
		Long: `Declare a winning variant for an A/B test and complete it.

Completed tests stop assigning new visitors; existing assignments stay
in the store for attribution.

Example:
  shipsplit winner checkout-banner --variant variant_a`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			testID := args[0]

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()
				t, err := s.GetTest(ctx, testID)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("test '%s' not found", testID)
					}
					return fmt.Errorf("failed to get test: %w", err)
				}

				if t.Status != experiment.StatusRunning && t.Status != experiment.StatusPaused {
					return fmt.Errorf("test is not active (current status: %s)", t.Status)
				}
				if _, ok := t.VariantByID(variantID); !ok {
					return fmt.Errorf("test '%s' has no variant '%s'", testID, variantID)
				}

				if err := s.UpdateTestStatus(ctx, testID, experiment.StatusCompleted, variantID); err != nil {
					return fmt.Errorf("failed to set winner: %w", err)
				}

				fmt.Printf("Declared winner for test '%s': %s\n", testID, variantID)
				fmt.Println("Test has been marked as completed.")
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&variantID, "variant", "v", "", "winning variant id (required)")
	cmd.MarkFlagRequired("variant")

	return cmd
}
