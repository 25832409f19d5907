package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shipsplit/shipsplit/internal/engine"
	"github.com/shipsplit/shipsplit/internal/store"
)

var ltvCmd = &cobra.Command{
	Use:   "ltv <id>",
	Short: "Show long-term value analysis for a test",
	Long: `Show cohort lifetime-value comparisons per attribution horizon.

A short-term winner can be a long-term loser: a variant that lifts
30-day revenue may erode repeat purchases. This command flags variants
whose lift flips sign or drifts materially across horizons.`,
	Args: cobra.ExactArgs(1),
	RunE: runLTV,
}

func init() {
	rootCmd.AddCommand(ltvCmd)
}

func runLTV(cmd *cobra.Command, args []string) error {
	testID := args[0]

	return withEngine(func(e *engine.Engine) error {
		results, err := e.GetTestResults(context.Background(), testID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("test '%s' not found", testID)
			}
			return fmt.Errorf("failed to get results: %w", err)
		}

		if len(results.LTV) == 0 {
			fmt.Println("No cohort data yet. LTV analysis needs converted visitors with order history.")
			return nil
		}

		fmt.Printf("TEST: %s\n", results.Test.Name)
		fmt.Println()

		for _, cmp := range results.LTV {
			fmt.Printf("%s (n=%d) vs %s (n=%d)\n",
				cmp.Variant.VariantID, cmp.Variant.CohortSize,
				cmp.Control.VariantID, cmp.Control.CohortSize)
			if cmp.Control.LowConfidence || cmp.Variant.LowConfidence {
				fmt.Println("  (low confidence: cohort below minimum size)")
			}

			fmt.Println("  HORIZON  LIFT      DIFF      P-VALUE   SIGNIFICANT")
			fmt.Println("  " + strings.Repeat("─", 52))
			for _, p := range cmp.Periods {
				fmt.Printf("  %3dd     %+6.1f%%   %+8.2f  %.4f    %v\n",
					p.Days, p.LiftPct, p.Difference.Estimate, p.PValue.Value, p.Significant)
			}

			if cmp.LongTermDifferent {
				fmt.Println()
				fmt.Println("  WARNING: short-term and long-term effects diverge for this variant.")
				fmt.Println("  Do not call a winner on the short horizon alone.")
			}
			fmt.Println()
		}

		return nil
	})
}
