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

var guardrailCmd = &cobra.Command{
	Use:   "guardrail <id>",
	Short: "Run guardrail checks for a test",
	Long: `Run guardrail checks for a test and print any alerts.

Checks sample-ratio mismatch between the configured split and observed
exposures. A mismatch usually means broken assignment or tracking, and
results should not be trusted until it is resolved.`,
	Args: cobra.ExactArgs(1),
	RunE: runGuardrail,
}

func init() {
	rootCmd.AddCommand(guardrailCmd)
}

func runGuardrail(cmd *cobra.Command, args []string) error {
	testID := args[0]

	return withEngine(func(e *engine.Engine) error {
		results, err := e.GetTestResults(context.Background(), testID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("test '%s' not found", testID)
			}
			return fmt.Errorf("failed to run checks: %w", err)
		}

		if len(results.Alerts) == 0 {
			fmt.Printf("Test '%s': no guardrail alerts.\n", testID)
			return nil
		}

		for _, a := range results.Alerts {
			fmt.Printf("[%s] %s: %s\n", strings.ToUpper(string(a.Severity)), a.Metric, a.Message)
			fmt.Printf("  observed %.4f, expected %.4f\n", a.Observed, a.Expected)
			if a.Recommendation != "" {
				fmt.Printf("  %s\n", a.Recommendation)
			}
		}
		return nil
	})
}
