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

var resultsCmd = &cobra.Command{
	Use:   "results <id>",
	Short: "Show detailed results for a test",
	Long:  `Show per-variant conversion rates with confidence intervals, revenue comparisons against control and any guardrail alerts.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	testID := args[0]

	return withEngine(func(e *engine.Engine) error {
		results, err := e.GetTestResults(context.Background(), testID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("test '%s' not found", testID)
			}
			return fmt.Errorf("failed to get results: %w", err)
		}
		t := results.Test

		fmt.Printf("TEST: %s\n", t.Name)
		fmt.Printf("TYPE: %s\n", t.Type)
		fmt.Printf("STATUS: %s\n", strings.ToUpper(string(t.Status)))
		if t.WinnerVariant != "" {
			fmt.Printf("WINNER: %s\n", t.WinnerVariant)
		}
		fmt.Printf("CREATED: %s\n", t.CreatedAt.Format("2006-01-02"))
		fmt.Println()

		fmt.Println("VARIANT           EXPOSURES  CONVERSIONS  RATE     95% CI             REVENUE")
		fmt.Println(strings.Repeat("─", 80))

		for _, v := range results.Variants {
			name := v.VariantID
			if v.Control {
				name += " *"
			}
			if len(name) > 16 {
				name = name[:13] + "..."
			}

			ciStr := fmt.Sprintf("[%.1f%%, %.1f%%]", v.RateLower*100, v.RateUpper*100)
			if v.Exposures == 0 {
				ciStr = "N/A"
			}

			fmt.Printf("%-16s  %-9d  %-11d  %-7s  %-17s  $%.2f\n",
				name,
				v.Exposures,
				v.Conversions,
				formatPercent(v.ConversionRate),
				ciStr,
				v.Revenue,
			)
		}

		if len(results.Comparisons) > 0 {
			fmt.Println()
			fmt.Println("Revenue per visitor vs control:")
			for _, c := range results.Comparisons {
				verdict := "not significant"
				if c.Significant {
					verdict = "significant"
				}
				fmt.Printf("  %s: %+.2f [%.2f, %.2f], p≈%.4f (%s)\n",
					c.VariantID, c.Difference.Estimate, c.Difference.Lower, c.Difference.Upper,
					c.PValue.Value, verdict)
			}
		}

		for _, a := range results.Alerts {
			fmt.Println()
			fmt.Printf("[%s] %s\n", strings.ToUpper(string(a.Severity)), a.Message)
			if a.Recommendation != "" {
				fmt.Printf("  %s\n", a.Recommendation)
			}
		}

		return nil
	})
}

func formatPercent(rate float64) string {
	if rate == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", rate*100)
}
