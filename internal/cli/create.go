package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/shipsplit/shipsplit/internal/config"
	"github.com/shipsplit/shipsplit/internal/experiment"
	"github.com/shipsplit/shipsplit/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		configPath  string
		testType    string
		variants    string
		weights     string
		suffixes    string
		exploration float64
	)

	cmd := &cobra.Command{
		Use:   "create [id]",
		Short: "Create a new A/B test",
		Long: `Create a new A/B test, either from flags, from a YAML file, or
interactively when no arguments are given.

Examples:
  shipsplit create checkout-banner --variants "control,variant_a"
  shipsplit create free-shipping --type shipping --variants "control,variant_a" --suffixes "A,B"
  shipsplit create price-test --type bandit --variants "control,v1,v2" --exploration 0.1
  shipsplit create --config tests.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				return createFromConfig(configPath)
			}

			if len(args) == 0 {
				return createInteractive()
			}

			test := &experiment.Test{
				ID:              args[0],
				TenantID:        tenantID,
				Name:            args[0],
				Type:            experiment.TestType(testType),
				Status:          experiment.StatusRunning,
				ExplorationRate: exploration,
			}
			if err := buildVariants(test, variants, weights, suffixes); err != nil {
				return err
			}
			return createTest(test)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "create tests from a YAML file")
	cmd.Flags().StringVarP(&testType, "type", "t", "fixed", "test type: fixed, bandit or shipping")
	cmd.Flags().StringVarP(&variants, "variants", "v", "", "comma-separated variant ids (first is control)")
	cmd.Flags().StringVarP(&weights, "weights", "w", "", "comma-separated traffic weights, must sum to 100 (default even split)")
	cmd.Flags().StringVar(&suffixes, "suffixes", "", "comma-separated shipping rate suffixes, one per variant")
	cmd.Flags().Float64Var(&exploration, "exploration", config.DefaultExplorationRate, "bandit exploration rate")

	return cmd
}

func createFromConfig(path string) error {
	tests, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()
		for _, t := range tests {
			if t.TenantID == "" {
				t.TenantID = tenantID
			}
			if err := s.CreateTest(ctx, t); err != nil {
				return fmt.Errorf("failed to create test %s: %w", t.ID, err)
			}
			fmt.Printf("Created test '%s' (%s, %d variants)\n", t.ID, t.Type, len(t.Variants))
		}
		return nil
	})
}

func createTest(t *experiment.Test) error {
	if err := experiment.Validate(t); err != nil {
		return err
	}
	return withStore(func(s *store.SQLiteStore) error {
		if err := s.CreateTest(context.Background(), t); err != nil {
			return fmt.Errorf("failed to create test: %w", err)
		}

		fmt.Printf("Created test '%s' with %d variants:\n", t.ID, len(t.Variants))
		for _, v := range t.Variants {
			marker := ""
			if v.Control {
				marker = " (control)"
			}
			fmt.Printf("  %s: %d%%%s\n", v.ID, v.Weight, marker)
		}
		return nil
	})
}

func buildVariants(t *experiment.Test, variants, weights, suffixes string) error {
	ids := splitList(variants)
	if len(ids) < 2 {
		return fmt.Errorf("need at least 2 variants. Example: --variants \"control,variant_a\"")
	}

	var ws []int
	if weights == "" {
		ws = evenSplit(len(ids))
	} else {
		for _, raw := range splitList(weights) {
			w, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("invalid weight %q", raw)
			}
			ws = append(ws, w)
		}
		if len(ws) != len(ids) {
			return fmt.Errorf("got %d weights for %d variants", len(ws), len(ids))
		}
	}

	var sfx []string
	if suffixes != "" {
		sfx = splitList(suffixes)
		if len(sfx) != len(ids) {
			return fmt.Errorf("got %d suffixes for %d variants", len(sfx), len(ids))
		}
	}

	for i, id := range ids {
		v := experiment.Variant{ID: id, Weight: ws[i], Control: i == 0}
		if sfx != nil {
			v.RateSuffix = sfx[i]
		}
		t.Variants = append(t.Variants, v)
	}
	return nil
}

// evenSplit distributes 100 points across n variants; the remainder
// lands on the control so the total is always exactly 100.
func evenSplit(n int) []int {
	base := 100 / n
	ws := make([]int, n)
	for i := range ws {
		ws[i] = base
	}
	ws[0] += 100 - base*n
	return ws
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func createInteractive() error {
	id, err := promptString("Test id", "")
	if err != nil {
		return err
	}

	kinds := []string{
		"Fixed split (deterministic weights)",
		"Bandit (epsilon-greedy)",
		"Shipping rates (checkout rate filtering)",
	}
	sel := promptui.Select{
		Label: "Test type",
		Items: kinds,
		Size:  3,
	}
	idx, _, err := sel.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return err
	}

	testType := experiment.TypeFixed
	switch idx {
	case 1:
		testType = experiment.TypeBandit
	case 2:
		testType = experiment.TypeShipping
	}

	variants, err := promptString("Variant ids (comma-separated, first is control)", "control,variant_a")
	if err != nil {
		return err
	}

	suffixes := ""
	if testType == experiment.TypeShipping {
		if suffixes, err = promptString("Rate suffixes (comma-separated, A-D)", "A,B"); err != nil {
			return err
		}
	}

	test := &experiment.Test{
		ID:       id,
		TenantID: tenantID,
		Name:     id,
		Type:     testType,
		Status:   experiment.StatusRunning,
	}
	if testType == experiment.TypeBandit {
		test.ExplorationRate = config.DefaultExplorationRate
	}
	if err := buildVariants(test, variants, "", suffixes); err != nil {
		return err
	}
	return createTest(test)
}

func promptString(label, defaultValue string) (string, error) {
	prompt := promptui.Prompt{
		Label:   label,
		Default: defaultValue,
	}
	out, err := prompt.Run()
	if err != nil {
		if err == promptui.ErrInterrupt {
			os.Exit(0)
		}
		return "", err
	}
	return strings.TrimSpace(out), nil
}
