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
	rootCmd.AddCommand(
		newStatusCmd("start", "Start a draft or paused test", experiment.StatusRunning),
		newStatusCmd("pause", "Pause a running test", experiment.StatusPaused),
	)
	rootCmd.AddCommand(newDeleteCmd())
}

func newStatusCmd(use, short string, target experiment.Status) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
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

				if t.Status == experiment.StatusCompleted {
					return fmt.Errorf("test '%s' is completed; create a new test instead", testID)
				}
				if t.Status == target {
					fmt.Printf("Test '%s' is already %s.\n", testID, target)
					return nil
				}

				if err := s.UpdateTestStatus(ctx, testID, target, ""); err != nil {
					return fmt.Errorf("failed to update test: %w", err)
				}
				fmt.Printf("Test '%s' is now %s.\n", testID, target)
				return nil
			})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a test and its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			testID := args[0]
			if !force {
				return fmt.Errorf("deleting '%s' removes its assignments and events; re-run with --force", testID)
			}

			return withStore(func(s *store.SQLiteStore) error {
				if err := s.DeleteTest(context.Background(), testID); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("test '%s' not found", testID)
					}
					return fmt.Errorf("failed to delete test: %w", err)
				}
				fmt.Printf("Deleted test '%s'.\n", testID)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "confirm deletion")
	return cmd
}
