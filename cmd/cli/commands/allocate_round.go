package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/seasonal-allocation/pkg/core/services"
)

// AllocateRoundCmd creates the allocateRound command
func AllocateRoundCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "allocateRound <round_id>",
		Short: "Run seasonal allocation for an application round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roundID := args[0]
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			app.Logger.Debug("allocateRound command", zap.String("round_id", roundID), zap.Bool("dry_run", dryRun))

			result, err := services.AllocateRound(
				app.Ctx,
				app.Database,
				app.Locker,
				app.Publisher,
				app.Logger,
				roundID,
				services.AllocateRoundOptions{
					DryRun:                  dryRun,
					PlacementStep:           app.Cfg.Allocation.PlacementStep,
					HonorCrossRoundCapacity: app.Cfg.Allocation.HonorCrossRoundCapacity,
				},
			)
			if err != nil {
				return err
			}

			if result.DryRun {
				fmt.Printf("\nDry run for %s (nothing was saved)\n\n", result.Round.Name)
			} else {
				fmt.Printf("\n✓ Allocated %s\n\n", result.Round.Name)
			}

			for _, r := range result.Outcome.SectionResults {
				fmt.Printf("  %s\n", formatSectionResult(r))
			}

			fmt.Printf("\nAllocated:   %d\n", result.Outcome.AllocatedCount())
			fmt.Printf("Retained:    %d\n", result.Outcome.RetainedCount())
			fmt.Printf("Unallocated: %d\n", result.Outcome.UnallocatedCount())
			if result.CancelledReservations > 0 {
				fmt.Printf("Cancelled:   %d reservations of replaced slots\n", result.CancelledReservations)
			}
			fmt.Println()

			return nil
		},
	}

	cmd.Flags().Bool("dry-run", false, "Compute the allocation without saving it")

	return cmd
}

// ClearAllocationCmd creates the clearAllocation command
func ClearAllocationCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clearAllocation <round_id>",
		Short: "Delete a round's allocation, keeping slots on locked options",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.ClearAllocation(app.Ctx, app.Database, app.Logger, args[0], time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ Cleared allocation for round %s (%d slots deleted, %d reservations cancelled)\n\n",
				result.RoundID, result.DeletedSlots, result.CancelledReservations)
			return nil
		},
	}
}
