package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakechorley/seasonal-allocation/pkg/core/services"
)

// RejectOptionCmd creates the rejectOption command
func RejectOptionCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rejectOption <option_id>",
		Short: "Reject a reservation unit option, cancelling its future reservations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.RejectOption(app.Ctx, app.Database, app.Logger, args[0], time.Now())
			if err != nil {
				return err
			}

			fmt.Printf("\n✓ Rejected option %s\n", result.OptionID)
			if result.SlotDeleted {
				fmt.Printf("  Allocated slot deleted, section %s is now unallocated\n", result.SectionID)
			}
			if result.CancelledReservations > 0 {
				fmt.Printf("  %d future reservations cancelled\n", result.CancelledReservations)
			}
			fmt.Println()
			return nil
		},
	}
}

// LockOptionCmd creates the lockOption command
func LockOptionCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "lockOption <option_id>",
		Short: "Lock an option so re-runs keep its slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := services.LockOption(app.Ctx, app.Database, app.Logger, args[0]); err != nil {
				return err
			}
			fmt.Printf("\n✓ Locked option %s\n\n", args[0])
			return nil
		},
	}
}

// UnlockOptionCmd creates the unlockOption command
func UnlockOptionCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unlockOption <option_id>",
		Short: "Unlock an option so re-runs may replace its slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := services.UnlockOption(app.Ctx, app.Database, app.Logger, args[0]); err != nil {
				return err
			}
			fmt.Printf("\n✓ Unlocked option %s\n\n", args[0])
			return nil
		},
	}
}
