package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jakechorley/seasonal-allocation/pkg/core/services"
)

// GenerateOccurrencesCmd creates the generateOccurrences command
func GenerateOccurrencesCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "generateOccurrences <round_id>",
		Short: "Materialize a round's allocated slots into reservations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.GenerateOccurrences(
				app.Ctx,
				app.Database,
				app.Closures,
				app.Logger,
				args[0],
				app.Cfg.Occurrences.Workers,
				app.Location,
			)
			if err != nil {
				return err
			}

			fmt.Printf("\nSeries for round %s:\n\n", result.RoundID)
			for _, s := range result.Series {
				if s.Err != nil {
					fmt.Printf("  ✗ slot %s: %v\n", s.SlotID, s.Err)
					continue
				}
				fmt.Printf("  ✓ slot %s -> series %s: %d created, %d closed, %d conflicts, %d already present\n",
					s.SlotID, s.SeriesID, s.Result.Created, s.Result.Closed, s.Result.Conflicts, s.Result.AlreadyMaterialized)
			}

			fmt.Printf("\nCreated:   %d\n", result.Created)
			fmt.Printf("Closed:    %d\n", result.Closed)
			fmt.Printf("Conflicts: %d\n", result.Conflicts)
			if result.Failed > 0 {
				fmt.Printf("Failed:    %d series\n\n", result.Failed)
				return fmt.Errorf("%d series failed to materialize", result.Failed)
			}
			fmt.Println()
			return nil
		},
	}
}
