package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jakechorley/seasonal-allocation/pkg/core/allocator"
	"github.com/jakechorley/seasonal-allocation/pkg/core/model"
	"github.com/jakechorley/seasonal-allocation/pkg/core/services"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorDim    = "\033[2m"
)

// ViewResultsCmd creates the viewResults command
func ViewResultsCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "viewResults <round_id>",
		Short: "Show a round's allocation results per application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := services.ViewResults(app.Ctx, app.Database, app.Logger, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("\n%s (%s)\n", result.Round.Name, result.Round.Status)
			fmt.Printf("Reservable %s to %s\n\n",
				result.Round.ReservablePeriod.Start.Format("2006-01-02"),
				result.Round.ReservablePeriod.End.Format("2006-01-02"))

			for _, view := range result.Applications {
				name := view.Application.ApplicantName
				if name == "" {
					name = view.Application.ID
				}
				fmt.Printf("%s  %s\n", name, colorStatus(view.Status))
				for _, s := range view.Sections {
					fmt.Printf("    %s\n", formatSectionView(s))
				}
			}

			fmt.Println(strings.Repeat("-", 40))
			fmt.Printf("Allocated sections:   %d\n", result.AllocatedSections)
			fmt.Printf("Unallocated sections: %d\n\n", result.UnallocatedSections)
			return nil
		},
	}
}

func colorStatus(status model.ApplicationStatus) string {
	switch status {
	case model.ApplicationHandled:
		return colorGreen + string(status) + colorReset
	case model.ApplicationPartiallyHandled:
		return colorYellow + string(status) + colorReset
	case model.ApplicationUnallocated:
		return colorRed + string(status) + colorReset
	}
	return colorDim + string(status) + colorReset
}

func formatSectionView(s services.SectionView) string {
	label := s.Section.Name
	if label == "" {
		label = s.Section.ID
	}
	if s.Slot == nil {
		return fmt.Sprintf("%-24s %s", label, "-")
	}
	rank := ""
	if s.Option != nil {
		rank = fmt.Sprintf(" (rank %d, %s)", s.Option.Rank, s.Option.State)
	}
	return fmt.Sprintf("%-24s %s on %s%s", label, s.Slot.Window, s.Slot.ReservationUnitID, rank)
}

func formatSectionResult(r allocator.SectionResult) string {
	if r.Slot == nil {
		return fmt.Sprintf("✗ %-24s %s", r.SectionID, r.Reason)
	}
	suffix := ""
	if r.Retained {
		suffix = " (locked)"
	}
	return fmt.Sprintf("✓ %-24s %s on %s%s", r.SectionID, r.Slot.Window, r.Slot.ReservationUnitID, suffix)
}
