package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DeafMist/ecolex-harvester/internal/harvest"
	"github.com/DeafMist/ecolex-harvester/internal/models"
)

var harvestOpts harvest.Options

var harvestCmd = &cobra.Command{
	Use:   "harvest <type|all>",
	Short: "Harvest one document type",
	Long: `Pages the upstream source of a document type and writes new or changed
records to the index. Types: treaty, decision, legislation, court_decision,
literature. "all" harvests every type with a configured source in parallel.`,
	Args: cobra.ExactArgs(1),
	RunE: runHarvest,
}

func init() {
	f := harvestCmd.Flags()
	f.BoolVar(&harvestOpts.Force, "force", false, "rewrite records even when they are not newer")
	f.IntVar(&harvestOpts.StartYear, "start-year", 0, "first year of the treaty/literature window")
	f.IntVar(&harvestOpts.EndYear, "end-year", 0, "last year of the window")
	f.IntVar(&harvestOpts.StartMonth, "start-month", 0, "first month of the window")
	f.IntVar(&harvestOpts.EndMonth, "end-month", 0, "last month of the window")
	f.IntVar(&harvestOpts.DaysAgo, "days-ago", 0, "only decisions updated in the last N days (negative disables the window)")
	f.StringSliceVar(&harvestOpts.UUIDs, "uuid", nil, "import single decisions or court decisions by uuid")
	f.StringVar(&harvestOpts.Input, "input", "", "legislation package file or URL")
	f.BoolVar(&harvestOpts.Resume, "resume", false, "continue from the saved paging cursor")
	rootCmd.AddCommand(harvestCmd)
}

func runHarvest(cmd *cobra.Command, args []string) error {
	if harvester == nil {
		return errors.New("harvester not configured")
	}
	ctx := cmd.Context()

	if args[0] == "all" {
		var types []models.DocType
		for _, t := range models.AllTypes {
			if (t == models.Legislation && harvestOpts.Input != "") || harvester.Configured(t) {
				types = append(types, t)
			}
		}
		cmd.Printf("Harvesting %d types...\n", len(types))
		reports, err := harvester.HarvestAll(ctx, types, harvestOpts)
		for _, t := range types {
			if r, ok := reports[t]; ok {
				printReport(cmd, t, r)
			}
		}
		if err != nil {
			return fmt.Errorf("harvest failed: %w", err)
		}
		return nil
	}

	t, err := models.ParseDocType(args[0])
	if err != nil {
		return err
	}
	if len(harvestOpts.UUIDs) > 0 && t != models.Decision && t != models.CourtDecision {
		return fmt.Errorf("--uuid applies to decision and court_decision, not %s", t)
	}
	cmd.Printf("Harvesting %s...\n", t)
	report, err := harvester.Harvest(ctx, t, harvestOpts)
	printReport(cmd, t, report)
	if err != nil {
		return fmt.Errorf("harvest failed: %w", err)
	}
	return nil
}
