package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DeafMist/ecolex-harvester/internal/golden"
	"github.com/DeafMist/ecolex-harvester/internal/models"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex-failed <type>",
	Short: "Rewrite records whose index write failed",
	Long: `Reads the pending and failed records of a type from the cache store and
writes their persisted documents to the index again.`,
	Args: cobra.ExactArgs(1),
	RunE: runReindex,
}

var updateStatusCmd = &cobra.Command{
	Use:   "update-status [type]",
	Short: "Recompute the derived treaty status",
	Long: `Scans every indexed treaty, recomputes inForce, notInForce or superseded
from the whole index and rewrites the treaties whose status changed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUpdateStatus,
}

var deleteSlug string

var deleteCmd = &cobra.Command{
	Use:   "delete --slug <slug>",
	Short: "Delete documents by slug",
	Args:  cobra.NoArgs,
	RunE:  runDelete,
}

var testCmd = &cobra.Command{
	Use:         "test <type|all>",
	Short:       "Check the parsers against the packaged sample records",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{needsKey: needsParsers},
	RunE:        runTest,
}

var statusCmd = &cobra.Command{
	Use:         "status",
	Short:       "Show cache rows per document type and status",
	Args:        cobra.NoArgs,
	Annotations: map[string]string{needsKey: needsStore},
	RunE:        runStatus,
}

func init() {
	deleteCmd.Flags().StringVar(&deleteSlug, "slug", "", "slug of the documents to delete")
	_ = deleteCmd.MarkFlagRequired("slug")
	rootCmd.AddCommand(reindexCmd, updateStatusCmd, deleteCmd, testCmd, statusCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	if harvester == nil {
		return errors.New("harvester not configured")
	}
	t, err := models.ParseDocType(args[0])
	if err != nil {
		return err
	}
	report, err := harvester.ReindexFailed(cmd.Context(), t)
	printReport(cmd, t, report)
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	return nil
}

func runUpdateStatus(cmd *cobra.Command, args []string) error {
	if harvester == nil {
		return errors.New("harvester not configured")
	}
	if len(args) == 1 {
		t, err := models.ParseDocType(args[0])
		if err != nil {
			return err
		}
		if t != models.Treaty {
			return fmt.Errorf("status is derived for treaties only, not %s", t)
		}
	}
	report, err := harvester.UpdateStatus(cmd.Context())
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	cmd.Printf("Updated the status of %d treaties (%d failed).\n", report.Updated, report.Failed)
	return nil
}

func runDelete(cmd *cobra.Command, _ []string) error {
	if harvester == nil {
		return errors.New("harvester not configured")
	}
	n, err := harvester.DeleteBySlug(cmd.Context(), deleteSlug)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	cmd.Printf("Deleted %d documents with slug %s.\n", n, deleteSlug)
	return nil
}

func runTest(cmd *cobra.Command, args []string) error {
	if parsers == nil {
		return errors.New("parsers not configured")
	}
	types := models.AllTypes
	if args[0] != "all" {
		t, err := models.ParseDocType(args[0])
		if err != nil {
			return err
		}
		types = []models.DocType{t}
	}

	failed := 0
	for _, t := range types {
		res, err := golden.Check(cmd.Context(), parsers, t)
		if err != nil {
			return fmt.Errorf("test %s: %w", t, err)
		}
		if res.OK() {
			cmd.Printf("%s: ok (%d records, %d ignored)\n", t, res.Records, res.Ignored)
			continue
		}
		failed++
		cmd.Printf("%s: %d mismatches\n", t, len(res.Mismatches))
		for _, m := range res.Mismatches {
			cmd.Printf("  %s\n", m)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d types failed", failed)
	}
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if cacheStore == nil {
		return errors.New("cache store not configured")
	}
	counts, err := cacheStore.Counts(cmd.Context())
	if err != nil {
		return fmt.Errorf("read cache counts: %w", err)
	}
	if len(counts) == 0 {
		cmd.Println("Cache is empty.")
		return nil
	}
	for _, t := range models.AllTypes {
		byStatus, ok := counts[t]
		if !ok {
			continue
		}
		statuses := make([]string, 0, len(byStatus))
		for s := range byStatus {
			statuses = append(statuses, string(s))
		}
		slices.Sort(statuses)
		parts := make([]string, 0, len(statuses))
		for _, s := range statuses {
			parts = append(parts, fmt.Sprintf("%s=%d", s, byStatus[models.Status(s)]))
		}
		cmd.Printf("%s: %s\n", t, strings.Join(parts, " "))
	}
	return nil
}
