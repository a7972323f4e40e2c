package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/allyourbase/seedcache/internal/app"
	"github.com/allyourbase/seedcache/internal/backup"
	"github.com/allyourbase/seedcache/internal/fingerprint"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and prune the backup cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached backups, newest first",
	RunE:  runCacheList,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove stale backups",
	Long: `Remove cached backups. By default every backup except the one matching the
current fingerprint is removed.

Examples:
  seedcache cache prune
  seedcache cache prune --older-than 168h
  seedcache cache prune --all`,
	RunE: runCachePrune,
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cachePruneCmd)

	cacheListCmd.Flags().String("cache-dir", "", "Backup cache directory (overrides config)")

	cachePruneCmd.Flags().String("cache-dir", "", "Backup cache directory (overrides config)")
	cachePruneCmd.Flags().String("engine", "", "Database engine, selects migration subdirectories (overrides config)")
	cachePruneCmd.Flags().Bool("all", false, "Also remove the backup for the current fingerprint")
	cachePruneCmd.Flags().Duration("older-than", 0, "Only remove backups older than this")
	cachePruneCmd.Flags().Bool("dry-run", false, "Print what would be removed")
}

func runCacheList(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger(cmd)
	if err != nil {
		return err
	}

	records, err := app.OpenRegistry(cfg, logger).List()
	if err != nil {
		return fmt.Errorf("listing backups: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, "No backups cached.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINGERPRINT\tSIZE\tCREATED\tREFS")
	for _, r := range records {
		refs := "no"
		if r.HasRefs {
			refs = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", shortFP(r.Fingerprint), humanSize(r.Size), r.ModTime.Format(time.RFC3339), refs)
	}
	return w.Flush()
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger(cmd)
	if err != nil {
		return err
	}
	all, _ := cmd.Flags().GetBool("all")
	olderThan, _ := cmd.Flags().GetDuration("older-than")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	registry := app.OpenRegistry(cfg, logger)
	records, err := registry.List()
	if err != nil {
		return fmt.Errorf("listing backups: %w", err)
	}

	keep := ""
	if !all {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		plan, err := app.Plan(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("computing current fingerprint (use --all to skip): %w", err)
		}
		keep = plan.Fingerprint.String()
	}

	out := cmd.OutOrStdout()
	removed := 0
	for _, r := range selectPrunable(records, keep, olderThan, time.Now()) {
		if dryRun {
			fmt.Fprintf(out, "would remove %s\n", shortFP(r.Fingerprint))
			continue
		}
		if err := registry.Remove(r.Fingerprint); err != nil {
			return fmt.Errorf("removing backup %s: %w", shortFP(r.Fingerprint), err)
		}
		fmt.Fprintf(out, "removed %s\n", shortFP(r.Fingerprint))
		removed++
	}
	if !dryRun {
		fmt.Fprintf(out, "%d backup(s) removed\n", removed)
	}
	return nil
}

// selectPrunable returns the records other than keep that are older than
// olderThan (any age when zero).
func selectPrunable(records []backup.Record, keep string, olderThan time.Duration, now time.Time) []backup.Record {
	var out []backup.Record
	for _, r := range records {
		if r.Fingerprint == keep {
			continue
		}
		if olderThan > 0 && now.Sub(r.ModTime) < olderThan {
			continue
		}
		out = append(out, r)
	}
	return out
}

func shortFP(fp string) string {
	return fingerprint.Fingerprint(fp).Short()
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
