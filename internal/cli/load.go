package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/allyourbase/seedcache/internal/app"
	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load fixtures into the database",
	Long: `Resolve the configured fixtures and bring the database to the fixture state:
restore the backup for the current fingerprint when one exists, otherwise
rebuild the schema, load every fixture and snapshot the result.

Example:
  seedcache load --engine sqlite --database-url test.db`,
	RunE: runLoad,
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Print the fixture fingerprint",
	Long: `Resolve the configured fixtures and migrations and print their fingerprint,
without connecting to the database.`,
	RunE: runFingerprint,
}

func init() {
	addDatabaseFlags(loadCmd)
	loadCmd.Flags().Bool("json", false, "Print the resulting status as JSON")

	fingerprintCmd.Flags().String("engine", "", "Database engine, selects migration subdirectories (overrides config)")
	fingerprintCmd.Flags().Bool("verbose", false, "List units and migrations")
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Fixtures.CacheFixtures(ctx); err != nil {
		return err
	}
	outcome, err := a.Fixtures.ReloadFixtures(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(a.Fixtures.Status())
	}
	fmt.Fprintf(out, "%s %d fixture units (fingerprint %s)\n", outcome, len(a.Fixtures.Units()), a.Fixtures.Fingerprint().Short())
	return nil
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	plan, err := app.Plan(ctx, cfg, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, plan.Fingerprint)
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		for _, name := range plan.Set.Names() {
			fmt.Fprintf(out, "unit      %s\n", name)
		}
		for _, m := range plan.Migrations {
			fmt.Fprintf(out, "migration %s (%s)\n", m.Path, m.Version)
		}
	}
	return nil
}
