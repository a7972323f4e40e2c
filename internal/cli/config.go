package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/allyourbase/seedcache/internal/app"
	"github.com/allyourbase/seedcache/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print resolved configuration",
	Long: `Load and print the resolved seedcache configuration as TOML.
Shows the result of merging defaults, seedcache.toml, environment variables, and flags.`,
	RunE: runConfig,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default seedcache.toml",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out, err := cfg.ToTOML()
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultPath
	}
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking %s: %w", path, err)
	}

	if err := config.GenerateDefault(path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
	return nil
}

// loadConfig loads the config named by --config and applies whichever
// override flags the command defines.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	flags := make(map[string]string)
	for _, name := range []string{"database-url", "engine", "cache-dir", "lifetime", "host"} {
		if f := cmd.Flags().Lookup(name); f != nil && f.Value.String() != "" {
			flags[name] = f.Value.String()
		}
	}
	if v, err := cmd.Flags().GetInt("port"); err == nil && v != 0 {
		flags["port"] = strconv.Itoa(v)
	}
	if v, err := cmd.Flags().GetBool("no-backup"); err == nil && v {
		flags["no-backup"] = "true"
	}

	cfg, err := config.Load(configPath, flags)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// loadConfigAndLogger is loadConfig plus a logger built from [logging].
func loadConfigAndLogger(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	return cfg, app.NewLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format), nil
}

// addDatabaseFlags registers the flags that select the database.
func addDatabaseFlags(cmd *cobra.Command) {
	cmd.Flags().String("database-url", "", "Database URL or SQLite path (overrides config)")
	cmd.Flags().String("engine", "", "Database engine: postgresql, mysql or sqlite (overrides config)")
	cmd.Flags().String("cache-dir", "", "Backup cache directory (overrides config)")
	cmd.Flags().Bool("no-backup", false, "Reload fixtures from scratch instead of using backups")
}
