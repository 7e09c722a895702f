package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/chrissnell/irrigationwx/internal/log"
	"github.com/chrissnell/irrigationwx/pkg/config"
)

func configCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and convert configuration",
	}
	cmd.AddCommand(configImportCmd(), configCheckCmd(g))
	return cmd
}

func configImportCmd() *cobra.Command {
	var (
		yamlFile   string
		sqliteFile string
		force      bool
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Convert a YAML configuration into a SQLite configuration database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if _, err := os.Stat(sqliteFile); err == nil && !force {
				return fmt.Errorf("SQLite file already exists: %s (use --force to overwrite)", sqliteFile)
			}

			fmt.Fprintf(out, "Converting YAML configuration to SQLite...\n")
			fmt.Fprintf(out, "  Source: %s\n", yamlFile)
			fmt.Fprintf(out, "  Target: %s\n", sqliteFile)

			configData, err := config.NewYAMLProvider(yamlFile).LoadConfig()
			if err != nil {
				return fmt.Errorf("error loading YAML configuration: %w", err)
			}
			if err := config.Validate(withDefaults(configData)); err != nil {
				return err
			}

			if dryRun {
				printConfigSummary(out, configData)
				fmt.Fprintln(out, "DRY RUN complete - no database created")
				return nil
			}

			if force {
				if err := os.Remove(sqliteFile); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("error removing existing SQLite file: %w", err)
				}
			}
			if err := os.MkdirAll(filepath.Dir(sqliteFile), 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}

			provider, err := config.NewSQLiteProviderWithLogger(sqliteFile, log.GetSugaredLogger())
			if err != nil {
				return fmt.Errorf("failed to create SQLite provider: %w", err)
			}
			defer provider.Close()

			if err := provider.SaveConfig(configData); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			fmt.Fprintf(out, "Conversion completed successfully!\n")
			fmt.Fprintf(out, "You can now use the SQLite backend with: --config-backend sqlite --config %s\n", sqliteFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&yamlFile, "yaml", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&sqliteFile, "sqlite", "", "Path to SQLite database file")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing SQLite database")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	cmd.MarkFlagRequired("yaml")
	cmd.MarkFlagRequired("sqlite")
	return cmd
}

func configCheckCmd(g *globalFlags) *cobra.Command {
	var against string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Load, validate and summarise the configuration",
		Long: `Loads the configuration named by --config, applies defaults and
IRRIGATIONWX_* environment overrides and validates it. With --against, the
raw configuration is also compared section by section with a SQLite
configuration database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, err := loadConfig(g)
			if err != nil {
				return err
			}
			printConfigSummary(out, cfg)
			fmt.Fprintln(out, "\n✓ configuration is valid")

			if against == "" {
				return nil
			}
			return compareWith(out, g, against)
		},
	}
	cmd.Flags().StringVar(&against, "against", "", "SQLite configuration database to compare with")
	return cmd
}

// withDefaults returns a copy of cfg with defaults applied, for validation only
func withDefaults(cfg *config.ConfigData) *config.ConfigData {
	c := *cfg
	c.Zones = append([]config.ZoneData(nil), cfg.Zones...)
	config.ApplyDefaults(&c)
	return &c
}

func compareWith(out io.Writer, g *globalFlags, sqliteFile string) error {
	src, err := config.NewProvider(g.cfgBackend, g.cfgFile)
	if err != nil {
		return err
	}
	defer src.Close()
	a, err := src.LoadConfig()
	if err != nil {
		return err
	}

	dst, err := config.NewSQLiteProvider(sqliteFile)
	if err != nil {
		return err
	}
	defer dst.Close()
	b, err := dst.LoadConfig()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "\nComparison Results:")
	sections := []struct {
		name string
		a, b any
	}{
		{"site", a.Site, b.Site},
		{"zones", a.Zones, b.Zones},
		{"store", a.Store, b.Store},
		{"timeseries", a.Timeseries, b.Timeseries},
		{"judge", a.Judge, b.Judge},
		{"bus", a.Bus, b.Bus},
		{"schedule", a.Schedule, b.Schedule},
		{"http", a.HTTP, b.HTTP},
	}
	differ := 0
	for _, s := range sections {
		if reflect.DeepEqual(s.a, s.b) {
			fmt.Fprintf(out, "✓ %s matches\n", s.name)
			continue
		}
		differ++
		fmt.Fprintf(out, "✗ %s differs\n    %+v\n    %+v\n", s.name, s.a, s.b)
	}
	if differ > 0 {
		return fmt.Errorf("%d configuration sections differ", differ)
	}
	return nil
}

func printConfigSummary(out io.Writer, cfg *config.ConfigData) {
	fmt.Fprintln(out, "\nConfiguration Summary:")
	fmt.Fprintf(out, "Site: lat %.4f, elevation %.0f m, %s\n", cfg.Site.Latitude, cfg.Site.ElevationM, cfg.Site.Timezone)

	fmt.Fprintf(out, "Zones (%d):\n", len(cfg.Zones))
	for _, z := range cfg.Zones {
		fmt.Fprintf(out, "  - %s: root depth %.2f m, AWC %.0f mm/m, TAW %.1f mm", z.Name, z.RootDepthM, z.AWCMMPerM, z.RootDepthM*z.AWCMMPerM)
		if z.Switch != "" {
			fmt.Fprintf(out, ", switch %s", z.Switch)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "Store: %s\n", cfg.Store.Backend)
	if cfg.Timeseries.ConnectionString != "" {
		fmt.Fprintf(out, "Cloud cover: %s.%s\n", cfg.Timeseries.Measurement, cfg.Timeseries.CloudField)
	}
	if cfg.Judge.Endpoint != "" {
		fmt.Fprintf(out, "Judge: %s (%s)\n", cfg.Judge.Endpoint, cfg.Judge.Model)
	}
	if len(cfg.Bus.Brokers) > 0 {
		fmt.Fprintf(out, "Switch events: %s on %v\n", cfg.Bus.Topic, cfg.Bus.Brokers)
	}
}
