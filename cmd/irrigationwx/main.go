package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/chrissnell/irrigationwx/internal/app"
	"github.com/chrissnell/irrigationwx/internal/log"
	"github.com/chrissnell/irrigationwx/internal/metrics"
	"github.com/chrissnell/irrigationwx/pkg/config"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

// globalFlags are shared by every subcommand
type globalFlags struct {
	cfgFile    string
	cfgBackend string
	debug      bool
	jsonOut    bool
}

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:     "irrigationwx",
		Short:   "Irrigation decisions and soil water balance from weather aggregates",
		Version: version,
		Long: `irrigationwx computes reference evapotranspiration from the weather
aggregates in the shared store, keeps a soil water bucket per irrigation zone
and asks a language model, with a rule-based fallback, whether to water.

Run "serve" for the scheduled service or the one-shot commands from cron.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return log.Init(g.debug)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.cfgFile, "config", "config.yaml", "Path to configuration source (YAML file or SQLite database)")
	pf.StringVar(&g.cfgBackend, "config-backend", config.BackendYAML, "Configuration backend type: 'yaml' or 'sqlite'")
	pf.BoolVar(&g.debug, "debug", false, "Turn on debugging output")
	pf.BoolVar(&g.jsonOut, "json", false, "Print results as JSON")

	root.AddCommand(
		serveCmd(g),
		et0Cmd(g),
		balanceCmd(g),
		creditCmd(g),
		verdictCmd(g),
		bucketCmd(g),
		configCmd(g),
	)
	return root
}

func loadConfig(g *globalFlags) (*config.ConfigData, error) {
	filename, _ := filepath.Abs(g.cfgFile)

	provider, err := config.NewProvider(g.cfgBackend, filename)
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	cfg, err := config.Load(provider)
	if err != nil {
		return nil, fmt.Errorf("error reading configuration. Did you pass the --config flag? Run with -h for help: %w", err)
	}
	return cfg, nil
}

// openApp loads configuration and wires the components for a one-shot command
func openApp(ctx context.Context, g *globalFlags, m *metrics.Metrics) (*app.App, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, m, nil, log.GetSugaredLogger())
}

func serveCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daily balance and verdict schedule, the switch watcher and the ops HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, metrics.NewMetrics())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(cmd.Context())
		},
	}
}
