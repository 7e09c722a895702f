package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chrissnell/irrigationwx/internal/app"
	"github.com/chrissnell/irrigationwx/internal/soil"
	"github.com/chrissnell/irrigationwx/internal/types"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// selectZones returns the named zones, or all of them when names is empty
func selectZones(a *app.App, names []string) ([]soil.Zone, error) {
	if len(names) == 0 {
		return a.Zones, nil
	}
	zones := make([]soil.Zone, 0, len(names))
	for _, n := range names {
		z, err := a.Zone(n)
		if err != nil {
			return nil, err
		}
		zones = append(zones, z)
	}
	return zones, nil
}

func et0Cmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "et0",
		Short: "Compute and store ET₀ for the last seven local days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.Weekly.Run(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.jsonOut {
				return printJSON(out, result)
			}
			for _, d := range result.Days {
				fmt.Fprintf(out, "%s  %5.2f mm\n", d.Date, d.Et0MM)
			}
			fmt.Fprintf(out, "total       %5.2f mm\n", result.SumMM)
			return nil
		},
	}
}

func balanceCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [zone...]",
		Short: "Apply yesterday's credit, rain and ET₀ to the soil buckets",
		Long: `Runs the daily water balance for the named zones, or every configured
zone. Run it once per day after local midnight, after "et0". Steps whose
data is missing are skipped and reported; the remaining steps still apply.
Running it again the same day applies only the steps that were skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			zones, err := selectZones(a, args)
			if err != nil {
				return err
			}
			states, balanceErr := a.Model.DailyBalanceAll(cmd.Context(), zones)

			out := cmd.OutOrStdout()
			if g.jsonOut {
				if err := printJSON(out, states); err != nil {
					return err
				}
			} else {
				names := make([]string, 0, len(states))
				for n := range states {
					names = append(names, n)
				}
				sort.Strings(names)
				for _, n := range names {
					st := states[n]
					fmt.Fprintf(out, "%-12s %6.1f / %6.1f mm\n", n, st.SMM, st.TAWMM)
				}
			}
			return balanceErr
		},
	}
}

func creditCmd(g *globalFlags) *cobra.Command {
	var depth float64

	cmd := &cobra.Command{
		Use:   "credit",
		Short: "Record irrigation water",
	}
	cmd.PersistentFlags().Float64Var(&depth, "depth", 0, "Applied water depth in mm")
	cmd.MarkPersistentFlagRequired("depth")

	cmd.AddCommand(&cobra.Command{
		Use:   "global",
		Short: "Queue today's shared credit for every zone (first call per local day wins)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			captured, err := a.Model.QueueGlobalCreditOnce(cmd.Context(), depth)
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]any{"captured": captured, "depth_mm": depth})
			}
			if captured {
				fmt.Fprintf(cmd.OutOrStdout(), "queued %.1f mm for tomorrow's balance\n", depth)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "a credit was already captured today; nothing queued")
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "zone <name>",
		Short: "Credit one zone immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			zone, err := a.Zone(args[0])
			if err != nil {
				return err
			}
			st, err := a.Model.CreditIrrigation(cmd.Context(), zone, depth)
			if err != nil {
				return err
			}
			if g.jsonOut {
				return printJSON(cmd.OutOrStdout(), st)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s now %.1f / %.1f mm\n", zone.Name, st.SMM, st.TAWMM)
			return nil
		},
	})
	return cmd
}

func verdictCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "verdict",
		Short: "Ask whether to water now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.Runner.RunVerdict(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if g.jsonOut {
				return printJSON(out, outcome)
			}
			water := "do not water"
			if outcome.Result {
				water = "water"
			}
			fmt.Fprintf(out, "Verdict: %s (%s)\n\n%s\n", water, outcome.Judgment, strings.TrimSpace(outcome.Response))
			if outcome.FormattedEvaluation != nil {
				fmt.Fprintf(out, "\n%s\n", *outcome.FormattedEvaluation)
			}
			return nil
		},
	}
}

func bucketCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "bucket [zone...]",
		Short: "Show the soil bucket of the named zones, or every zone",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), g, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			zones, err := selectZones(a, args)
			if err != nil {
				return err
			}
			statuses := make([]*soil.Status, 0, len(zones))
			for _, z := range zones {
				st, err := a.Model.State(cmd.Context(), z)
				if err != nil {
					return fmt.Errorf("zone %s: %w", z.Name, err)
				}
				statuses = append(statuses, st)
			}

			out := cmd.OutOrStdout()
			if g.jsonOut {
				return printJSON(out, statuses)
			}
			fmt.Fprintf(out, "%-12s %8s %8s %10s %6s  %s\n", "ZONE", "S (mm)", "TAW", "DEPLETION", "FILL", "UPDATED")
			for _, st := range statuses {
				fmt.Fprintf(out, "%-12s %8.1f %8.1f %10.1f %5.0f%%  %s\n",
					st.Zone, st.SMM, st.TAWMM, st.DepletionMM, st.RelativeFill*100,
					st.UpdatedAt.Format(types.DateLayout+" 15:04"))
			}
			return nil
		},
	}
}
