package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dennislee928/carbontrade/climatiq"
	"github.com/dennislee928/carbontrade/config"
)

func newEstimator(cfg *config.Config, local bool) (*climatiq.Estimator, error) {
	tables := climatiq.DefaultTables()
	if cfg.Climatiq.FactorsFile != "" {
		t, err := climatiq.LoadTables(cfg.Climatiq.FactorsFile)
		if err != nil {
			return nil, err
		}
		tables = t
	}
	if local || cfg.Climatiq.APIKey == "" {
		return climatiq.NewEstimator(nil, tables), nil
	}
	return climatiq.NewEstimator(climatiqClient(cfg), tables), nil
}

func climatiqClient(cfg *config.Config) *climatiq.Client {
	var opts []climatiq.Option
	if cfg.Climatiq.BaseURL != "" {
		opts = append(opts, climatiq.WithBaseURL(cfg.Climatiq.BaseURL))
	}
	return climatiq.NewClient(cfg.Climatiq.APIKey, opts...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newEstimateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate emissions for freight, energy or CBAM goods",
	}
	cmd.PersistentFlags().Bool("local", false, "use the local factor tables even when an API key is set")

	run := func(cmd *cobra.Command, estimate func(*climatiq.Estimator) *climatiq.EmissionResult) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		local, _ := cmd.Flags().GetBool("local")
		est, err := newEstimator(cfg, local)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), estimate(est))
	}

	freight := &cobra.Command{
		Use:   "freight",
		Short: "Freight transport emissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var p climatiq.FreightParams
			p.DistanceKM, _ = cmd.Flags().GetFloat64("distance")
			p.WeightKG, _ = cmd.Flags().GetFloat64("weight")
			p.Mode, _ = cmd.Flags().GetString("mode")
			if p.DistanceKM <= 0 || p.WeightKG <= 0 {
				return errors.New("--distance and --weight must be positive")
			}
			return run(cmd, func(e *climatiq.Estimator) *climatiq.EmissionResult { return e.Freight(cmd.Context(), p) })
		},
	}
	freight.Flags().Float64("distance", 0, "distance in km")
	freight.Flags().Float64("weight", 0, "weight in kg")
	freight.Flags().String("mode", "road", "road, rail, sea or air")

	energy := &cobra.Command{
		Use:   "energy",
		Short: "Energy consumption emissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var p climatiq.EnergyParams
			p.Energy, _ = cmd.Flags().GetFloat64("amount")
			p.Unit, _ = cmd.Flags().GetString("unit")
			p.Type, _ = cmd.Flags().GetString("type")
			p.Country, _ = cmd.Flags().GetString("country")
			if p.Energy <= 0 {
				return errors.New("--amount must be positive")
			}
			return run(cmd, func(e *climatiq.Estimator) *climatiq.EmissionResult { return e.Energy(cmd.Context(), p) })
		},
	}
	energy.Flags().Float64("amount", 0, "energy consumed")
	energy.Flags().String("unit", "kWh", "kWh, MWh or GWh")
	energy.Flags().String("type", "electricity", "electricity, natural_gas, coal or oil")
	energy.Flags().String("country", "", "ISO country code for the electricity grid")

	cbem := &cobra.Command{
		Use:   "cbem",
		Short: "Embedded emissions of imported goods",
		RunE: func(cmd *cobra.Command, args []string) error {
			var p climatiq.CBEMParams
			p.Product, _ = cmd.Flags().GetString("product")
			p.Quantity, _ = cmd.Flags().GetFloat64("quantity")
			p.Region, _ = cmd.Flags().GetString("region")
			if p.Product == "" || p.Quantity <= 0 {
				return errors.New("--product and a positive --quantity are required")
			}
			return run(cmd, func(e *climatiq.Estimator) *climatiq.EmissionResult { return e.CBEM(cmd.Context(), p) })
		},
	}
	cbem.Flags().String("product", "", "cement, steel, aluminum, fertilizer or electricity")
	cbem.Flags().Float64("quantity", 0, "tonnes (kWh for electricity)")
	cbem.Flags().String("region", "EU", "EU, US or CN")

	cmd.AddCommand(freight, energy, cbem)
	return cmd
}

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the Climatiq emission factor catalogue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Climatiq.APIKey == "" {
				return errors.New("CLIMATIQ_API_KEY is required for search")
			}
			var p climatiq.SearchParams
			if len(args) == 1 {
				p.Query = args[0]
			}
			p.Category, _ = cmd.Flags().GetString("category")
			p.Region, _ = cmd.Flags().GetString("region")
			p.Year, _ = cmd.Flags().GetInt("year")
			p.Page, _ = cmd.Flags().GetInt("page")

			res, err := climatiqClient(cfg).Search(cmd.Context(), p)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ACTIVITY\tNAME\tREGION\tYEAR\tSOURCE")
			for _, f := range res.Results {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", f.ActivityID, f.Name, f.Region, f.Year, f.Source)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d, %d results\n", res.CurrentPage, res.LastPage, res.TotalResults)
			return nil
		},
	}
	cmd.Flags().String("category", "", "factor category")
	cmd.Flags().String("region", "", "region code")
	cmd.Flags().Int("year", 0, "factor year")
	cmd.Flags().Int("page", 1, "result page")
	return cmd
}
