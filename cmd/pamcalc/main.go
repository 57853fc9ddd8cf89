// Command pamcalc validates, compiles, and runs price adjustment
// graphs defined in YAML files.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/priceflow/pam-engine/internal/application"
	"github.com/priceflow/pam-engine/internal/domain"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "pamcalc",
		Short:         "Validate, compile, and run price adjustment graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(validateCmd(), compileCmd(), runCmd())

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadGraph loads a graph definition from a YAML file.
func loadGraph(path string) (*domain.PAMGraph, error) {
	loader, err := application.NewGraphLoader(application.NewValidator(nil))
	if err != nil {
		return nil, err
	}
	return loader.LoadFromFile(path)
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph.yaml>",
		Short: "Validate a graph definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := loadGraph(args[0])
			if err != nil {
				return err
			}

			result := application.NewValidator(nil).Validate(graph)
			for _, w := range result.Warnings {
				fmt.Fprintf(cmd.OutOrStdout(), "warning: %s\n", w)
			}
			for _, e := range result.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "error: %s\n", e)
			}
			if !result.Valid() {
				return fmt.Errorf("graph is invalid: %d error(s)", len(result.Errors))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "graph is valid: %d node(s), output %s\n",
				len(graph.Nodes), graph.Output)
			return nil
		},
	}
}

func compileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile <graph.yaml>",
		Short: "Compile a graph and print its execution plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := loadGraph(args[0])
			if err != nil {
				return err
			}

			compiled, err := application.NewCompiler(application.NewValidator(nil)).Compile(graph)
			if err != nil {
				return err
			}
			for i, id := range compiled.ExecutionPlan {
				deps := compiled.Dependencies[id]
				if len(deps) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s\n", i+1, id)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%3d  %s  <- %v\n", i+1, id, deps)
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var (
		asOf       string
		preference string
		tenant     string
		basePrice  string
	)

	cmd := &cobra.Command{
		Use:   "run <graph.yaml>",
		Short: "Execute a graph and print the result with its contribution trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			graph, err := loadGraph(args[0])
			if err != nil {
				return err
			}

			asOfDate, err := time.Parse(time.DateOnly, asOf)
			if err != nil {
				return fmt.Errorf("invalid --as-of date: %w", err)
			}
			pref := domain.VersionPreference(preference)
			if !pref.Valid() {
				return fmt.Errorf("invalid --version-preference %q", preference)
			}

			ec := domain.ExecutionContext{
				TenantID:          tenant,
				AsOfDate:          asOfDate,
				VersionPreference: pref,
				BaseCurrency:      graph.Metadata.BaseCurrency,
				BaseUnit:          graph.Metadata.BaseUnit,
			}
			if basePrice != "" {
				bp, err := decimal.NewFromString(basePrice)
				if err != nil {
					return fmt.Errorf("invalid --base-price: %w", err)
				}
				ec.BasePrice = &bp
			}

			executor := application.NewExecutor(application.NewCompiler(application.NewValidator(nil)))
			result, err := executor.Execute(cmd.Context(), graph, ec)
			if err != nil {
				return err
			}

			for _, id := range result.Contributions.NodeIDs() {
				v, _ := result.Contributions.Get(id)
				fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %s\n", id, v)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "value: %s", result.Value)
			if result.Currency != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " %s", result.Currency)
			}
			if result.Unit != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "/%s", result.Unit)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  (%d nodes in %dms)\n",
				result.Metadata.NodesEvaluated, result.Metadata.ExecutionTimeMs)
			return nil
		},
	}

	cmd.Flags().StringVar(&asOf, "as-of", time.Now().Format(time.DateOnly), "as-of date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&preference, "version-preference", string(domain.VersionFinal), "PRELIMINARY, FINAL, or REVISED")
	cmd.Flags().StringVar(&tenant, "tenant", "default", "tenant id for series lookups")
	cmd.Flags().StringVar(&basePrice, "base-price", "", "base price seed for the execution context")
	return cmd
}
