package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"evotree/internal/config"
	"evotree/internal/evo"
	"evotree/internal/grammar"
)

func newGrammarCmd(root *rootOptions) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "grammar",
		Short: "List the built-in primitives, or the symbols a run config assembles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				return printAssembledGrammar(root, configPath)
			}
			w := tabwriter.NewWriter(root.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tARITY\tINPUTS\tOUTPUT")
			for _, name := range grammar.ListPrimitives() {
				spec, err := grammar.LookupPrimitive(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", spec.Name, arity(spec.MinArity, spec.MaxArity), joinTypes(spec.Inputs), spec.Output)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "show the grammar assembled from this run config")
	return cmd
}

func printAssembledGrammar(root *rootOptions, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	asm, err := cfg.Assemble()
	if err != nil {
		return err
	}
	g := asm.Grammar
	w := tabwriter.NewWriter(root.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tKIND\tARITY\tSTART\tDETAIL")
	for _, s := range g.Symbols() {
		detail := ""
		switch s.Kind {
		case grammar.Constant:
			detail = fmt.Sprintf("[%g, %g]", s.MinValue, s.MaxValue)
		case grammar.Variable:
			detail = strings.Join(s.Variables, ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", s.Name, s.Kind, arity(s.MinArity, s.MaxArity), g.IsStartSymbol(s), detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(root.stdout, "bounds length=[%d, %d] depth=[%d, %d] rows=%d\n",
		g.MinLength(), g.MaxLength(), g.MinDepth(), g.MaxDepth(), asm.Train.Len())
	return nil
}

func newOperatorsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "operators",
		Short: "List the registered mutation and crossover operators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(root.stdout, "mutations: %s\n", strings.Join(evo.ListMutations(), " "))
			fmt.Fprintf(root.stdout, "crossovers: %s\n", strings.Join(evo.ListCrossovers(), " "))
			fmt.Fprintln(root.stdout, "creators: grow full ramped_half_and_half")
			fmt.Fprintln(root.stdout, "selection: tournament proportional")
			fmt.Fprintln(root.stdout, "arity strategies: throw replace_existing_child skip_and_backfill replace_with_terminal")
			return nil
		},
	}
}

func newConfigCmd(root *rootOptions) *cobra.Command {
	var check string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the default run config, or validate one with --check",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if check != "" {
				if _, err := config.Load(check); err != nil {
					return err
				}
				fmt.Fprintf(root.stdout, "%s: ok\n", check)
				return nil
			}
			data, err := config.Default().Marshal()
			if err != nil {
				return err
			}
			_, err = root.stdout.Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&check, "check", "", "validate this config file instead of printing defaults")
	return cmd
}

func arity(lo, hi int) string {
	if lo == hi {
		return fmt.Sprintf("%d", lo)
	}
	return fmt.Sprintf("%d..%d", lo, hi)
}

func joinTypes(types []grammar.Type) string {
	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, string(t))
	}
	return strings.Join(parts, ",")
}
