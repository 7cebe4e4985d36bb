package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/newthinker/arena/internal/app"
	"github.com/newthinker/arena/internal/strategy"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies [name]",
	Short: "List strategies or show one strategy's parameters",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStrategies,
}

func init() {
	rootCmd.AddCommand(strategiesCmd)
}

func runStrategies(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App, log *zap.Logger) error {
		if len(args) == 0 {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION\t")
			fmt.Fprintln(w, "----\t-----------\t")
			for _, s := range a.Engine().GetAll() {
				fmt.Fprintf(w, "%s\t%s\t\n", s.Name(), s.Description())
			}
			return w.Flush()
		}

		s, err := a.Engine().Lookup(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s - %s\n\n", s.Name(), s.Description())
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "PARAM\tDEFAULT\tMIN\tMAX\tSTEP\tDESCRIPTION\t")
		fmt.Fprintln(w, "-----\t-------\t---\t---\t----\t-----------\t")
		for _, p := range s.Params() {
			fmt.Fprintf(w, "%s\t%g\t%g\t%g\t%g\t%s\t\n", p.Key, p.Default, p.Min, p.Max, p.Step, p.Description)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		log.Debug("strategy described", zap.String("strategy", s.Name()), zap.Any("defaults", strategy.Defaults(s)))
		return nil
	})
}
