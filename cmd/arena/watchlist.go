package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/newthinker/arena/internal/app"
	"github.com/newthinker/arena/internal/backtest"
	"github.com/newthinker/arena/internal/batch"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchlistSymbols     []string
	watchlistInterval    string
	watchlistUsOnly      bool
	watchlistLongOnly    bool
	watchlistParamsFile  string
	watchlistParams      []string
	watchlistSince       string
	watchlistConcurrency int
)

var watchlistCmd = &cobra.Command{
	Use:   "watchlist [strategy]",
	Short: "Backtest a strategy across a watchlist",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatchlist,
}

func init() {
	watchlistCmd.Flags().StringSliceVar(&watchlistSymbols, "symbols", nil, "Symbols (default: configured watchlist)")
	watchlistCmd.Flags().StringVar(&watchlistInterval, "interval", "", "Bar interval (default: batch.interval)")
	watchlistCmd.Flags().BoolVar(&watchlistUsOnly, "us-only", false, "Keep only US symbols")
	watchlistCmd.Flags().BoolVar(&watchlistLongOnly, "long-only", false, "Ignore short entries")
	watchlistCmd.Flags().StringVar(&watchlistParamsFile, "params-file", "", "YAML preset with strategy parameters")
	watchlistCmd.Flags().StringArrayVarP(&watchlistParams, "param", "p", nil, "Parameter override key=value (repeatable)")
	watchlistCmd.Flags().StringVar(&watchlistSince, "since", "", "Drop trades entered before YYYY-MM-DD")
	watchlistCmd.Flags().IntVar(&watchlistConcurrency, "concurrency", 0, "Parallel symbols (capped by batch.concurrency)")
	rootCmd.AddCommand(watchlistCmd)
}

func runWatchlist(cmd *cobra.Command, args []string) error {
	name, params, longOnly, err := resolveStrategyArgs(args, watchlistParamsFile, watchlistParams, watchlistLongOnly)
	if err != nil {
		return err
	}
	since, err := parseDate(watchlistSince)
	if err != nil {
		return err
	}
	symbols := make([]string, 0, len(watchlistSymbols))
	for _, s := range watchlistSymbols {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			symbols = append(symbols, s)
		}
	}

	return withApp(func(a *app.App, log *zap.Logger) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var bar *progressbar.ProgressBar
		res, err := a.Batch().Collect(ctx, batch.Request{
			Symbols:     symbols,
			Strategy:    name,
			Params:      params,
			Interval:    watchlistInterval,
			UsOnly:      watchlistUsOnly,
			LongOnly:    longOnly,
			Since:       since,
			Concurrency: watchlistConcurrency,
		}, func(ev batch.Event) {
			p, ok := ev.(batch.ProgressEvent)
			if !ok {
				return
			}
			if bar == nil {
				bar = progressbar.NewOptions(p.Total,
					progressbar.OptionSetDescription(fmt.Sprintf("Running %s", name)),
					progressbar.OptionShowCount(),
					progressbar.OptionSetWriter(os.Stderr),
				)
			}
			bar.Describe(p.Symbol)
			_ = bar.Add(1)
		})
		if bar != nil {
			_ = bar.Finish()
			fmt.Fprintln(os.Stderr)
		}
		if err != nil {
			return err
		}

		fmt.Printf("=== ARENA Watchlist: %s (%s) ===\n", res.Strategy, res.Interval)
		fmt.Printf("Symbols: %d, skipped: %d, duration: %dms\n\n", len(res.Symbols), len(res.SkippedSymbols), res.DurationMS)
		printMetrics(res.Summary)
		fmt.Println()
		printPerStock(res.PerStock)
		if len(res.SkippedSymbols) > 0 {
			fmt.Printf("\nSkipped: %s\n", strings.Join(res.SkippedSymbols, ", "))
		}
		log.Debug("watchlist finished", zap.Int("trades", len(res.Trades)))
		return nil
	})
}

func printPerStock(per map[string]backtest.Metrics) {
	symbols := make([]string, 0, len(per))
	for s := range per {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SYMBOL\tTRADES\tWIN RATE\tRETURN\tMAX DD\t")
	fmt.Fprintln(w, "------\t------\t--------\t------\t------\t")
	for _, s := range symbols {
		m := per[s]
		fmt.Fprintf(w, "%s\t%d\t%.2f%%\t%+.2f%%\t%.2f%%\t\n", s, m.TotalTrades, m.WinRate, m.TotalReturnPct, m.MaxDrawdownPct)
	}
	w.Flush()
}
