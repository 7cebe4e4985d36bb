package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/newthinker/arena/internal/app"
	"github.com/newthinker/arena/internal/backtest"
	"github.com/newthinker/arena/internal/core"
	"github.com/newthinker/arena/internal/strategy"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	backtestSymbol     string
	backtestInterval   string
	backtestSince      string
	backtestAmount     float64
	backtestLongOnly   bool
	backtestParamsFile string
	backtestParams     []string
	backtestExcludeEnd bool
	backtestTrades     bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest [strategy]",
	Short: "Run backtest on a strategy",
	Long: `Run a strategy against cached history for one symbol and show performance statistics.
The strategy may be omitted when --params-file names one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBacktest,
}

func init() {
	backtestCmd.Flags().StringVar(&backtestSymbol, "symbol", "", "Symbol to backtest (required)")
	backtestCmd.Flags().StringVar(&backtestInterval, "interval", "1d", "Bar interval")
	backtestCmd.Flags().StringVar(&backtestSince, "since", "", "Drop trades entered before YYYY-MM-DD")
	backtestCmd.Flags().Float64Var(&backtestAmount, "amount", 0, "Notional per trade")
	backtestCmd.Flags().BoolVar(&backtestLongOnly, "long-only", false, "Ignore short entries")
	backtestCmd.Flags().StringVar(&backtestParamsFile, "params-file", "", "YAML preset with strategy parameters")
	backtestCmd.Flags().StringArrayVarP(&backtestParams, "param", "p", nil, "Parameter override key=value (repeatable)")
	backtestCmd.Flags().BoolVar(&backtestExcludeEnd, "exclude-end", false, "Leave end-of-data closes out of metrics")
	backtestCmd.Flags().BoolVar(&backtestTrades, "trades", false, "List individual trades")
	backtestCmd.MarkFlagRequired("symbol")
	rootCmd.AddCommand(backtestCmd)
}

func runBacktest(cmd *cobra.Command, args []string) error {
	name, params, longOnly, err := resolveStrategyArgs(args, backtestParamsFile, backtestParams, backtestLongOnly)
	if err != nil {
		return err
	}
	since, err := parseDate(backtestSince)
	if err != nil {
		return err
	}

	return withApp(func(a *app.App, log *zap.Logger) error {
		res, err := a.Backtester().RunSymbol(context.Background(), backtest.Request{
			Symbol:   strings.ToUpper(backtestSymbol),
			Strategy: name,
			Params:   params,
			Options: backtest.Options{
				Interval:    backtestInterval,
				TradeAmount: backtestAmount,
				LongOnly:    longOnly,
				Since:       since,
				Metrics:     backtest.MetricsOptions{ExcludeEndTrades: backtestExcludeEnd},
			},
		})
		if err != nil {
			return err
		}

		fmt.Println("=== ARENA Backtest ===")
		fmt.Printf("Strategy: %s\n", res.Strategy)
		fmt.Printf("Symbol:   %s (%s)\n", res.Symbol, res.Interval)
		fmt.Printf("Period:   %s to %s\n", res.StartDate.Format("2006-01-02"), res.EndDate.Format("2006-01-02"))
		fmt.Printf("Params:   %v\n", res.Params)
		fmt.Println()
		printMetrics(res.Metrics)

		if backtestTrades {
			fmt.Println()
			printTrades(res.Trades)
		}
		log.Debug("backtest finished", zap.String("symbol", res.Symbol), zap.Int("trades", len(res.Trades)))
		return nil
	})
}

// resolveStrategyArgs merges the positional strategy, a preset file and
// key=value overrides. Overrides win over the preset.
func resolveStrategyArgs(args []string, presetPath string, overrides []string, longOnly bool) (string, map[string]any, bool, error) {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	params := map[string]any{}
	if presetPath != "" {
		p, err := strategy.LoadPreset(presetPath)
		if err != nil {
			return "", nil, false, err
		}
		if name == "" {
			name = p.Strategy
		}
		for k, v := range p.Params {
			params[k] = v
		}
		longOnly = longOnly || p.LongOnly
	}
	if name == "" {
		return "", nil, false, fmt.Errorf("strategy is required (argument or --params-file)")
	}
	for _, kv := range overrides {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return "", nil, false, fmt.Errorf("invalid --param %q (expected key=value)", kv)
		}
		params[k] = v
	}
	return name, params, longOnly, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD): %w", s, err)
	}
	return t, nil
}

func printMetrics(m backtest.Metrics) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Trades:\t%d (closed %d, open %d, end %d)\n", m.TotalTrades, m.ClosedTrades, m.OpenTrades, m.EndClosedTrades)
	fmt.Fprintf(w, "Win rate:\t%.2f%% (%d W / %d L)\n", m.WinRate, m.Wins, m.Losses)
	fmt.Fprintf(w, "Avg win / loss:\t%.2f%% / %.2f%%\n", m.AvgWinPct, m.AvgLossPct)
	fmt.Fprintf(w, "Risk/reward:\t%.2f\n", m.RiskReward)
	fmt.Fprintf(w, "Total return:\t%.2f%%\n", m.TotalReturnPct)
	fmt.Fprintf(w, "Max drawdown:\t%.2f%%\n", m.MaxDrawdownPct)
	fmt.Fprintf(w, "Profit factor:\t%.2f\n", m.ProfitFactor)
	fmt.Fprintf(w, "Sharpe:\t%.2f\n", m.SharpeRatio)
	fmt.Fprintf(w, "P&L:\t%.2f\n", m.TotalProfitLoss)
	w.Flush()
}

func printTrades(trades []core.Trade) {
	if len(trades) == 0 {
		fmt.Println("No trades.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDIR\tENTRY\tPRICE\tEXIT\tPRICE\tREASON\tRETURN\t")
	fmt.Fprintln(w, "--\t---\t-----\t-----\t----\t-----\t------\t------\t")
	for _, t := range trades {
		exit, reason := "open", "-"
		if t.ExitTime != nil {
			exit = t.ExitTime.Format("2006-01-02 15:04")
			reason = string(t.CloseReason)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.4f\t%s\t%.4f\t%s\t%+.2f%%\t\n",
			t.ID, t.Direction, t.EntryTime.Format("2006-01-02 15:04"), t.EntryPrice,
			exit, t.ExitPrice, reason, t.ReturnPct)
	}
	w.Flush()
}
