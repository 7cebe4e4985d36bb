package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/newthinker/arena/internal/app"
	"github.com/newthinker/arena/internal/broker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Broker operations",
	Long:  `Commands for inspecting the configured broker (status, account, positions).`,
}

var brokerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check broker connection status",
	RunE:  runBrokerStatus,
}

var brokerPositionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "List current positions",
	RunE:  runBrokerPositions,
}

var brokerReconcileCmd = &cobra.Command{
	Use:   "reconcile [session-id]",
	Short: "Compare a live session's open positions with the broker",
	Args:  cobra.ExactArgs(1),
	RunE:  runBrokerReconcile,
}

func init() {
	rootCmd.AddCommand(brokerCmd)
	brokerCmd.AddCommand(brokerStatusCmd)
	brokerCmd.AddCommand(brokerPositionsCmd)
	brokerCmd.AddCommand(brokerReconcileCmd)
}

// withBroker syncs the broker snapshot before calling fn.
func withBroker(fn func(snap broker.Snapshot, log *zap.Logger) error) error {
	return withApp(func(a *app.App, log *zap.Logger) error {
		exec := a.Executor()
		if exec == nil {
			return fmt.Errorf("broker is disabled (set broker.enabled)")
		}
		tracker := exec.Tracker()
		if err := tracker.Sync(context.Background()); err != nil {
			log.Warn("broker sync failed", zap.Error(err))
		}
		return fn(tracker.Snapshot(), log)
	})
}

func runBrokerStatus(cmd *cobra.Command, args []string) error {
	return withBroker(func(snap broker.Snapshot, log *zap.Logger) error {
		fmt.Printf("Active:    %v\n", snap.Status.Active)
		if snap.Status.LastError != "" {
			fmt.Printf("Error:     %s\n", snap.Status.LastError)
		}
		if !snap.SyncedAt.IsZero() {
			fmt.Printf("Synced at: %s\n", snap.SyncedAt.Format("2006-01-02 15:04:05"))
		}
		if b := snap.Balance; b != nil {
			fmt.Println()
			fmt.Println("Account Summary")
			fmt.Println("---------------")
			fmt.Printf("Cash:         %.2f %s\n", b.Cash, b.Currency)
			fmt.Printf("Buying Power: %.2f\n", b.BuyingPower)
			fmt.Printf("Total Value:  %.2f\n", b.TotalValue)
		}
		log.Info("broker status checked", zap.Bool("active", snap.Status.Active))
		return nil
	})
}

func runBrokerPositions(cmd *cobra.Command, args []string) error {
	return withBroker(func(snap broker.Snapshot, log *zap.Logger) error {
		if len(snap.Positions) == 0 {
			fmt.Println("No positions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "SYMBOL\tQTY\tAVG COST\tMKT VALUE\tP&L\t")
		fmt.Fprintln(w, "------\t---\t--------\t---------\t---\t")
		for _, p := range snap.Positions {
			fmt.Fprintf(w, "%s\t%g\t%.2f\t%.2f\t%+.2f\t\n",
				p.Symbol, p.Quantity, p.AverageCost, p.MarketValue, p.UnrealizedPL)
		}
		w.Flush()

		log.Info("positions listed", zap.Int("count", len(snap.Positions)))
		return nil
	})
}

func runBrokerReconcile(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app.App, log *zap.Logger) error {
		report, err := a.Live().Reconcile(context.Background(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Matches: %d, mismatches: %d\n", report.Matches, report.Mismatches)
		if len(report.Details) == 0 {
			return nil
		}
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tSYMBOL\tMESSAGE\t")
		fmt.Fprintln(w, "----\t------\t-------\t")
		for _, d := range report.Details {
			fmt.Fprintf(w, "%s\t%s\t%s\t\n", d.Kind, d.Symbol, d.Message)
		}
		w.Flush()

		log.Info("reconciliation finished", zap.String("session_id", args[0]), zap.Int("mismatches", report.Mismatches))
		return nil
	})
}
