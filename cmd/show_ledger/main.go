// Command show_ledger dumps the position ledger: open lots, recent trades,
// today's results and overall realized-PnL statistics, with an optional CSV
// export of the trade history.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"fibgrid/internal/adapters/logger"
	"fibgrid/internal/adapters/sqlite"
	"fibgrid/internal/domain"
	"fibgrid/internal/ledger"
	"fibgrid/internal/stats"
	"fibgrid/internal/utils"
)

func main() {
	dbPath := flag.String("db", "./data/fibgrid.db", "path to the ledger database")
	symbol := flag.String("symbol", "SOLUSDT", "trading symbol")
	limit := flag.Int("limit", 20, "number of recent trades to print")
	capital := flag.Float64("capital", 0, "initial capital for relative drawdown (0 skips)")
	csvPath := flag.String("csv", "", "export full trade history to this CSV file")
	flag.Parse()

	ctx := context.Background()
	appLogger := logger.NewStdLogger(logger.LevelWarn)

	store, err := sqlite.NewStore(sqlite.Config{DBPath: *dbPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("Error opening ledger store: %v", err)
	}
	defer store.Close()

	book, err := ledger.New(ledger.Config{Store: store, Logger: appLogger, Symbol: *symbol})
	if err != nil {
		log.Fatalf("Error opening ledger: %v", err)
	}

	printOpenLots(ctx, store, book, *symbol)
	printRecentTrades(ctx, store, *symbol, *limit)
	printDailyStats(ctx, book)
	printStats(ctx, store, *symbol, *capital)

	if *csvPath != "" {
		exportTrades(ctx, store, *symbol, *csvPath)
	}
}

func printOpenLots(ctx context.Context, store *sqlite.Store, book *ledger.Ledger, symbol string) {
	lots, err := store.OpenLots(ctx, symbol)
	if err != nil {
		log.Fatalf("Error loading open lots: %v", err)
	}

	fmt.Printf("## Open lots (%s)\n", symbol)
	if len(lots) == 0 {
		fmt.Println("none")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
		fmt.Fprintln(w, "ID\tCreated\tEntry\tRemaining\tOrig\tManual\tNote\t")
		for _, lot := range lots {
			fmt.Fprintf(w, "%d\t%s\t%.2f\t%.2f\t%.2f\t%t\t%s\t\n",
				lot.ID,
				lot.CreatedAt.Format("2006-01-02 15:04"),
				lot.EntryPrice,
				lot.Quantity,
				lot.OrigQty,
				lot.Manual,
				lot.Note,
			)
		}
		w.Flush()
	}

	qty, avg, err := book.TotalPosition(ctx)
	if err != nil {
		log.Fatalf("Error computing total position: %v", err)
	}
	fmt.Printf("total position: %.2f contracts @ avg %.2f\n\n", qty, avg)
}

func printRecentTrades(ctx context.Context, store *sqlite.Store, symbol string, limit int) {
	trades, err := store.RecentTrades(ctx, symbol, limit)
	if err != nil {
		log.Fatalf("Error loading trades: %v", err)
	}

	fmt.Printf("## Recent trades (last %d)\n", limit)
	if len(trades) == 0 {
		fmt.Println("none")
		fmt.Println()
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Time\tSide\tPrice\tQty\tPnL\tPnL%\tTag\tLots\t")
	for _, t := range trades {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t%s\t\n",
			t.CreatedAt.Format("2006-01-02 15:04"),
			t.Side,
			t.Price,
			t.Quantity,
			t.PnL,
			t.PnLPct,
			t.Tag,
			t.LotRefs,
		)
	}
	w.Flush()
	fmt.Println()
}

func printDailyStats(ctx context.Context, book *ledger.Ledger) {
	daily, err := book.DailyStats(ctx, time.Now().UTC())
	if err != nil {
		log.Fatalf("Error loading daily stats: %v", err)
	}
	fmt.Println("## Today")
	fmt.Printf("trades: %d  wins: %d  losses: %d  win rate: %.1f%%  realized PnL: %.2f\n\n",
		daily.Trades, daily.Wins, daily.Losses, daily.WinRate(), daily.TotalPnL)
}

func printStats(ctx context.Context, store *sqlite.Store, symbol string, capital float64) {
	// LIMIT -1 is SQLite for "no limit".
	trades, err := store.RecentTrades(ctx, symbol, -1)
	if err != nil {
		log.Fatalf("Error loading trade history: %v", err)
	}

	report := stats.Analyze(trades, capital)
	fmt.Println("## Realized performance")
	if report.TotalTrades == 0 {
		fmt.Println("no trades recorded")
		return
	}
	fmt.Printf("trades: %d (buys %d / sells %d)\n", report.TotalTrades, report.Buys, report.Sells)
	fmt.Printf("win rate: %.1f%%  profit factor: %.2f  expectancy: %.2f\n",
		report.WinRate*100, report.ProfitFactor, report.Expectancy)
	fmt.Printf("total PnL: %.2f  avg win: %.2f  avg loss: %.2f\n",
		report.TotalPnL, report.AverageWin, report.AverageLoss)
	fmt.Printf("max drawdown: %.2f", report.MaxDrawdown)
	if report.MaxDrawdownPct > 0 {
		fmt.Printf(" (%.2f%%)", report.MaxDrawdownPct)
	}
	fmt.Printf("  streaks: %d wins / %d losses\n", report.MaxConsecutiveWins, report.MaxConsecutiveLosses)

	days := report.Days()
	if len(days) > 0 {
		fmt.Println("\ndaily returns:")
		for _, day := range days {
			fmt.Printf("  %s  %+.2f\n", day, report.DailyReturns[day])
		}
	}
}

func exportTrades(ctx context.Context, store *sqlite.Store, symbol, path string) {
	trades, err := store.RecentTrades(ctx, symbol, -1)
	if err != nil {
		log.Fatalf("Error loading trade history for export: %v", err)
	}
	// RecentTrades returns newest first; export reads better oldest first.
	reversed := make([]*domain.TradeRecord, len(trades))
	for i, t := range trades {
		reversed[len(trades)-1-i] = t
	}
	if err := utils.WriteTradesToCSV(reversed, path); err != nil {
		log.Fatalf("Error writing CSV: %v", err)
	}
	fmt.Printf("\nexported %d trades to %s\n", len(reversed), path)
}
