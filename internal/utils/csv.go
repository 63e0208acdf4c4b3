package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"fibgrid/internal/domain"
)

// WriteTradesToCSV exports trade records to a CSV file in the order given.
func WriteTradesToCSV(trades []*domain.TradeRecord, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	writer.Write([]string{"id", "created_at", "symbol", "side", "price", "quantity", "notional", "pnl", "pnl_pct", "tag", "lot_refs"})

	for _, t := range trades {
		writer.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.CreatedAt.Format(time.RFC3339),
			t.Symbol,
			string(t.Side),
			strconv.FormatFloat(t.Price, 'f', -1, 64),
			strconv.FormatFloat(t.Quantity, 'f', -1, 64),
			strconv.FormatFloat(t.Notional(), 'f', -1, 64),
			strconv.FormatFloat(t.PnL, 'f', -1, 64),
			strconv.FormatFloat(t.PnLPct, 'f', -1, 64),
			string(t.Tag),
			t.LotRefs,
		})
	}
	return writer.Error()
}
