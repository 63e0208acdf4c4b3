// Command show_levels prints the computed price ladder for a range so the
// operator can sanity-check a configuration before trading it.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"fibgrid/internal/levels"
)

func main() {
	priceMin := flag.Float64("min", 100, "bottom of the operating range")
	priceMax := flag.Float64("max", 160, "top of the operating range")
	maxPos := flag.Int("maxpos", 40, "contracts held at the bottom of the range")
	count := flag.Int("count", 15, "number of levels")
	mode := flag.String("mode", "step", "level model: step or zone")
	flag.Parse()

	cfg := levels.Config{
		PriceMin:    *priceMin,
		PriceMax:    *priceMax,
		MaxPosition: *maxPos,
		LevelCount:  *count,
	}

	switch *mode {
	case "step":
		model, err := levels.NewStepModel(cfg)
		if err != nil {
			log.Fatalf("Error building step model: %v", err)
		}
		printStepLadder(model)
	case "zone":
		model, err := levels.NewZoneModel(cfg, levels.DefaultZoneConfig())
		if err != nil {
			log.Fatalf("Error building zone model: %v", err)
		}
		printZoneLadder(model)
	default:
		log.Fatalf("Unknown mode %q (want step or zone)", *mode)
	}
}

func printStepLadder(model *levels.StepModel) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Idx\tRatio\tPrice\tTarget\t")
	for i, lvl := range model.Levels() {
		fmt.Fprintf(w, "%d\t%.3f\t%.2f\t%d\t\n", i, lvl.Ratio, lvl.Price, lvl.TargetPosition)
	}
	w.Flush()
}

func printZoneLadder(model *levels.ZoneModel) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Idx\tRatio\tPrice\tTarget\tZone\tProfit%\tTakeProfit\t")
	for i, lvl := range model.Levels() {
		fmt.Fprintf(w, "%d\t%.3f\t%.2f\t%d\t%s\t%.2f\t%.2f\t\n",
			i,
			lvl.Ratio,
			lvl.Price,
			lvl.TargetPosition,
			model.ZoneFor(lvl.Price),
			model.ProfitTargetAt(lvl.Price),
			model.TakeProfitPrice(lvl.Price),
		)
	}
	w.Flush()
}
