// Package main - balance-sim
// Plays the economy headless in virtual time and prints how far a bot gets.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/MRamiBalles/CheeseClicker/server/internal/gate"
	"github.com/MRamiBalles/CheeseClicker/server/internal/platform/config"
	"github.com/MRamiBalles/CheeseClicker/server/internal/sim"
)

func main() {
	configPath := flag.String("config", "", "YAML config overlaid on the defaults")
	duration := flag.Duration("duration", time.Hour, "Virtual time to simulate")
	step := flag.Duration("step", time.Second, "Virtual time per tick")
	clicks := flag.Float64("clicks", 5, "Clicks per second")
	strategy := flag.String("strategy", string(sim.StrategyCheapest), "cheapest or ratio")
	reject := flag.Bool("reject", false, "Reject every spend at the gate")
	seed := flag.Int64("seed", 1, "Marker placement seed")
	jsonOut := flag.String("json", "", "Also write the report as JSON to this file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	opts := sim.Options{
		Config:          cfg,
		Duration:        *duration,
		Step:            *step,
		ClicksPerSecond: *clicks,
		Strategy:        sim.Strategy(*strategy),
		Seed:            *seed,
	}
	if *reject {
		opts.Gate = gate.Static(gate.Rejected)
	}

	report, err := sim.Run(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Simulation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(report.Format())

	if *jsonOut != "" {
		data, _ := json.MarshalIndent(report, "", "  ")
		if err := os.WriteFile(*jsonOut, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *jsonOut, err)
			os.Exit(1)
		}
		fmt.Printf("\nReport saved to %s\n", *jsonOut)
	}
}
