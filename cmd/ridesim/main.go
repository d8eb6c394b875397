// Command ridesim replays canned ride scenarios against an in-process
// registry and prints every event the run produces.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/ride-lifecycle/internal/events"
	"github.com/example/ride-lifecycle/internal/logging"
	"github.com/example/ride-lifecycle/internal/payments"
	"github.com/example/ride-lifecycle/internal/registry"
	"github.com/example/ride-lifecycle/internal/ride"
)

type printSink struct{ w io.Writer }

func (p printSink) Write(e events.Event) error {
	_, err := fmt.Fprintf(p.w, "[%s] %s\n", e.Type, e.Message)
	return err
}

func main() {
	var (
		scenario    int
		verbose     bool
		step        time.Duration
		successRate float64
		fareMin     float64
		fareSpread  float64
	)
	flag.IntVar(&scenario, "scenario", 0, "scenario to run (1-5); 0 runs all")
	flag.BoolVar(&verbose, "v", false, "also emit structured JSON logs")
	flag.DurationVar(&step, "step", 200*time.Millisecond, "simulated delay for matching, payment and status steps")
	flag.Float64Var(&successRate, "success-rate", 0.8, "probability a simulated payment is approved")
	flag.Float64Var(&fareMin, "fare-min", ride.DefaultFareMin, "lowest base fare")
	flag.Float64Var(&fareSpread, "fare-spread", ride.DefaultFareSpread, "width of the base fare range")
	flag.Parse()

	logger := logging.NewLogger("error")
	sinks := []events.Sink{printSink{w: os.Stdout}}
	if verbose {
		logger = logging.NewLogger("debug")
		sinks = append(sinks, events.LogSink{Logger: logger})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run := func(n int) {
		sc, ok := scenarios[n]
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown scenario %d\n", n)
			os.Exit(2)
		}
		// each scenario gets its own registry, like a fresh app
		reg := registry.New(registry.Config{
			Events:      events.NewBus(logger, sinks...),
			Processor:   payments.NewSimulator(successRate, step),
			Logger:      logger,
			LookupDelay: step,
			MatchDelay:  step,
			RideOptions: []ride.Option{ride.WithFare(ride.RandomFare(fareMin, fareSpread))},
		})
		fmt.Printf("\n== Scenario %d: %s ==\n", n, sc.title)
		if err := sc.run(ctx, reg, step); err != nil {
			fmt.Printf("scenario %d: %v\n", n, err)
		}
	}

	if scenario != 0 {
		run(scenario)
		return
	}
	for n := 1; n <= len(scenarios); n++ {
		run(n)
	}
}
