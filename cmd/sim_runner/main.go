package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/miretskiy/flashsim/simulator"
)

func main() {
	// Parse command line flags
	configFile := flag.String("config", "", "Path to JSON configuration file (optional, defaults apply)")
	durationSec := flag.Int("duration", 3600, "Simulation duration in virtual seconds")
	outputFile := flag.String("output", "", "Path to output JSON file (optional, prints to stdout if not specified)")
	speedMultiplier := flag.Int("speed", 100, "Simulation speed multiplier (each Step simulates N seconds)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging from simulator")
	traceFile := flag.String("trace", "", "Path to CSV trace (start_time,op,logical_address)")
	workloadName := flag.String("workload", "sequential", "Synthetic workload when no trace is given: sequential or random")
	opCount := flag.Int("ops", 0, "Operation count for the random workload (default: one per page)")
	interval := flag.Float64("interval", 0.001, "Seconds between synthetic operations")
	recordPath := flag.String("record", "", "Record executed ops into this SQLite database")
	flag.Parse()

	config := simulator.DefaultConfig()
	if *configFile != "" {
		var err error
		config, err = simulator.LoadConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
	if *speedMultiplier > 0 {
		config.SimulationSpeedMultiplier = *speedMultiplier
	}
	if *recordPath != "" {
		config.RecordPath = *recordPath
	}
	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	sim, err := simulator.NewSimulator(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating simulator: %v\n", err)
		os.Exit(1)
	}
	defer sim.Close()

	if *verbose {
		sim.LogEvent = func(msg string) {
			fmt.Fprintf(os.Stderr, "[SIM] %s\n", msg)
		}
	}

	var trace *simulator.TraceWorkload
	if *traceFile != "" {
		f, err := os.Open(*traceFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening trace: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		trace = simulator.NewTraceWorkload(f)
		sim.SetWorkload(trace)
	} else {
		switch *workloadName {
		case "sequential":
			sim.SetWorkload(simulator.NewSequentialFillWorkload(config.TotalPages(), *interval))
		case "random":
			count := *opCount
			if count <= 0 {
				count = config.TotalPages()
			}
			sim.SetWorkload(simulator.NewUniformRandomWorkload(config.TotalPages(), count, *interval, config.RandomSeed))
		default:
			fmt.Fprintf(os.Stderr, "Unknown workload %q (sequential or random)\n", *workloadName)
			os.Exit(1)
		}
	}

	fmt.Fprintf(os.Stderr, "Starting simulation for %d virtual seconds...\n", *durationSec)
	startTime := time.Now()

	sim.Run(float64(*durationSec))
	sim.Quiesce()

	elapsed := time.Since(startTime)
	fmt.Fprintf(os.Stderr, "Simulation completed in %v (%.3f virtual seconds)\n", elapsed, sim.VirtualTime())

	if trace != nil && trace.Err() != nil {
		fmt.Fprintf(os.Stderr, "Trace ended with error: %v\n", trace.Err())
	}

	results := map[string]interface{}{
		"config":      config,
		"virtualTime": sim.VirtualTime(),
		"realTime":    elapsed.Seconds(),
		"metrics":     sim.Metrics(),
		"state":       sim.State(),
	}

	output, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling results: %v\n", err)
		os.Exit(1)
	}

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, output, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Results written to %s\n", *outputFile)
	} else {
		fmt.Println(string(output))
	}
}
