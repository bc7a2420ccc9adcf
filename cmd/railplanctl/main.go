package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"honnef.co/go/spew"

	"tgrcode.com/railplan"
)

// Exit codes: 0 OK, 2 dataset load error, 3 query error.
const (
	exitDatasetError = 2
	exitQueryError   = 3
)

func main() {
	flag_dataset := flag.String("dataset", "testdata/uk-rail", "Path to the dataset directory")
	flag_from := flag.String("from", "", "Origin station name or code")
	flag_to := flag.String("to", "", "Destination station name or code")
	flag_depart_after := flag.String("depart-after", "", "Depart-after time: \"now\", \"in 30 minutes\", or RFC3339")
	flag_arrive_before := flag.String("arrive-before", "", "Arrive-before time: \"now\", \"in 30 minutes\", or RFC3339")
	flag_max_results := flag.Int("max-results", 0, "Override the router's default result cap")
	flag_debug := flag.Bool("debug", false, "Dump the full assembly report and raw journeys")
	flag.Parse()

	planner, err := railplan.NewPlanner(railplan.Config{DatasetDir: *flag_dataset, Logger: log.Default()})
	if err != nil {
		log.Printf("Error building network from %s: %v", *flag_dataset, err)
		os.Exit(exitDatasetError)
	}

	report := planner.Report()
	fmt.Printf("network: %d stations, %d lines\n", len(planner.Network.Stations), len(planner.Network.Lines))
	fmt.Printf("report: %d code collisions, %d coordinate anomalies, %d pattern-empty warnings, %d disconnected components\n",
		len(report.CodeCollisions), len(report.CoordinateAnomalies), len(report.PatternEmptyWarnings), len(report.DisconnectedComponents))

	if *flag_debug {
		spew.Dump(report)
	}

	if *flag_from == "" || *flag_to == "" {
		return
	}

	req := railplan.PlanRequest{
		Origin:       *flag_from,
		Destination:  *flag_to,
		DepartAfter:  *flag_depart_after,
		ArriveBefore: *flag_arrive_before,
		MaxResults:   *flag_max_results,
	}

	result, err := planner.Plan(context.Background(), req)
	if err != nil {
		log.Printf("Error planning journey: %v", err)
		os.Exit(exitQueryError)
	}

	if result.Reason != "" {
		fmt.Printf("no journey found: %s\n", result.Reason)
		os.Exit(exitQueryError)
	}

	for i, j := range result.Journeys {
		fmt.Printf("journey %d: departs %02d:%02d, arrives %02d:%02d, %d leg(s), %d transfer(s)\n",
			i+1, j.DepartureTime/60, j.DepartureTime%60, j.ArrivalTime/60, j.ArrivalTime%60, len(j.Legs), len(j.Transfers))
		if *flag_debug {
			spew.Dump(j)
		}
	}
}
