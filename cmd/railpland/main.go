package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"

	"tgrcode.com/railplan"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	flag_dataset := flag.String("dataset", "testdata/uk-rail", "Path to the dataset directory")
	flag_port := flag.String("port", "8080", "Port to listen on for the HTTP server")
	flag.Parse()

	planner, err := railplan.NewPlanner(railplan.Config{DatasetDir: *flag_dataset, Logger: log.Default()})
	if err != nil {
		log.Fatalf("Error building network from %s: %v", *flag_dataset, err)
	}

	startServer(planner, *flag_port)
}

func startServer(planner *railplan.Planner, port string) {
	server_router := mux.NewRouter()

	server_router.HandleFunc("/report", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, planner.Report())
	}).Methods(http.MethodGet)

	server_router.HandleFunc("/stations", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		writeJSON(w, findStations(planner, query))
	}).Methods(http.MethodGet)

	server_router.HandleFunc("/plan", func(w http.ResponseWriter, r *http.Request) {
		var req railplan.PlanRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
			return
		}

		// The planner applies its own default query timeout; the request
		// context only adds client-disconnect cancellation.
		result, err := planner.Plan(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, result)
	}).Methods(http.MethodPost)

	addr := ":" + port
	log.Printf("Starting server at %s", addr)
	log.Fatal(http.ListenAndServe(addr, server_router))
}

func findStations(planner *railplan.Planner, query string) []string {
	var names []string
	for _, st := range planner.Network.Stations {
		if query == "" || containsFold(st.CanonicalName, query) {
			names = append(names, st.CanonicalName)
		}
	}
	return names
}

func containsFold(haystack, needle string) bool {
	h, n := []rune(haystack), []rune(needle)
	if len(n) == 0 {
		return true
	}
	for i := 0; i+len(n) <= len(h); i++ {
		match := true
		for j := range n {
			hc, nc := h[i+j], n[j]
			if hc >= 'A' && hc <= 'Z' {
				hc += 'a' - 'A'
			}
			if nc >= 'A' && nc <= 'Z' {
				nc += 'a' - 'A'
			}
			if hc != nc {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("error encoding response: %v", err)
	}
}
