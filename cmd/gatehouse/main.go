// Command gatehouse is a small operator CLI around the runtime: load options
// from a YAML file, initialize against the control plane (or a local data
// store directory), evaluate a gate/config/experiment for a user supplied as
// JSON, and print the result with its evaluation details.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"gatehouse"
	"gatehouse/datastore"
)

func main() {
	var (
		optionsPath = flag.String("options", "", "path to YAML options file")
		sdkKey      = flag.String("sdk-key", os.Getenv("GATEHOUSE_SDK_KEY"), "server SDK key")
		userJSON    = flag.String("user", `{"userID":"cli-user"}`, "user as JSON")
		gate        = flag.String("gate", "", "feature gate to check")
		config      = flag.String("config", "", "dynamic config to fetch")
		experiment  = flag.String("experiment", "", "experiment to fetch")
		cacheDir    = flag.String("cache-dir", "", "directory for the file data store (optional)")
		timeout     = flag.Duration("timeout", 10*time.Second, "initialize timeout")
	)
	flag.Parse()

	if *sdkKey == "" {
		log.Fatal("an SDK key is required (flag -sdk-key or GATEHOUSE_SDK_KEY)")
	}

	opts := &gatehouse.Options{}
	if *optionsPath != "" {
		loaded, err := gatehouse.OptionsFromFile(*optionsPath)
		if err != nil {
			log.Fatalf("load options: %v", err)
		}
		opts = loaded
	}
	if *cacheDir != "" {
		store, err := datastore.NewFileStore(*cacheDir)
		if err != nil {
			log.Fatalf("open data store: %v", err)
		}
		defer func() { _ = store.Close() }()
		opts.DataStore = store
	}

	var user gatehouse.User
	if err := json.Unmarshal([]byte(*userJSON), &user); err != nil {
		log.Fatalf("parse user: %v", err)
	}

	client, err := gatehouse.NewClientWithOptions(*sdkKey, opts)
	if err != nil {
		log.Fatalf("construct client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := client.Initialize(ctx); err != nil {
		log.Printf("initialize: %v (serving defaults)", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	switch {
	case *gate != "":
		result := client.GetFeatureGate(user, *gate)
		printJSON(result)
	case *config != "":
		result := client.GetConfig(user, *config)
		printJSON(result)
	case *experiment != "":
		result := client.GetExperiment(user, *experiment)
		printJSON(result)
	default:
		fmt.Fprintln(os.Stderr, "nothing to evaluate: pass -gate, -config, or -experiment")
		flag.Usage()
		os.Exit(2)
	}
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("encode result: %v", err)
	}
	fmt.Println(string(out))
}
