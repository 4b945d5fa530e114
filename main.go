// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/cobaltcore-dev/reservoir/internal/catalog"
	"github.com/cobaltcore-dev/reservoir/internal/conf"
	"github.com/cobaltcore-dev/reservoir/internal/db"
	"github.com/cobaltcore-dev/reservoir/internal/monitoring"
	"github.com/cobaltcore-dev/reservoir/internal/placement"
	"github.com/cobaltcore-dev/reservoir/internal/topology"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "Path to the service config yaml.")
	reset := flag.Bool("reset", false, "Reset and reload the topology before anything else.")
	deploymentConfig := flag.String("deployment-config", "", "Deployment config to load with --reset.")
	providerProfiles := flag.String("provider-profiles", "provider-profiles", "Directory of provider profile yamls.")
	claimConfig := flag.String("claim-config", "", "Build claims for this claim config and exit.")
	executeClaim := flag.Bool("execute-claim", false, "Execute the first built claim.")
	flag.Parse()

	config := conf.NewDefaultConfig()
	if *configPath != "" {
		var err error
		config, err = conf.NewConfigFromFile(*configPath)
		if err != nil {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}

	database := db.NewPostgresDB(config.DB)
	defer database.Close()
	if err := topology.InitSchema(database); err != nil {
		slog.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	loader := topology.Loader{DB: database}
	if *reset {
		if *deploymentConfig == "" {
			slog.Error("--reset requires --deployment-config")
			os.Exit(1)
		}
		if err := loader.Reset(); err != nil {
			slog.Error("failed to reset topology", "error", err)
			os.Exit(1)
		}
		dc, err := topology.LoadDeploymentConfig(*deploymentConfig)
		if err != nil {
			slog.Error("failed to load deployment config", "error", err)
			os.Exit(1)
		}
		profiles, err := topology.LoadProviderProfiles(*providerProfiles)
		if err != nil {
			slog.Error("failed to load provider profiles", "error", err)
			os.Exit(1)
		}
		if err := loader.Load(dc, profiles); err != nil {
			slog.Error("failed to load topology", "error", err)
			os.Exit(1)
		}
	}

	cat, err := catalog.Load(database)
	if err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}

	registry := monitoring.NewRegistry(config.Monitoring)
	monitor := placement.NewMonitor(registry)
	matcher := &placement.Matcher{
		DB:       database,
		Catalog:  cat,
		PoolSize: config.Placement.CandidatePoolSize,
		Monitor:  monitor,
	}
	builder := &placement.Builder{
		DB:              database,
		Catalog:         cat,
		MaxCombinations: config.Placement.MaxCombinations,
		Monitor:         monitor,
	}
	executor := &placement.Executor{
		DB:              database,
		Catalog:         cat,
		LockWaitTimeout: time.Duration(config.Placement.LockWaitTimeoutMS) * time.Millisecond,
		Monitor:         monitor,
	}

	if *claimConfig != "" {
		runClaimConfig(matcher, builder, executor, *claimConfig, *executeClaim)
		return
	}

	api := &placement.API{Matcher: matcher, Builder: builder, Executor: executor}
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc(placement.APIClaimsURL, api.ClaimsHandler)
	mux.HandleFunc(placement.APIExecuteClaimURL, api.ExecuteClaimHandler)
	addr := fmt.Sprintf(":%d", config.API.Port)
	slog.Info("listening", "addr", addr)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		slog.Error("failed to start server", "error", err)
	}
}

// One-shot mode: build claims for a claim config, print them, and
// optionally execute the first one.
func runClaimConfig(matcher *placement.Matcher, builder *placement.Builder, executor *placement.Executor, path string, execute bool) {
	request, err := topology.LoadClaimConfig(path, "", "")
	if err != nil {
		slog.Error("failed to load claim config", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()
	result, err := matcher.Match(ctx, request)
	if err != nil {
		slog.Error("matching failed", "error", err)
		os.Exit(1)
	}
	claims, err := builder.Build(ctx, request, result)
	if err != nil {
		slog.Error("claim building failed", "error", err)
		os.Exit(1)
	}
	slog.Info("built claims", "claims", len(claims))
	for i, claim := range claims {
		fmt.Printf("claim %d:\n%s", i, claim.String())
	}
	if !execute || len(claims) == 0 {
		return
	}
	consumer := catalog.Consumer{UUID: request.ConsumerUUID, Name: request.ConsumerName}
	claim := claims[0]
	if err := executor.Execute(&consumer, &claim); err != nil {
		slog.Error("claim execution failed", "error", err, "state", claim.State)
		os.Exit(1)
	}
	slog.Info("claim executed", "claim", claim.UUID, "state", claim.State)
}
