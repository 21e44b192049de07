// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianLineage/pkg/logging"
	"github.com/AleutianAI/AleutianLineage/services/inference"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/configstore"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianLineage/services/orchestrator/services"
	"github.com/AleutianAI/AleutianLineage/services/policy_engine"
)

const serviceName = "lineage-orchestrator"

// initTracer wires the OTLP gRPC trace exporter. A missing collector is
// tolerated: spans are dropped, the service still runs.
func initTracer(ctx context.Context) (func(context.Context), error) {
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(traceExporter)))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// initMetrics registers the prometheus exporter with the global meter
// provider and returns the /metrics handler.
func initMetrics(ctx context.Context) (http.Handler, error) {
	exporter, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	))
	return promhttp.Handler(), nil
}

func newWeaviateClient() (*retrieval.WeaviateRetriever, *retrieval.ScriptIndexer, error) {
	rawURL := strings.Trim(os.Getenv("LINEAGE_WEAVIATE_URL"), "\"' ")
	host := "localhost:8080"
	if rawURL != "" {
		if parsed, err := url.Parse(rawURL); err == nil && parsed.Host != "" {
			host = parsed.Host
		} else {
			host = rawURL
		}
	}
	client, err := retrieval.NewWeaviateClient(host)
	if err != nil {
		return nil, nil, err
	}

	embedder, err := retrieval.NewServiceEmbedder("")
	if err != nil {
		return nil, nil, err
	}

	retriever := retrieval.NewWeaviateRetriever(client, embedder, retrieval.DefaultConfig())
	indexer := retrieval.NewScriptIndexer(client, embedder)
	return retriever, indexer, nil
}

func main() {
	logger, closeLogs := logging.New(logging.Config{
		Level:   os.Getenv("LINEAGE_LOG_LEVEL"),
		Service: serviceName,
		LogDir:  os.Getenv("LINEAGE_LOG_DIR"),
	})
	slog.SetDefault(logger)
	defer func() {
		if err := closeLogs(); err != nil {
			log.Printf("failed to close log files: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanupTracer, err := initTracer(ctx)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanupTracer(context.Background())

	metricsHandler, err := initMetrics(ctx)
	if err != nil {
		log.Fatalf("failed to setup the metrics exporter: %v", err)
	}

	policyEngine, err := policy_engine.NewPolicyEngine()
	if err != nil {
		log.Fatalf("FATAL: could not initialize the policy engine: %v", err)
	}

	retriever, indexer, err := newWeaviateClient()
	if err != nil {
		log.Fatalf("failed to configure the retrieval boundary: %v", err)
	}

	storePath := os.Getenv("LINEAGE_CHAIN_STORE_PATH")
	if storePath == "" {
		storePath = "./data/chains"
	}
	store, err := configstore.NewChainStore(configstore.DefaultBadgerConfig(storePath), logger)
	if err != nil {
		log.Fatalf("failed to open the chain store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close chain store", "error", err)
		}
	}()

	if seedPath := os.Getenv("LINEAGE_CHAIN_SEED_FILE"); seedPath != "" {
		watcher := configstore.NewSeedWatcher(seedPath, store, logger)
		if err := watcher.Start(ctx); err != nil {
			slog.Error("failed to start the chain seed watcher", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	routerMetrics, err := inference.NewMetrics(otel.Meter("lineage.inference"))
	if err != nil {
		log.Fatalf("failed to create router metrics: %v", err)
	}
	inferenceRouter := inference.NewRouter(
		inference.RouterConfigFromEnv(), store, logger,
		inference.WithMetrics(routerMetrics))

	qaService := services.NewLineageQAService(retriever, inferenceRouter, policyEngine)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(engine, routes.Deps{
		QAService:      qaService,
		ChainStore:     store,
		ScriptIndexer:  indexer,
		PolicyEngine:   policyEngine,
		Router:         inferenceRouter,
		MetricsHandler: metricsHandler,
	})

	port := os.Getenv("LINEAGE_PORT")
	if port == "" {
		port = "12210"
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting the lineage orchestrator", "port", port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}
