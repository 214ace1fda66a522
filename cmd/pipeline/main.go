package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"

	"main/internal/collector"
	"main/internal/dualwrite"
	"main/internal/knowledge"
	"main/internal/migrate"
	"main/internal/mirror"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/pipeline"
	"main/internal/schema"
	"main/internal/store"
	"main/pkg/conn"
)

func main() {
	if err := run(); err != nil {
		log.Printf("pipeline: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	cfg, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "market-pipeline",
			ServerAddress:   cfg.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logs.Warnf("pyroscope start failed, continuing without profiling, err: %+v", err)
		} else {
			defer func() { _ = profiler.Stop() }()
		}
	}

	client, err := conn.New(cfg.Postgres.ConnOption())
	if err != nil {
		return err
	}
	defer client.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx); err != nil {
		return err
	}

	plan, err := migrate.New(client.DB()).Reconcile(ctx, schema.Descriptors())
	if err != nil {
		return err
	}
	for _, op := range plan.Ops {
		logs.Infof("schema: %s %s %s", op.Kind, op.Entity, op.Column)
	}

	primary := store.NewPrimary(client.DB())

	var secondary dualwrite.Mirror
	if cfg.Mirror.Enabled {
		index, err := mirror.Open(cfg.Mirror.Path)
		if err != nil {
			return err
		}
		defer index.Close()
		secondary = index
		logs.Infof("mirror: search index at %s", cfg.Mirror.Path)
	}

	coordinator := dualwrite.New(primary, secondary, dualwrite.Option{})
	if err := coordinator.Start(ctx); err != nil {
		return err
	}
	defer coordinator.Close()

	var collectors []collector.Collector
	if cfg.Collection.StreamEnabled() {
		collectors = append(collectors, collector.NewStream(collector.NewBinanceStream(), collector.StreamConfig{
			Source:  enum.SourceBinanceStream,
			Symbols: cfg.Collection.Symbols,
		}))
	}
	if cfg.Collection.RestEnabled() {
		collectors = append(collectors, collector.NewPoll(collector.NewBinanceRest(cfg.Collection.Symbols), collector.PollConfig{
			Source:        enum.SourceBinance,
			Interval:      cfg.Collection.Interval.Std(),
			RetryInterval: cfg.Collection.RetryInterval.Std(),
			MaxRetries:    cfg.Collection.MaxRetries,
		}))
	}
	if cfg.Collection.News.Enabled {
		collectors = append(collectors, collector.NewPoll(collector.NewCryptoPanic(cfg.Collection.News.AuthToken, cfg.Collection.News.Currencies), collector.PollConfig{
			Source:        enum.SourceCryptoPanic,
			Interval:      cfg.Collection.Interval.Std(),
			RetryInterval: cfg.Collection.RetryInterval.Std(),
			MaxRetries:    cfg.Collection.MaxRetries,
		}))
	}

	var enricher knowledge.Enricher
	if cfg.Enrichment.Enabled {
		client, err := knowledge.NewEnrichClient(knowledge.EnrichConfig{
			Endpoint: cfg.Enrichment.Endpoint,
			APIKey:   cfg.Enrichment.APIKey,
			Model:    cfg.Enrichment.Model,
		})
		if err != nil {
			return err
		}
		enricher = client
	}
	extractor := knowledge.NewExtractor(primary, knowledge.Config{
		Symbols:  cfg.Collection.Symbols,
		Window:   cfg.Extraction.Window.Std(),
		Enricher: enricher,
	})

	orch := pipeline.NewOrchestrator(coordinator, collectors, extractor, obs.NewMetrics(), pipeline.Options{
		ExtractInterval: cfg.Extraction.Interval.Std(),
		Lag:             coordinator.Lag,
	})

	logs.Infof("pipeline: starting with %d collectors, symbols: %v", len(collectors), cfg.Collection.Symbols)
	return orch.Run(ctx)
}
