package main

import (
	"context"

	"github.com/hervehildenbrand/bgp-explain/pkg/analysis"
	"github.com/hervehildenbrand/bgp-explain/pkg/database"
	"github.com/hervehildenbrand/bgp-explain/pkg/llm"
	"github.com/hervehildenbrand/bgp-explain/pkg/pipeline"
	"github.com/hervehildenbrand/bgp-explain/pkg/report"
	"github.com/hervehildenbrand/bgp-explain/pkg/retrieve"
	"github.com/hervehildenbrand/bgp-explain/pkg/ripestat"
	"github.com/hervehildenbrand/bgp-explain/pkg/store"
	"go.uber.org/zap"
)

// runtime holds the optional backends of one run so they can be closed.
type runtime struct {
	pipeline *pipeline.Pipeline
	writer   *database.ReportWriter
	cache    *store.RedisCache
	resolver database.CountryResolver
}

func newRuntime(ctx context.Context) (*runtime, error) {
	rt := &runtime{resolver: database.NewNullResolver()}

	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		return nil, err
	}
	client, err := llm.NewOpenAIClient(clientConfig, logger)
	if err != nil {
		return nil, err
	}

	// Redis (optional)
	if cfg.RedisURL != "" {
		rt.cache, err = store.NewRedisCache(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Warn("snapshot cache disabled", zap.Error(err))
			rt.cache = nil
		} else {
			logger.Info("connected to redis", zap.String("url", cfg.RedisURL))
		}
	}

	// PostgreSQL (optional)
	if cfg.DatabaseURL != "" {
		rt.writer, err = database.NewReportWriter(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Warn("report storage disabled", zap.Error(err))
			rt.writer = nil
		} else {
			rt.writer.Start()
		}
	}

	// ASN countries: CSV file > database > none
	switch {
	case cfg.ASNData != "":
		fr, err := database.NewFileResolver(cfg.ASNData, logger)
		if err != nil {
			logger.Warn("failed to load ASN data", zap.String("path", cfg.ASNData), zap.Error(err))
		} else {
			rt.resolver = fr
		}
	case rt.writer != nil:
		dr := database.NewDatabaseResolver(rt.writer.DB(), "asn_countries", logger)
		dr.Start()
		rt.resolver = dr
	default:
		logger.Debug("no ASN resolver configured")
	}

	source := ripestat.NewClient(
		ripestat.WithSourceApp(cfg.SourceApp),
		ripestat.WithLogger(logger),
	)
	retriever := retrieve.NewRetriever(source, cfg.Collectors, cfg.Concurrency, logger)

	var resolver analysis.Resolver = rt.resolver
	generator := report.NewGenerator(client, clientConfig.Model,
		report.WithRounds(cfg.LLM.Rounds),
		report.WithResolver(resolver),
		report.WithLogger(logger),
	)

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithSampling(cfg.Sample, cfg.Seed),
	}
	if rt.cache != nil {
		opts = append(opts, pipeline.WithCache(rt.cache))
	}
	if rt.writer != nil {
		opts = append(opts, pipeline.WithSink(rt.writer))
	}
	rt.pipeline = pipeline.New(retriever, generator, store.NewFileStore(cfg.ReadPath, cfg.SavePath), opts...)

	logger.Info("bgp-explain ready",
		zap.Int("collectors", len(cfg.Collectors)),
		zap.Int("sample", cfg.Sample),
		zap.Int("rounds", cfg.LLM.Rounds),
		zap.String("model", clientConfig.Model),
		zap.Bool("cache", rt.cache != nil),
		zap.Bool("database", rt.writer != nil),
		zap.Int("asn_countries", rt.resolver.Count()))
	return rt, nil
}

// Close flushes queued reports and releases connections.
func (rt *runtime) Close() {
	// The database resolver shares the writer's pool, so it stops first.
	rt.resolver.Stop()
	if rt.writer != nil {
		rt.writer.Stop()
	}
	if rt.cache != nil {
		if err := rt.cache.Close(); err != nil {
			logger.Debug("redis close", zap.Error(err))
		}
	}
}
