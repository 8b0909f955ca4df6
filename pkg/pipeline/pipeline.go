// Package pipeline runs incidents end to end: snapshot, sampling, report
// generation and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/hervehildenbrand/bgp-explain/pkg/events"
	"github.com/hervehildenbrand/bgp-explain/pkg/logging"
	"github.com/hervehildenbrand/bgp-explain/pkg/models"
	"github.com/hervehildenbrand/bgp-explain/pkg/report"
	"github.com/hervehildenbrand/bgp-explain/pkg/rib"
	"github.com/hervehildenbrand/bgp-explain/pkg/store"
	"go.uber.org/zap"
)

// Retriever builds incident snapshots. *retrieve.Retriever implements it.
type Retriever interface {
	Collectors() []string
	ByPrefix(ctx context.Context, start, end time.Time, prefix string) (rib.Snapshot, error)
	ByOrigin(ctx context.Context, start, end time.Time, asn uint32) (rib.Snapshot, error)
}

// Generator writes reports. *report.Generator implements it.
type Generator interface {
	Generate(ctx context.Context, event models.Event, snap rib.Snapshot) (*report.Result, error)
}

// SnapshotCache keeps snapshots between runs. *store.RedisCache implements it.
type SnapshotCache interface {
	Get(ctx context.Context, event models.Event) (rib.Snapshot, error)
	Put(ctx context.Context, event models.Event, snap rib.Snapshot) error
}

// Sink receives finished reports. *database.ReportWriter implements it.
type Sink interface {
	Write(r *report.Result)
}

// LiveFeed extends a table with streamed updates. *rislive.MultiClient
// implements it.
type LiveFeed interface {
	Capture(ctx context.Context, snap *rib.Snapshot, until time.Time, want []string) (int, error)
}

// Pipeline runs incidents.
type Pipeline struct {
	retriever Retriever
	generator Generator
	files     *store.FileStore
	cache     SnapshotCache
	sink      Sink
	sample    int
	logger    *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithCache adds a snapshot cache consulted before retrieval.
func WithCache(c SnapshotCache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithSink sends every report to s.
func WithSink(s Sink) Option {
	return func(p *Pipeline) { p.sink = s }
}

// WithSampling restricts the before and after tables to n collectors drawn
// with replacement. A zero seed uses the clock.
func WithSampling(n int, seed int64) Option {
	return func(p *Pipeline) {
		p.sample = n
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		p.rng = rand.New(rand.NewSource(seed))
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a pipeline.
func New(retriever Retriever, generator Generator, files *store.FileStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		retriever: retriever,
		generator: generator,
		files:     files,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	p.logger = logging.OrNop(p.logger).Named("pipeline")
	return p
}

// Single explains one incident. filePrefix is prepended to every file the
// incident reads or writes.
func (p *Pipeline) Single(ctx context.Context, event models.Event, filePrefix string) (*report.Result, error) {
	if event.Prefix == "" && event.ASN == 0 {
		return nil, report.ErrNoTarget
	}
	logger := p.logger.With(zap.String("target", event.Target()), zap.String("file_prefix", filePrefix))

	snap, err := p.Snapshot(ctx, event, filePrefix)
	if err != nil {
		return nil, err
	}
	return p.explain(ctx, logger, event, snap, filePrefix)
}

func (p *Pipeline) explain(ctx context.Context, logger *zap.Logger, event models.Event, snap rib.Snapshot, filePrefix string) (*report.Result, error) {
	if p.sample > 0 {
		chosen := p.sampleCollectors()
		snap = snap.Select(chosen)
		logger.Info("collectors sampled", zap.Strings("collectors", chosen))
	}

	res, err := p.generator.Generate(ctx, event, snap)
	if err != nil {
		return nil, fmt.Errorf("generate report: %w", err)
	}
	if err := p.files.SaveReport(filePrefix, res); err != nil {
		return nil, err
	}
	if p.sink != nil {
		p.sink.Write(res)
	}
	logger.Info("incident explained", zap.String("id", res.ID), zap.String("verdict", res.PathDiff.Verdict))
	return res, nil
}

// Snapshot loads the incident tables from disk, then the cache, and
// retrieves them from the archive as a last resort. Anything not read
// from disk is written back to disk.
func (p *Pipeline) Snapshot(ctx context.Context, event models.Event, filePrefix string) (rib.Snapshot, error) {
	snap, err := p.files.LoadSnapshot(filePrefix)
	if err == nil {
		p.logger.Debug("snapshot loaded from disk", zap.String("file_prefix", filePrefix))
		return snap, nil
	}
	if !errors.Is(err, store.ErrSnapshotMissing) {
		return rib.Snapshot{}, err
	}

	snap, fromCache, err := p.cachedOrRetrieved(ctx, event)
	if err != nil {
		return rib.Snapshot{}, err
	}
	if !fromCache && p.cache != nil {
		if err := p.cache.Put(ctx, event, snap); err != nil {
			p.logger.Warn("snapshot cache write failed", zap.Error(err))
		}
	}
	if err := p.files.SaveSnapshot(filePrefix, snap); err != nil {
		return rib.Snapshot{}, err
	}
	return snap, nil
}

func (p *Pipeline) cachedOrRetrieved(ctx context.Context, event models.Event) (rib.Snapshot, bool, error) {
	if p.cache != nil {
		snap, err := p.cache.Get(ctx, event)
		if err == nil {
			return snap, true, nil
		}
		if !errors.Is(err, store.ErrSnapshotMissing) {
			p.logger.Warn("snapshot cache read failed", zap.Error(err))
		}
	}

	snap, err := p.retrieve(ctx, event)
	return snap, false, err
}

func (p *Pipeline) retrieve(ctx context.Context, event models.Event) (rib.Snapshot, error) {
	var snap rib.Snapshot
	var err error
	if event.Prefix != "" {
		snap, err = p.retriever.ByPrefix(ctx, event.Start, event.End, event.Prefix)
	} else {
		snap, err = p.retriever.ByOrigin(ctx, event.Start, event.End, event.ASN)
	}
	if err != nil {
		return rib.Snapshot{}, fmt.Errorf("retrieve %s: %w", event.Target(), err)
	}
	return snap, nil
}

func (p *Pipeline) sampleCollectors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return rib.SampleCollectors(p.retriever.Collectors(), p.sample, p.rng)
}

// BatchResult summarises a multi-incident run.
type BatchResult struct {
	Reports map[int]*report.Result
	Failed  map[int]error
	Skipped []int
}

// Multi explains every incident in order. Incident i uses the file prefix
// "<i>_". Indices in skip are not run. Rows that did not parse and
// incidents that fail are logged and do not stop the batch. Only ctx
// cancellation ends the run early.
func (p *Pipeline) Multi(ctx context.Context, rows []events.Row, skip map[int]bool) (*BatchResult, error) {
	out := &BatchResult{
		Reports: make(map[int]*report.Result),
		Failed:  make(map[int]error),
	}
	for i, row := range rows {
		if skip[i] {
			out.Skipped = append(out.Skipped, i)
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if row.Err != nil {
			p.logger.Warn("incident row invalid", zap.Int("index", i), zap.Error(row.Err))
			out.Failed[i] = row.Err
			continue
		}
		event := row.Event

		res, err := p.Single(ctx, event, fmt.Sprintf("%d_", i))
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			p.logger.Warn("incident skipped", zap.Int("index", i), zap.String("target", event.Target()), zap.Error(err))
			out.Failed[i] = err
			continue
		}
		out.Reports[i] = res
	}

	p.logger.Info("batch complete",
		zap.Int("events", len(rows)),
		zap.Int("reported", len(out.Reports)),
		zap.Int("failed", len(out.Failed)),
		zap.Int("skipped", len(out.Skipped)))
	return out, nil
}

// Watch explains an incident that is starting now. The archive supplies
// history and the recent past, and live updates extend the after table
// until the end of the incident window.
func (p *Pipeline) Watch(ctx context.Context, event models.Event, live LiveFeed, filePrefix string) (*report.Result, error) {
	if event.Prefix == "" && event.ASN == 0 {
		return nil, report.ErrNoTarget
	}
	logger := p.logger.With(zap.String("target", event.Target()), zap.String("file_prefix", filePrefix))

	// Close the archived after window now so the live feed picks up from here.
	archived := event
	archived.End = time.Now().UTC().Add(rib.EndMargin)
	snap, err := p.retrieve(ctx, archived)
	if err != nil {
		return nil, err
	}

	until := rib.ComputeWindows(event.Start, event.End).AfterUntil
	logger.Info("capturing live updates", zap.Time("until", until))
	applied, err := live.Capture(ctx, &snap, until, p.retriever.Collectors())
	if err != nil {
		return nil, fmt.Errorf("live capture: %w", err)
	}
	logger.Info("live capture finished", zap.Int("updates", applied))

	if err := p.files.SaveSnapshot(filePrefix, snap); err != nil {
		return nil, err
	}
	return p.explain(ctx, logger, event, snap, filePrefix)
}
