// Package report runs the multi-round prompting protocol that turns an
// incident snapshot into a written anomaly report.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hervehildenbrand/bgp-explain/pkg/analysis"
	"github.com/hervehildenbrand/bgp-explain/pkg/llm"
	"github.com/hervehildenbrand/bgp-explain/pkg/logging"
	"github.com/hervehildenbrand/bgp-explain/pkg/models"
	"github.com/hervehildenbrand/bgp-explain/pkg/rib"
	"go.uber.org/zap"
)

// DefaultRounds is the number of describe/classify rounds voted over.
const DefaultRounds = 5

// ErrNoTarget is returned when an event has neither a prefix nor an ASN.
var ErrNoTarget = errors.New("event must provide a prefix or an ASN")

// Result is a generated report together with its intermediate outputs.
type Result struct {
	ID          string        `json:"id"`
	Event       models.Event  `json:"-"`
	Target      string        `json:"target"`
	Time        string        `json:"time"`
	Model       string        `json:"model"`
	RawChange   []string      `json:"raw_change"`
	RawEvent    []string      `json:"raw_event"`
	FinalChange string        `json:"final_change"`
	FinalEvent  string        `json:"final_event"`
	Report      string        `json:"report"`
	PathDiff    analysis.Diff `json:"path_diff"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// Generator drives the prompting protocol.
type Generator struct {
	client   llm.Client
	model    string
	rounds   int
	resolver analysis.Resolver
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithRounds sets the number of self-consistency rounds.
func WithRounds(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.rounds = n
		}
	}
}

// WithResolver attaches country codes to the origin evidence.
func WithResolver(r analysis.Resolver) Option {
	return func(g *Generator) { g.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a generator. model is recorded on each result.
func NewGenerator(client llm.Client, model string, opts ...Option) *Generator {
	g := &Generator{
		client: client,
		model:  model,
		rounds: DefaultRounds,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrNop(g.logger).Named("report")
	return g
}

// Generate writes the report for an event. A prefix target runs the full
// protocol; an ASN-only target gets a single-prompt report.
func (g *Generator) Generate(ctx context.Context, event models.Event, snap rib.Snapshot) (*Result, error) {
	tables, err := encodeSnapshot(snap)
	if err != nil {
		return nil, err
	}

	res := &Result{
		ID:          uuid.NewString(),
		Event:       event,
		Target:      event.Target(),
		Time:        event.Start.UTC().Format(models.TimeLayout),
		Model:       g.model,
		RawChange:   []string{},
		RawEvent:    []string{},
		PathDiff:    analysis.Analyze(snap, g.resolver),
		GeneratedAt: g.now().UTC(),
	}

	logger := g.logger.With(zap.String("target", res.Target), zap.String("time", res.Time))

	switch {
	case event.Prefix != "":
		err = g.prefixProtocol(ctx, logger, res, tables)
	case event.ASN != 0:
		err = g.originProtocol(ctx, logger, res, tables)
	default:
		return nil, ErrNoTarget
	}
	if err != nil {
		return nil, err
	}

	logger.Info("report generated",
		zap.String("id", res.ID),
		zap.String("verdict", res.PathDiff.Verdict),
		zap.Strings("flags", res.PathDiff.Flags))
	return res, nil
}

type encodedTables struct {
	history, before, after string
}

func encodeSnapshot(snap rib.Snapshot) (encodedTables, error) {
	enc := func(name string, t rib.Table) (string, error) {
		if t == nil {
			t = rib.New()
		}
		b, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("encode %s table: %w", name, err)
		}
		return string(b), nil
	}
	var out encodedTables
	var err error
	if out.history, err = enc("history", snap.History); err != nil {
		return out, err
	}
	if out.before, err = enc("before", snap.Before); err != nil {
		return out, err
	}
	if out.after, err = enc("after", snap.After); err != nil {
		return out, err
	}
	return out, nil
}

func (g *Generator) prefixProtocol(ctx context.Context, logger *zap.Logger, res *Result, t encodedTables) error {
	prefix := res.Event.Prefix

	for i := 0; i < g.rounds; i++ {
		description, err := g.ask(ctx, describeSystemPrompt, describeUserPrompt(prefix, res.Time, t.history, t.before, t.after))
		if err != nil {
			return fmt.Errorf("round %d describe: %w", i+1, err)
		}
		eventType, err := g.ask(ctx, classifySystemPrompt, classifyUserPrompt(description))
		if err != nil {
			return fmt.Errorf("round %d classify: %w", i+1, err)
		}
		res.RawChange = append(res.RawChange, description)
		res.RawEvent = append(res.RawEvent, eventType)
		logger.Debug("round complete", zap.Int("round", i+1), zap.String("event_type", eventType))
	}

	var err error
	if res.FinalEvent, err = g.ask(ctx, voteEventSystemPrompt, voteEventUserPrompt(res.RawEvent)); err != nil {
		return fmt.Errorf("vote event type: %w", err)
	}
	if res.FinalChange, err = g.ask(ctx, voteChangeSystemPrompt, voteChangeUserPrompt(res.RawChange)); err != nil {
		return fmt.Errorf("vote path change: %w", err)
	}
	if res.Report, err = g.ask(ctx, reportSystemPrompt, reportUserPrompt(prefix, res.Time, res.FinalEvent, res.FinalChange, t.history, t.before, t.after)); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func (g *Generator) originProtocol(ctx context.Context, logger *zap.Logger, res *Result, t encodedTables) error {
	out, err := g.ask(ctx, originSystemPrompt, originUserPrompt(res.Event.ASN, res.Time, t.history, t.before, t.after))
	if err != nil {
		return fmt.Errorf("write origin report: %w", err)
	}
	res.Report = out
	logger.Debug("origin report written")
	return nil
}

func (g *Generator) ask(ctx context.Context, system, user string) (string, error) {
	out, err := g.client.Chat(ctx, llm.MakeMessages(user, system), 1)
	if err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", llm.ErrNoChoices
	}
	return out[0], nil
}
