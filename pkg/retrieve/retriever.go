// Package retrieve builds the history, before and after routing tables of
// an incident from an archive source.
package retrieve

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hervehildenbrand/bgp-explain/pkg/logging"
	"github.com/hervehildenbrand/bgp-explain/pkg/models"
	"github.com/hervehildenbrand/bgp-explain/pkg/rib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source serves archived collector data. *ripestat.Client implements it.
type Source interface {
	BGPState(ctx context.Context, resources []string, at time.Time, collectors []string) ([]models.BGPUpdate, error)
	BGPUpdates(ctx context.Context, resources []string, from, until time.Time, collectors []string) ([]models.BGPUpdate, error)
}

const defaultConcurrency = 4

// Retriever queries a Source once per collector and window.
type Retriever struct {
	source      Source
	collectors  []string
	concurrency int
	logger      *zap.Logger
}

// NewRetriever creates a retriever over the given collectors. Concurrency
// bounds the number of collectors queried at once.
func NewRetriever(source Source, collectors []string, concurrency int, logger *zap.Logger) *Retriever {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Retriever{
		source:      source,
		collectors:  dedupe(collectors),
		concurrency: concurrency,
		logger:      logging.OrNop(logger).Named("retrieve"),
	}
}

// Collectors returns the collectors this retriever queries.
func (r *Retriever) Collectors() []string {
	return append([]string(nil), r.collectors...)
}

// ByPrefix retrieves paths to prefix and its less and more specifics.
func (r *Retriever) ByPrefix(ctx context.Context, start, end time.Time, prefix string) (rib.Snapshot, error) {
	w := rib.ComputeWindows(start, end)
	resources := []string{prefix}

	history, peers, err := r.history(ctx, resources, w)
	if err != nil {
		return rib.Snapshot{}, err
	}
	return r.windows(ctx, resources, w, history, peers)
}

// ByOrigin retrieves paths to every prefix asn originated in the history
// RIB, then follows those prefixes through the incident windows.
func (r *Retriever) ByOrigin(ctx context.Context, start, end time.Time, asn uint32) (rib.Snapshot, error) {
	w := rib.ComputeWindows(start, end)

	history, peers, err := r.history(ctx, []string{fmt.Sprintf("AS%d", asn)}, w)
	if err != nil {
		return rib.Snapshot{}, err
	}

	prefixes := history.Prefixes()
	r.logger.Info("origin prefixes found", zap.Uint32("asn", asn), zap.Int("prefixes", len(prefixes)))
	if len(prefixes) == 0 {
		return rib.Snapshot{History: history, Before: history.Clone(), After: history.Clone()}, nil
	}
	return r.windows(ctx, prefixes, w, history, peers)
}

func (r *Retriever) history(ctx context.Context, resources []string, w rib.Windows) (rib.Table, map[string]*peerBook, error) {
	history := rib.New()
	books := make(map[string]*peerBook, len(r.collectors))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, collector := range r.collectors {
		collector := collector
		g.Go(func() error {
			routes, err := r.source.BGPState(gctx, resources, w.HistoryUntil, []string{collector})
			if err != nil {
				return fmt.Errorf("history rib %s: %w", collector, err)
			}
			book := newPeerBook()
			table := rib.New()
			table.Ensure(collector)
			for _, route := range routes {
				book.learn(route)
				table.Apply(route)
			}

			mu.Lock()
			for c, prefixes := range table {
				history[c] = prefixes
			}
			books[collector] = book
			mu.Unlock()

			r.logger.Debug("history rib retrieved", zap.String("collector", collector), zap.Int("routes", len(routes)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return history, books, nil
}

func (r *Retriever) windows(ctx context.Context, resources []string, w rib.Windows, history rib.Table, books map[string]*peerBook) (rib.Snapshot, error) {
	before := history.Clone()
	after := rib.New()
	var tagged []rib.Tagged
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, collector := range r.collectors {
		collector := collector
		book := books[collector]
		if book == nil {
			book = newPeerBook()
		}
		g.Go(func() error {
			pre, err := r.source.BGPUpdates(gctx, resources, w.BeforeFrom, w.BeforeUntil, []string{collector})
			if err != nil {
				return fmt.Errorf("before updates %s: %w", collector, err)
			}
			post, err := r.source.BGPUpdates(gctx, resources, w.AfterFrom, w.AfterUntil, []string{collector})
			if err != nil {
				return fmt.Errorf("after updates %s: %w", collector, err)
			}

			mu.Lock()
			defer mu.Unlock()
			for _, u := range pre {
				before.Apply(r.resolve(book, u))
			}
			before.Ensure(collector)
			mine := rib.Table{collector: before[collector]}.Clone()
			for _, u := range post {
				u = r.resolve(book, u)
				mine.Apply(u)
				if tag, ok := rib.Tag(u); ok {
					tagged = append(tagged, tag)
				}
			}
			after[collector] = mine[collector]

			r.logger.Debug("incident updates retrieved",
				zap.String("collector", collector),
				zap.Int("before", len(pre)),
				zap.Int("after", len(post)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rib.Snapshot{}, err
	}
	rib.SortTagged(tagged)

	r.logger.Info("snapshot retrieved",
		zap.Int("history_paths", history.Len()),
		zap.Int("before_paths", before.Len()),
		zap.Int("after_paths", after.Len()),
		zap.Int("tagged", len(tagged)))
	return rib.Snapshot{History: history, Before: before, After: after, Tagged: tagged}, nil
}

// peerBook maps peer addresses to ASNs so withdrawals, which carry no path,
// land on the same peer key as the announcements they withdraw.
type peerBook struct {
	byAddress map[string]uint32
}

func newPeerBook() *peerBook {
	return &peerBook{byAddress: make(map[string]uint32)}
}

func (b *peerBook) learn(u models.BGPUpdate) {
	if u.PeerAddress != "" && u.PeerASN != 0 {
		b.byAddress[u.PeerAddress] = u.PeerASN
	}
}

func (b *peerBook) resolve(u models.BGPUpdate) models.BGPUpdate {
	b.learn(u)
	if u.PeerASN == 0 && u.PeerAddress != "" {
		u.PeerASN = b.byAddress[u.PeerAddress]
	}
	return u
}

// resolve fills in the peer ASN of u. A withdrawal from a peer never seen
// announcing stays keyed by address, so the peer's ASN-keyed path is not
// cleared.
func (r *Retriever) resolve(book *peerBook, u models.BGPUpdate) models.BGPUpdate {
	u = book.resolve(u)
	if !u.Announcement && u.PeerASN == 0 {
		r.logger.Debug("withdrawal from unknown peer",
			zap.String("collector", u.Collector),
			zap.String("peer", u.PeerAddress),
			zap.String("prefix", u.Prefix))
	}
	return u
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
