package database

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hervehildenbrand/bgp-explain/pkg/logging"
	"github.com/hervehildenbrand/bgp-explain/pkg/report"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	batchSize     = 10
	batchInterval = 2 * time.Second
	queueSize     = 1000
)

// Schema creates the report table.
const Schema = `
CREATE TABLE IF NOT EXISTS bgp_reports (
	id            UUID PRIMARY KEY,
	target        TEXT NOT NULL,
	prefix        TEXT,
	asn           BIGINT,
	event_start   TIMESTAMPTZ NOT NULL,
	event_end     TIMESTAMPTZ,
	model         TEXT NOT NULL,
	verdict       TEXT NOT NULL,
	severity      TEXT NOT NULL,
	final_event   TEXT NOT NULL,
	final_change  TEXT NOT NULL,
	report        TEXT NOT NULL,
	details       JSONB NOT NULL,
	generated_at  TIMESTAMPTZ NOT NULL
)`

// ReportRow is one persisted report.
type ReportRow struct {
	ID          string     `db:"id"`
	Target      string     `db:"target"`
	Prefix      *string    `db:"prefix"`
	ASN         *int64     `db:"asn"`
	EventStart  time.Time  `db:"event_start"`
	EventEnd    *time.Time `db:"event_end"`
	Model       string     `db:"model"`
	Verdict     string     `db:"verdict"`
	Severity    string     `db:"severity"`
	FinalEvent  string     `db:"final_event"`
	FinalChange string     `db:"final_change"`
	Report      string     `db:"report"`
	Details     []byte     `db:"details"`
	GeneratedAt time.Time  `db:"generated_at"`
}

// NewReportRow flattens a result for storage. Details holds the raw rounds
// and the path evidence.
func NewReportRow(r *report.Result) (ReportRow, error) {
	details, err := json.Marshal(map[string]interface{}{
		"raw_change": r.RawChange,
		"raw_event":  r.RawEvent,
		"path_diff":  r.PathDiff,
	})
	if err != nil {
		return ReportRow{}, fmt.Errorf("marshal details: %w", err)
	}
	row := ReportRow{
		ID:          r.ID,
		Target:      r.Event.Target(),
		EventStart:  r.Event.Start,
		Model:       r.Model,
		Verdict:     r.PathDiff.Verdict,
		Severity:    r.PathDiff.Severity,
		FinalEvent:  r.FinalEvent,
		FinalChange: r.FinalChange,
		Report:      r.Report,
		Details:     details,
		GeneratedAt: r.GeneratedAt,
	}
	if r.Event.Prefix != "" {
		p := r.Event.Prefix
		row.Prefix = &p
	}
	if r.Event.ASN != 0 {
		a := int64(r.Event.ASN)
		row.ASN = &a
	}
	if r.Event.HasEnd() {
		e := r.Event.End
		row.EventEnd = &e
	}
	return row, nil
}

const insertReport = `
INSERT INTO bgp_reports (
	id, target, prefix, asn, event_start, event_end, model, verdict, severity,
	final_event, final_change, report, details, generated_at
) VALUES (
	:id, :target, :prefix, :asn, :event_start, :event_end, :model, :verdict, :severity,
	:final_event, :final_change, :report, :details, :generated_at
)
ON CONFLICT (id) DO UPDATE SET
	report = EXCLUDED.report,
	final_event = EXCLUDED.final_event,
	final_change = EXCLUDED.final_change,
	details = EXCLUDED.details,
	generated_at = EXCLUDED.generated_at`

// ReportWriter handles batch writing of reports to PostgreSQL.
type ReportWriter struct {
	db      *sqlx.DB
	queue   chan ReportRow
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
	logger  *zap.Logger

	// Stats
	reportsWritten uint64
	reportsDropped uint64
	batchesWritten uint64
}

// NewReportWriter connects to PostgreSQL and ensures the schema exists.
func NewReportWriter(ctx context.Context, databaseURL string, logger *zap.Logger) (*ReportWriter, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	return newReportWriter(db, logger), nil
}

func newReportWriter(db *sqlx.DB, logger *zap.Logger) *ReportWriter {
	return &ReportWriter{
		db:     db,
		queue:  make(chan ReportRow, queueSize),
		done:   make(chan struct{}),
		logger: logging.OrNop(logger).Named("database"),
	}
}

// DB returns the underlying connection pool.
func (w *ReportWriter) DB() *sqlx.DB {
	return w.db
}

// Start begins the background writer goroutine.
func (w *ReportWriter) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.writerLoop()
	w.logger.Info("report writer started")
}

// Stop shuts down the writer, flushing queued reports.
func (w *ReportWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	w.db.Close()
	w.logger.Info("report writer stopped",
		zap.Uint64("written", atomic.LoadUint64(&w.reportsWritten)),
		zap.Uint64("dropped", atomic.LoadUint64(&w.reportsDropped)),
		zap.Uint64("batches", atomic.LoadUint64(&w.batchesWritten)))
}

// Write queues a report for batch writing.
func (w *ReportWriter) Write(r *report.Result) {
	row, err := NewReportRow(r)
	if err != nil {
		w.logger.Warn("dropping report", zap.String("id", r.ID), zap.Error(err))
		atomic.AddUint64(&w.reportsDropped, 1)
		return
	}
	select {
	case w.queue <- row:
	default:
		dropped := atomic.AddUint64(&w.reportsDropped, 1)
		w.logger.Warn("report queue full, dropping report", zap.String("id", r.ID), zap.Uint64("dropped", dropped))
	}
}

func (w *ReportWriter) writerLoop() {
	defer w.wg.Done()

	batch := make([]ReportRow, 0, batchSize)
	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()

	for {
		select {
		case row := <-w.queue:
			batch = append(batch, row)
			if len(batch) >= batchSize {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.writeBatch(batch)
				batch = batch[:0]
			}

		case <-w.done:
			// Flush remaining reports
		drain:
			for {
				select {
				case row := <-w.queue:
					batch = append(batch, row)
				default:
					break drain
				}
			}
			if len(batch) > 0 {
				w.writeBatch(batch)
			}
			return
		}
	}
}

func (w *ReportWriter) writeBatch(batch []ReportRow) {
	if len(batch) == 0 {
		return
	}

	tx, err := w.db.Beginx()
	if err != nil {
		w.logger.Warn("failed to begin transaction", zap.Error(err))
		return
	}
	defer tx.Rollback()

	written := 0
	for _, row := range batch {
		if _, err := tx.NamedExec(insertReport, row); err != nil {
			w.logger.Warn("failed to insert report", zap.String("id", row.ID), zap.Error(err))
			continue
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		w.logger.Warn("failed to commit batch", zap.Error(err))
		return
	}

	atomic.AddUint64(&w.reportsWritten, uint64(written))
	atomic.AddUint64(&w.batchesWritten, 1)
}

// Recent returns the latest reports for a target.
func Recent(ctx context.Context, db *sqlx.DB, target string, limit int) ([]ReportRow, error) {
	var rows []ReportRow
	err := db.SelectContext(ctx, &rows, `
		SELECT id, target, prefix, asn, event_start, event_end, model, verdict, severity,
		       final_event, final_change, report, details, generated_at
		FROM bgp_reports
		WHERE target = $1
		ORDER BY generated_at DESC
		LIMIT $2
	`, target, limit)
	if err != nil {
		return nil, fmt.Errorf("select reports: %w", err)
	}
	return rows, nil
}
