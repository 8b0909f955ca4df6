// Package database provides ASN-to-country resolution and report persistence.
package database

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hervehildenbrand/bgp-explain/pkg/logging"
	"github.com/hervehildenbrand/bgp-explain/pkg/models"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// refreshInterval only matters for long watch runs.
const refreshInterval = 15 * time.Minute

// CountryResolver maps origin ASNs to ISO country codes.
type CountryResolver interface {
	// Resolve returns the country code for an ASN, or "" if unknown.
	Resolve(asn uint32) string
	Count() int
	Start()
	Stop()
}

// countries is a read-mostly ASN -> country map shared by the resolvers.
type countries struct {
	mu      sync.RWMutex
	mapping map[uint32]string
}

func (c *countries) Resolve(asn uint32) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mapping[asn]
}

func (c *countries) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.mapping)
}

func (c *countries) replace(m map[uint32]string) {
	c.mu.Lock()
	c.mapping = m
	c.mu.Unlock()
}

// NullResolver knows no countries.
type NullResolver struct{}

// NewNullResolver creates a new null resolver.
func NewNullResolver() *NullResolver {
	return &NullResolver{}
}

func (r *NullResolver) Resolve(asn uint32) string { return "" }
func (r *NullResolver) Count() int                { return 0 }
func (r *NullResolver) Start()                    {}
func (r *NullResolver) Stop()                     {}

// FileResolver serves a CSV of "asn,country_code" rows loaded once.
// A header row is optional and ASNs may carry an "AS" prefix.
type FileResolver struct {
	countries
}

// NewFileResolver loads the mapping from filePath.
func NewFileResolver(filePath string, logger *zap.Logger) (*FileResolver, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open asn data: %w", err)
	}
	defer f.Close()

	mapping, err := ParseCountries(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}
	logging.OrNop(logger).Named("resolver").Info("loaded ASN mappings",
		zap.Int("count", len(mapping)),
		zap.String("path", filePath))

	r := &FileResolver{}
	r.replace(mapping)
	return r, nil
}

func (r *FileResolver) Start() {}
func (r *FileResolver) Stop()  {}

// ParseCountries reads "asn,country_code" rows. Rows whose ASN does not
// parse (including a header) or whose code is not two letters are skipped.
func ParseCountries(r io.Reader) (map[uint32]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	mapping := make(map[uint32]string)
	rows := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				continue
			}
			return nil, err
		}
		rows++
		if len(record) < 2 {
			continue
		}
		asn, err := models.ParseASNString(strings.TrimSpace(record[0]))
		if err != nil {
			continue
		}
		if country := strings.ToUpper(strings.TrimSpace(record[1])); len(country) == 2 {
			mapping[asn] = country
		}
	}
	if rows == 0 {
		return nil, errors.New("no rows")
	}
	return mapping, nil
}

// DatabaseResolver reads the mapping from a table with asn and
// country_code columns and refreshes it periodically.
type DatabaseResolver struct {
	countries
	db        *sqlx.DB
	tableName string
	done      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
	logger    *zap.Logger
}

// NewDatabaseResolver creates a resolver over tableName, "asn_countries"
// when empty.
func NewDatabaseResolver(db *sqlx.DB, tableName string, logger *zap.Logger) *DatabaseResolver {
	if tableName == "" {
		tableName = "asn_countries"
	}
	r := &DatabaseResolver{
		db:        db,
		tableName: tableName,
		done:      make(chan struct{}),
		logger:    logging.OrNop(logger).Named("resolver"),
	}
	r.replace(make(map[uint32]string))
	return r
}

// Start loads the mapping and keeps it fresh until Stop.
func (r *DatabaseResolver) Start() {
	if err := r.Refresh(context.Background()); err != nil {
		r.logger.Warn("ASN table unavailable", zap.String("table", r.tableName), zap.Error(err))
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.Refresh(context.Background()); err != nil {
					r.logger.Warn("ASN refresh failed", zap.Error(err))
				}
			case <-r.done:
				return
			}
		}
	}()
}

// Stop ends the refresh loop. It is safe to call more than once.
func (r *DatabaseResolver) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

type countryRow struct {
	ASN     int64  `db:"asn"`
	Country string `db:"country_code"`
}

// Refresh replaces the mapping with the current table contents. The old
// mapping is kept on error.
func (r *DatabaseResolver) Refresh(ctx context.Context) error {
	start := time.Now()

	var rows []countryRow
	query := "SELECT asn, country_code FROM " + r.tableName + " WHERE country_code IS NOT NULL AND country_code != ''"
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return fmt.Errorf("query %s: %w", r.tableName, err)
	}

	mapping := make(map[uint32]string, len(rows))
	for _, row := range rows {
		if row.ASN <= 0 || row.ASN > int64(^uint32(0)) {
			continue
		}
		mapping[uint32(row.ASN)] = strings.ToUpper(strings.TrimSpace(row.Country))
	}
	r.replace(mapping)

	r.logger.Info("loaded ASN mappings", zap.Int("count", len(mapping)), zap.Duration("elapsed", time.Since(start)))
	return nil
}
