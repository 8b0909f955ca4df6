// Package store persists incident snapshots and generated reports.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hervehildenbrand/bgp-explain/pkg/report"
	"github.com/hervehildenbrand/bgp-explain/pkg/rib"
)

// ErrSnapshotMissing is returned when a snapshot has not been saved yet.
var ErrSnapshotMissing = errors.New("snapshot not found")

// File names, each preceded by the event prefix.
const (
	HistoryFile    = "history_rib.json"
	BeforeFile     = "before_event_rib.json"
	AfterFile      = "after_event_rib.json"
	TaggedFile     = "after_event_communities.json"
	ReportFile     = "report.txt"
	ReportDictFile = "report_dict.json"
	ReportHTMLFile = "report.html"
)

// FileStore reads snapshots from one directory and writes to another.
// The two are usually the same.
type FileStore struct {
	ReadPath string
	SavePath string
}

// NewFileStore creates a file store. An empty savePath falls back to readPath.
func NewFileStore(readPath, savePath string) *FileStore {
	if savePath == "" {
		savePath = readPath
	}
	return &FileStore{ReadPath: readPath, SavePath: savePath}
}

// LoadSnapshot reads the three tables for prefix. All three must exist.
// The tagged announcements are optional.
func (s *FileStore) LoadSnapshot(prefix string) (rib.Snapshot, error) {
	var snap rib.Snapshot
	files := []struct {
		name  string
		table *rib.Table
	}{
		{HistoryFile, &snap.History},
		{BeforeFile, &snap.Before},
		{AfterFile, &snap.After},
	}
	for _, f := range files {
		path := filepath.Join(s.ReadPath, prefix+f.name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			return rib.Snapshot{}, fmt.Errorf("%w: %s", ErrSnapshotMissing, path)
		}
		if err != nil {
			return rib.Snapshot{}, fmt.Errorf("read %s: %w", path, err)
		}
		t := rib.New()
		if err := json.Unmarshal(data, &t); err != nil {
			return rib.Snapshot{}, fmt.Errorf("decode %s: %w", path, err)
		}
		*f.table = t
	}

	path := filepath.Join(s.ReadPath, prefix+TaggedFile)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return rib.Snapshot{}, fmt.Errorf("read %s: %w", path, err)
	default:
		var tagged []rib.Tagged
		if err := json.Unmarshal(data, &tagged); err != nil {
			return rib.Snapshot{}, fmt.Errorf("decode %s: %w", path, err)
		}
		if len(tagged) > 0 {
			snap.Tagged = tagged
		}
	}
	return snap, nil
}

// SaveSnapshot writes the three tables and the tagged announcements for prefix.
func (s *FileStore) SaveSnapshot(prefix string, snap rib.Snapshot) error {
	if err := s.writeJSON(prefix+HistoryFile, snap.History); err != nil {
		return err
	}
	if err := s.writeJSON(prefix+BeforeFile, snap.Before); err != nil {
		return err
	}
	if err := s.writeJSON(prefix+AfterFile, snap.After); err != nil {
		return err
	}
	tagged := snap.Tagged
	if tagged == nil {
		tagged = []rib.Tagged{}
	}
	return s.writeJSON(prefix+TaggedFile, tagged)
}

// SaveReport writes the final report, the intermediate results and an
// HTML rendering of the report.
func (s *FileStore) SaveReport(prefix string, res *report.Result) error {
	if err := s.writeJSON(prefix+ReportFile, res.Report); err != nil {
		return err
	}
	if err := s.writeJSON(prefix+ReportDictFile, res); err != nil {
		return err
	}
	page := RenderHTML(fmt.Sprintf("BGP report: %s at %s", res.Target, res.Time), res.Report)
	return s.write(prefix+ReportHTMLFile, page)
}

// LoadReport reads back the intermediate results for prefix.
func (s *FileStore) LoadReport(prefix string) (*report.Result, error) {
	path := filepath.Join(s.SavePath, prefix+ReportDictFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var res report.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &res, nil
}

func (s *FileStore) writeJSON(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return s.write(name, data)
}

func (s *FileStore) write(name string, data []byte) error {
	if err := os.MkdirAll(s.SavePath, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.SavePath, err)
	}
	path := filepath.Join(s.SavePath, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
