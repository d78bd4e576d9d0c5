// Package historydb persists which notebooks were opened and what their
// cells produced, so past runs survive bridge restarts.
package historydb

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	dbmodel "plutobridge/internal/db"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type NotebookEntry struct {
	Path        string
	FirstOpened time.Time
	LastOpened  time.Time
	OpenCount   int
}

type Execution struct {
	NotebookPath string
	CellID       string
	Code         string
	Mime         string
	Output       string
	Errored      bool
	FailReason   string
	RuntimeNS    int64
}

type ExecutionEntry struct {
	Execution
	CreatedAt time.Time
}

type Store struct {
	db *gorm.DB
}

// NewStore uses the shared process-wide DB. Caller must not close the db.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: db}, nil
}

func (s *Store) RecordOpen(path string) error {
	if s == nil || s.db == nil {
		return errors.New("history store is not initialized")
	}
	p := cleanPath(path)
	if p == "" {
		return errors.New("path is required")
	}
	now := time.Now().UTC().Unix()
	row := dbmodel.NotebookRecord{
		Path:          p,
		FirstOpenedAt: now,
		LastOpenedAt:  now,
		OpenCount:     1,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "path"}},
		DoUpdates: clause.Assignments(map[string]any{
			"last_opened_at": now,
			"open_count":     gorm.Expr("notebook_records.open_count + 1"),
		}),
	}).Create(&row).Error
}

func (s *Store) RecordExecution(exec Execution) error {
	if s == nil || s.db == nil {
		return errors.New("history store is not initialized")
	}
	p := cleanPath(exec.NotebookPath)
	if p == "" {
		return errors.New("notebook path is required")
	}
	row := dbmodel.ExecutionRecord{
		NotebookPath: p,
		CellID:       exec.CellID,
		Code:         exec.Code,
		Mime:         exec.Mime,
		Output:       exec.Output,
		Errored:      exec.Errored,
		FailReason:   exec.FailReason,
		RuntimeNS:    exec.RuntimeNS,
		CreatedAt:    time.Now().UTC().Unix(),
	}
	return s.db.Create(&row).Error
}

func (s *Store) ListNotebooks(limit int) ([]NotebookEntry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history store is not initialized")
	}
	if limit <= 0 {
		limit = 20
	}
	rows := make([]dbmodel.NotebookRecord, 0, limit)
	if err := s.db.Order("last_opened_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]NotebookEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, NotebookEntry{
			Path:        row.Path,
			FirstOpened: time.Unix(row.FirstOpenedAt, 0).UTC(),
			LastOpened:  time.Unix(row.LastOpenedAt, 0).UTC(),
			OpenCount:   row.OpenCount,
		})
	}
	return entries, nil
}

// ListExecutions returns the most recent executions, newest first. An empty
// path means all notebooks.
func (s *Store) ListExecutions(path string, limit int) ([]ExecutionEntry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history store is not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	q := s.db.Order("created_at DESC, id DESC").Limit(limit)
	if strings.TrimSpace(path) != "" {
		q = q.Where("notebook_path = ?", cleanPath(path))
	}
	rows := make([]dbmodel.ExecutionRecord, 0, limit)
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]ExecutionEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, ExecutionEntry{
			Execution: Execution{
				NotebookPath: row.NotebookPath,
				CellID:       row.CellID,
				Code:         row.Code,
				Mime:         row.Mime,
				Output:       row.Output,
				Errored:      row.Errored,
				FailReason:   row.FailReason,
				RuntimeNS:    row.RuntimeNS,
			},
			CreatedAt: time.Unix(row.CreatedAt, 0).UTC(),
		})
	}
	return entries, nil
}

func (s *Store) Clear() error {
	if s == nil || s.db == nil {
		return errors.New("history store is not initialized")
	}
	if err := s.db.Where("1 = 1").Delete(&dbmodel.ExecutionRecord{}).Error; err != nil {
		return err
	}
	return s.db.Where("1 = 1").Delete(&dbmodel.NotebookRecord{}).Error
}

// Close is a no-op; DB is process-wide and must not be closed by the store.
func (s *Store) Close() error {
	return nil
}

func cleanPath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}
