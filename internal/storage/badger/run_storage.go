package badger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/chatverify/internal/common"
	"github.com/ternarybob/chatverify/internal/interfaces"
	"github.com/ternarybob/chatverify/internal/models"
)

// RunStorage implements interfaces.RunStorage for Badger
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a RunStorage on an open database
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) *RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

// Open opens the database described by config and returns its run storage
func Open(logger arbor.ILogger, config *common.BadgerConfig) (*RunStorage, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}
	return NewRunStorage(db, logger), nil
}

var _ interfaces.RunStorage = (*RunStorage)(nil)

// SaveRun inserts or replaces a run record keyed by its ID
func (s *RunStorage) SaveRun(ctx context.Context, rec *models.RunRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("run record requires an ID")
	}
	if err := s.db.Store().Upsert(rec.ID, rec); err != nil {
		return fmt.Errorf("failed to save run %s: %w", rec.ID, err)
	}
	s.logger.Debug().Str("run_id", rec.ID).Str("result", rec.Result()).Msg("Run saved to history")
	return nil
}

// GetRun retrieves a run by ID
func (s *RunStorage) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	var rec models.RunRecord
	err := s.db.Store().Get(id, &rec)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, interfaces.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}
	return &rec, nil
}

// ListRuns returns runs newest first
func (s *RunStorage) ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	var runs []models.RunRecord
	if err := s.db.Store().Find(&runs, nil); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	// badgerhold sorts time.Time by its string form, so order here
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}

	result := make([]*models.RunRecord, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}

// Close closes the underlying database
func (s *RunStorage) Close() error {
	return s.db.Close()
}
