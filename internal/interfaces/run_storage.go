package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/chatverify/internal/models"
)

// ErrRunNotFound is returned when a run ID is not in the history
var ErrRunNotFound = errors.New("run not found")

// RunStorage persists verification run records
type RunStorage interface {
	SaveRun(ctx context.Context, rec *models.RunRecord) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	// ListRuns returns the most recent runs first. limit <= 0 returns all.
	ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error)
	Close() error
}
