package history

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/lgulliver/cliniprompt/pkg/types"
)

// Recorder appends session lifecycle events to the database. The registry
// never reads the journal back; it exists for audits and the admin CLI.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder creates a new recorder
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record stores one event
func (r *Recorder) Record(ctx context.Context, event *types.SessionEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to record session event: %w", err)
	}
	return nil
}

// ForSession returns the events of a session in the order they occurred
func (r *Recorder) ForSession(ctx context.Context, sessionID string) ([]types.SessionEvent, error) {
	var events []types.SessionEvent
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("occurred_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load session events: %w", err)
	}
	return events, nil
}

// CountByKind returns how many events of each kind occurred since the given time
func (r *Recorder) CountByKind(ctx context.Context, since time.Time) (map[string]int64, error) {
	var rows []struct {
		Kind  string
		Count int64
	}
	err := r.db.WithContext(ctx).
		Model(&types.SessionEvent{}).
		Select("kind, COUNT(*) as count").
		Where("occurred_at >= ?", since).
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count session events: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Kind] = row.Count
	}
	return counts, nil
}

// Prune deletes events older than the cutoff and returns how many were removed
func (r *Recorder) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("occurred_at < ?", before).Delete(&types.SessionEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune session events: %w", res.Error)
	}
	return res.RowsAffected, nil
}
