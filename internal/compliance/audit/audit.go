// Package audit persists a journal of completed screenings so a historical
// decision can be traced back to the watchlist generations it ran against.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/veridex/screening/internal/compliance/screening"
)

// ScreeningEvent is one journaled screening.
type ScreeningEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Kind        string    `gorm:"size:16;index" json:"kind"`
	Subject     string    `gorm:"size:512" json:"subject"`
	Sanctioned  bool      `gorm:"index" json:"sanctioned"`
	MatchScore  float64   `json:"match_score"`
	Lists       string    `gorm:"size:256" json:"lists"`
	Generations string    `gorm:"size:1024" json:"generations"`
	FromCache   bool      `json:"from_cache"`
	Degraded    bool      `json:"degraded"`
	ScreenedAt  time.Time `gorm:"index" json:"screened_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName sets the journal table name.
func (ScreeningEvent) TableName() string { return "screening_events" }

// Store journals screenings to a relational database through gorm.
type Store struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
}

// NewStore migrates the journal table and returns a recorder.
func NewStore(db *gorm.DB, logger *zap.SugaredLogger) (*Store, error) {
	if err := db.AutoMigrate(&ScreeningEvent{}); err != nil {
		return nil, fmt.Errorf("migrate screening_events: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Record writes one screening event. Callers treat failures as soft; this
// method only reports them.
func (s *Store) Record(ctx context.Context, ev screening.Event) error {
	row := rowFromEvent(ev)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("journal screening event %s: %w", ev.ID, err)
	}
	return nil
}

// Recent returns the latest journaled events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]ScreeningEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []ScreeningEvent
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("load recent screening events: %w", err)
	}
	return events, nil
}

func rowFromEvent(ev screening.Event) ScreeningEvent {
	return ScreeningEvent{
		ID:          ev.ID,
		Kind:        ev.Kind,
		Subject:     ev.Subject,
		Sanctioned:  ev.Result.IsSanctioned,
		MatchScore:  ev.Result.MatchScore,
		Lists:       strings.Join(ev.Result.Lists, ","),
		Generations: strings.Join(ev.Generations, ","),
		FromCache:   ev.FromCache,
		Degraded:    ev.Result.Degraded,
		ScreenedAt:  ev.Result.ScreenedAt,
	}
}
