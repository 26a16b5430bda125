package screening

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EntityType classifies a sanctioned party.
type EntityType string

const (
	EntityTypeIndividual EntityType = "individual"
	EntityTypeEntity     EntityType = "entity"
	EntityTypeVessel     EntityType = "vessel"
	EntityTypeAircraft   EntityType = "aircraft"
)

// Well-known source identifiers, in descending priority.
const (
	SourceOFAC = "OFAC"
	SourceUN   = "UN"
	SourceEU   = "EU"
)

// SanctionedEntity is a single listing on a sanctions watchlist. Entities are
// immutable once constructed; a refresh builds a fresh slice and swaps it in
// wholesale, so readers never see partial updates.
type SanctionedEntity struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	EntityType  EntityType `json:"entity_type"`
	Aliases     []string   `json:"aliases,omitempty"`
	Addresses   []string   `json:"addresses,omitempty"`
	Programs    []string   `json:"programs,omitempty"`
	ListingDate time.Time  `json:"listing_date"`
}

// HasAddress reports whether the entity lists addr. Addresses are stored
// lowercased at ingest; addr must be lowercased by the caller.
func (e *SanctionedEntity) HasAddress(addr string) bool {
	if addr == "" {
		return false
	}
	for _, a := range e.Addresses {
		if a == addr {
			return true
		}
	}
	return false
}

// SourceList is one source's current watchlist generation. A zero Generation
// means the source has never been loaded.
type SourceList struct {
	Source     string
	Generation uuid.UUID
	Entities   []SanctionedEntity
	UpdatedAt  time.Time
}

// SourceStatus describes a source's refresh state for status reporting.
type SourceStatus struct {
	Source      string    `json:"source"`
	Generation  string    `json:"generation,omitempty"`
	Entities    int       `json:"entities"`
	LastSuccess time.Time `json:"last_success"`
}

// ScreeningResult is the outcome of one screening. Results are never mutated
// after creation; a later screening replaces rather than updates.
type ScreeningResult struct {
	IsSanctioned bool      `json:"is_sanctioned"`
	Lists        []string  `json:"lists,omitempty"`
	MatchScore   float64   `json:"match_score"`
	ScreenedAt   time.Time `json:"screened_at"`
	Details      string    `json:"details,omitempty"`

	// Degraded is set when the result cache has failed repeatedly and the
	// engine is operating without it. It is never persisted to the cache.
	Degraded bool `json:"degraded,omitempty"`
}

// Screening kinds as recorded in the audit journal and metrics.
const (
	KindAddress = "address"
	KindName    = "name"
)

// Event is the audit record of one completed screening.
type Event struct {
	ID          uuid.UUID
	Kind        string
	Subject     string
	Result      ScreeningResult
	Generations []string
	FromCache   bool
}

// EventRecorder journals completed screenings. Recording is best-effort: a
// failed Record must never fail the screening that produced the event.
type EventRecorder interface {
	Record(ctx context.Context, ev Event) error
}
