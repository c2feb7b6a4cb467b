// Package storage provides the persistence layer for the meadow server.
// This package implements the repository pattern to keep the domain pure.
package storage

import (
	"context"
	"time"
)

// Schema tags carried by every persisted record. The core rejects records
// whose kind/version do not match and substitutes defaults instead of
// failing hard.
const (
	ParticipantRecordKind    = "ParticipantEconomy"
	ParticipantRecordVersion = 1

	ClockRecordKind    = "WorldClock"
	ClockRecordVersion = 1
)

// ParticipantRecord is the persisted form of one participant's economy state.
type ParticipantRecord struct {
	ParticipantID  string    `json:"participant_id" db:"participant_id"`
	Kind           string    `json:"kind" db:"kind"`
	Version        int       `json:"version" db:"version"`
	Catnip         float64   `json:"catnip" db:"catnip"`
	CatnipFields   int       `json:"catnip_fields" db:"catnip_fields"`
	NextFieldPrice float64   `json:"next_field_price" db:"next_field_price"`
	LastUpdated    time.Time `json:"last_updated" db:"last_updated"`
}

// CurrentSchema reports whether the record was written by this build's
// schema. Mismatched records are treated as absent by the roster.
func (r *ParticipantRecord) CurrentSchema() bool {
	return r.Kind == ParticipantRecordKind && r.Version == ParticipantRecordVersion
}

// ClockRecord is the persisted form of the world clock, restored at boot so
// simulated days survive restarts.
type ClockRecord struct {
	Kind               string    `json:"kind" db:"kind"`
	Version            int       `json:"version" db:"version"`
	AccumulatedSeconds float64   `json:"accumulated_seconds" db:"accumulated_seconds"`
	CurrentTick        int64     `json:"current_tick" db:"current_tick"`
	CurrentDay         int64     `json:"current_day" db:"current_day"`
	LastUpdated        time.Time `json:"last_updated" db:"last_updated"`
}

// CurrentSchema reports whether the clock record matches this build's schema.
func (r *ClockRecord) CurrentSchema() bool {
	return r.Kind == ClockRecordKind && r.Version == ClockRecordVersion
}

// PurchaseRecord is one row of the append-only purchase ledger.
type PurchaseRecord struct {
	ID            string    `json:"id" db:"id"`
	ParticipantID string    `json:"participant_id" db:"participant_id"`
	AmountCharged float64   `json:"amount_charged" db:"amount_charged"`
	FieldCount    int       `json:"field_count" db:"field_count"`
	Tick          int64     `json:"tick" db:"tick"`
	Day           int64     `json:"day" db:"day"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
}

// ParticipantRepository defines the persistence collaborator for participant
// economy state.
type ParticipantRepository interface {
	// Load retrieves a participant's record. Returns (nil, nil) when absent.
	Load(ctx context.Context, participantID string) (*ParticipantRecord, error)

	// Save upserts a participant's record.
	Save(ctx context.Context, record ParticipantRecord) error
}

// ClockRepository persists the singleton world clock.
type ClockRepository interface {
	// Load retrieves the clock record. Returns (nil, nil) when absent.
	Load(ctx context.Context) (*ClockRecord, error)

	// Save upserts the clock record.
	Save(ctx context.Context, record ClockRecord) error
}

// PurchaseLedger records completed purchase transactions for analytics.
type PurchaseLedger interface {
	// Append adds a purchase to the immutable ledger.
	Append(ctx context.Context, record PurchaseRecord) error

	// GetByParticipant retrieves all purchases made by a participant.
	GetByParticipant(ctx context.Context, participantID string) ([]PurchaseRecord, error)
}
