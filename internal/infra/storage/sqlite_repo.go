package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// The world_clock table holds a single row keyed by this ID.
const worldClockID = "WORLD"

// SQLiteParticipantRepository implements ParticipantRepository for SQLite.
type SQLiteParticipantRepository struct {
	db *sql.DB
}

func NewSQLiteParticipantRepository(db *sql.DB) *SQLiteParticipantRepository {
	return &SQLiteParticipantRepository{db: db}
}

func (r *SQLiteParticipantRepository) Load(ctx context.Context, participantID string) (*ParticipantRecord, error) {
	query := `SELECT participant_id, kind, version, catnip, catnip_fields, next_field_price, last_updated FROM participants WHERE participant_id = ?`
	var rec ParticipantRecord
	err := r.db.QueryRowContext(ctx, query, participantID).Scan(
		&rec.ParticipantID, &rec.Kind, &rec.Version, &rec.Catnip, &rec.CatnipFields, &rec.NextFieldPrice, &rec.LastUpdated,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load participant %s: %w", participantID, err)
	}
	return &rec, nil
}

func (r *SQLiteParticipantRepository) Save(ctx context.Context, record ParticipantRecord) error {
	query := `
		INSERT INTO participants (participant_id, kind, version, catnip, catnip_fields, next_field_price, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(participant_id) DO UPDATE SET
			kind=excluded.kind,
			version=excluded.version,
			catnip=excluded.catnip,
			catnip_fields=excluded.catnip_fields,
			next_field_price=excluded.next_field_price,
			last_updated=excluded.last_updated
	`
	_, err := r.db.ExecContext(ctx, query,
		record.ParticipantID, record.Kind, record.Version,
		record.Catnip, record.CatnipFields, record.NextFieldPrice, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save participant %s: %w", record.ParticipantID, err)
	}
	return nil
}

// ---------------------------------------------------------
// SQLiteClockRepository
// ---------------------------------------------------------

type SQLiteClockRepository struct {
	db *sql.DB
}

func NewSQLiteClockRepository(db *sql.DB) *SQLiteClockRepository {
	return &SQLiteClockRepository{db: db}
}

func (r *SQLiteClockRepository) Load(ctx context.Context) (*ClockRecord, error) {
	query := `SELECT kind, version, accumulated_seconds, current_tick, current_day, last_updated FROM world_clock WHERE clock_id = ?`
	var rec ClockRecord
	err := r.db.QueryRowContext(ctx, query, worldClockID).Scan(
		&rec.Kind, &rec.Version, &rec.AccumulatedSeconds, &rec.CurrentTick, &rec.CurrentDay, &rec.LastUpdated,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load world clock: %w", err)
	}
	return &rec, nil
}

func (r *SQLiteClockRepository) Save(ctx context.Context, record ClockRecord) error {
	query := `
		INSERT INTO world_clock (clock_id, kind, version, accumulated_seconds, current_tick, current_day, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(clock_id) DO UPDATE SET
			kind=excluded.kind,
			version=excluded.version,
			accumulated_seconds=excluded.accumulated_seconds,
			current_tick=excluded.current_tick,
			current_day=excluded.current_day,
			last_updated=excluded.last_updated
	`
	_, err := r.db.ExecContext(ctx, query,
		worldClockID, record.Kind, record.Version,
		record.AccumulatedSeconds, record.CurrentTick, record.CurrentDay, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save world clock: %w", err)
	}
	return nil
}

// ---------------------------------------------------------
// SQLitePurchaseLedger
// ---------------------------------------------------------

type SQLitePurchaseLedger struct {
	db *sql.DB
}

func NewSQLitePurchaseLedger(db *sql.DB) *SQLitePurchaseLedger {
	return &SQLitePurchaseLedger{db: db}
}

func (r *SQLitePurchaseLedger) Append(ctx context.Context, record PurchaseRecord) error {
	query := `
		INSERT INTO purchases (id, participant_id, amount_charged, field_count, tick, day, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.ParticipantID, record.AmountCharged,
		record.FieldCount, record.Tick, record.Day, record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append purchase: %w", err)
	}
	return nil
}

func (r *SQLitePurchaseLedger) GetByParticipant(ctx context.Context, participantID string) ([]PurchaseRecord, error) {
	query := `SELECT id, participant_id, amount_charged, field_count, tick, day, timestamp FROM purchases WHERE participant_id = ? ORDER BY timestamp ASC`
	rows, err := r.db.QueryContext(ctx, query, participantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []PurchaseRecord
	for rows.Next() {
		var rec PurchaseRecord
		if err := rows.Scan(&rec.ID, &rec.ParticipantID, &rec.AmountCharged, &rec.FieldCount, &rec.Tick, &rec.Day, &rec.Timestamp); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
