package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mewhaven/catnip-server/internal/domain/economy"
	"github.com/mewhaven/catnip-server/internal/events"
	"github.com/mewhaven/catnip-server/internal/infra/storage"
	"github.com/mewhaven/catnip-server/internal/platform/logger"
	"github.com/mewhaven/catnip-server/internal/platform/metrics"
	"github.com/mewhaven/catnip-server/internal/roster"
)

// ErrParticipantNotActive reports a gameplay request for a participant who
// has not joined or has already left.
var ErrParticipantNotActive = errors.New("participant not active")

// PurchaseResult reports the outcome of a purchase request. A decline is a
// normal outcome, not an error: Price and Balance echo the unchanged values
// so the caller can render "need X, have Y" without a second round trip.
type PurchaseResult struct {
	Accepted      bool    `json:"accepted"`
	AmountCharged float64 `json:"amount_charged"`
	FieldCount    int     `json:"field_count"`
	NextPrice     float64 `json:"next_price"`
	Balance       float64 `json:"balance"`
}

// PurchaseCoordinator validates and applies field purchases against the
// participant's live state. It runs on the engine's command loop, so a
// check-then-commit sequence can never interleave with a tick.
type PurchaseCoordinator struct {
	tuning economy.Tuning
	store  *roster.Store
	ledger storage.PurchaseLedger
	logger *logger.Logger
}

// NewPurchaseCoordinator wires the coordinator to its collaborators. The
// ledger may be nil, in which case accepted purchases are not journaled.
func NewPurchaseCoordinator(tuning economy.Tuning, store *roster.Store, ledger storage.PurchaseLedger, log *logger.Logger) *PurchaseCoordinator {
	return &PurchaseCoordinator{
		tuning: tuning,
		store:  store,
		ledger: ledger,
		logger: log,
	}
}

// RequestPurchase attempts to buy one field for the participant at the given
// simulated time. contextID identifies the triggering interaction for
// tracing; it is opaque to the coordinator. Repeated identical requests are
// independent transactions, no deduplication happens here.
//
// Insufficient funds yields Accepted=false with no state change; an unknown
// participant yields ErrParticipantNotActive.
func (c *PurchaseCoordinator) RequestPurchase(participantID, contextID string, tick, day int64) (PurchaseResult, error) {
	state, ok := c.store.Get(participantID)
	if !ok {
		return PurchaseResult{}, ErrParticipantNotActive
	}

	charged := state.NextFieldPrice
	next, accepted := economy.TryPurchaseField(c.tuning, state)
	metrics.Get().RecordPurchase(accepted)

	if !accepted {
		c.logger.Event("PURCHASE_DECLINED", participantID,
			"insufficient catnip (context "+contextID+")")
		return PurchaseResult{
			Accepted:   false,
			FieldCount: state.CatnipFields,
			NextPrice:  state.NextFieldPrice,
			Balance:    state.Catnip,
		}, nil
	}

	c.store.Commit(participantID, next, tick, day, events.ReasonPurchase)
	c.logger.Event("PURCHASE_ACCEPTED", participantID,
		"catnip field acquired (context "+contextID+")")

	if c.ledger != nil {
		c.appendLedger(participantID, charged, next.CatnipFields, tick, day)
	}

	return PurchaseResult{
		Accepted:      true,
		AmountCharged: charged,
		FieldCount:    next.CatnipFields,
		NextPrice:     next.NextFieldPrice,
		Balance:       next.Catnip,
	}, nil
}

// appendLedger journals the purchase without blocking the command loop. A
// failed append loses only the analytics row, never the purchase itself.
func (c *PurchaseCoordinator) appendLedger(participantID string, charged float64, fieldCount int, tick, day int64) {
	record := storage.PurchaseRecord{
		ID:            uuid.New().String(),
		ParticipantID: participantID,
		AmountCharged: charged,
		FieldCount:    fieldCount,
		Tick:          tick,
		Day:           day,
		Timestamp:     time.Now(),
	}
	go func() {
		if err := c.ledger.Append(context.Background(), record); err != nil {
			c.logger.Warnf("ledger append failed for %s: %v", participantID, err)
		}
	}()
}
