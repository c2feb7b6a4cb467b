package engine

import (
	"context"
	"testing"
	"time"

	"github.com/mewhaven/catnip-server/internal/config"
	"github.com/mewhaven/catnip-server/internal/events"
	"github.com/mewhaven/catnip-server/internal/infra/storage"
	"github.com/mewhaven/catnip-server/internal/platform/logger"
	"github.com/mewhaven/catnip-server/internal/roster"
)

// chanLedger delivers appended records on a channel so tests can wait for
// the asynchronous journal write.
type chanLedger struct {
	appended chan storage.PurchaseRecord
}

func (l *chanLedger) Append(ctx context.Context, record storage.PurchaseRecord) error {
	l.appended <- record
	return nil
}

func (l *chanLedger) GetByParticipant(ctx context.Context, participantID string) ([]storage.PurchaseRecord, error) {
	return nil, nil
}

func TestAcceptedPurchaseIsJournaled(t *testing.T) {
	cfg := config.Default()
	tuning := Tuning(cfg)
	log := logger.NewLogger()
	store := roster.NewStore(tuning, newMemRepo(), events.NewBus(), log)
	ledger := &chanLedger{appended: make(chan storage.PurchaseRecord, 1)}
	coordinator := NewPurchaseCoordinator(tuning, store, ledger, log)

	store.OnJoin(context.Background(), "p1")
	state, _ := store.Get("p1")
	state.Catnip = 25
	store.Commit("p1", state, 0, 0, events.ReasonTick)

	result, err := coordinator.RequestPurchase("p1", "trigger-42", 7, 2)
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if !result.Accepted {
		t.Fatal("expected purchase accepted")
	}
	if result.AmountCharged != 10 || result.FieldCount != 1 || result.NextPrice != 12 || result.Balance != 15 {
		t.Errorf("unexpected result payload: %+v", result)
	}

	select {
	case rec := <-ledger.appended:
		if rec.ParticipantID != "p1" {
			t.Errorf("unexpected participant in ledger: %s", rec.ParticipantID)
		}
		if rec.AmountCharged != 10 {
			t.Errorf("expected 10 charged, got %v", rec.AmountCharged)
		}
		if rec.FieldCount != 1 {
			t.Errorf("expected field count 1, got %d", rec.FieldCount)
		}
		if rec.Tick != 7 || rec.Day != 2 {
			t.Errorf("expected tick=7 day=2, got tick=%d day=%d", rec.Tick, rec.Day)
		}
		if rec.ID == "" {
			t.Error("expected a generated ledger row ID")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ledger append")
	}
}

func TestDeclinedPurchaseIsNotJournaled(t *testing.T) {
	cfg := config.Default()
	tuning := Tuning(cfg)
	log := logger.NewLogger()
	store := roster.NewStore(tuning, newMemRepo(), events.NewBus(), log)
	ledger := &chanLedger{appended: make(chan storage.PurchaseRecord, 1)}
	coordinator := NewPurchaseCoordinator(tuning, store, ledger, log)

	store.OnJoin(context.Background(), "p1")

	result, err := coordinator.RequestPurchase("p1", "trigger-1", 0, 0)
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if result.Accepted {
		t.Fatal("expected purchase declined")
	}

	select {
	case rec := <-ledger.appended:
		t.Errorf("declined purchase must not be journaled, got %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}
}
