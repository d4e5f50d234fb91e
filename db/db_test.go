package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"marketplace/db"
	"marketplace/db/dbtest"
	"marketplace/internal/apperr"
	"marketplace/models"
)

func newTender(t *testing.T, store *db.Storage) *models.Tender {
	t.Helper()
	tender := &models.Tender{ClientID: uuid.New(), Category: "plumbing", Brief: "fix sink", BudgetHint: 5000}
	require.NoError(t, store.CreateTender(context.Background(), tender))
	return tender
}

func TestTenderRoundTrip(t *testing.T) {
	store := dbtest.Open(t)
	ctx := context.Background()
	tender := newTender(t, store)

	got, err := store.GetTender(ctx, tender.ID)
	require.NoError(t, err)
	require.Equal(t, tender.ClientID, got.ClientID)
	require.Equal(t, models.TenderOpen, got.Status)
	require.False(t, got.BidsLocked)
	require.False(t, got.WinnerBidID.Valid)
	require.Nil(t, got.PayPrice)
	require.Equal(t, 1, got.Version)

	_, err = store.GetTender(ctx, uuid.New())
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateTenderCompareAndSwap(t *testing.T) {
	store := dbtest.Open(t)
	ctx := context.Background()
	tender := newTender(t, store)

	stale := *tender
	tender.BidsLocked = true
	require.NoError(t, store.UpdateTender(ctx, tender))
	require.Equal(t, 2, tender.Version)

	stale.Status = models.TenderCancelled
	err := store.UpdateTender(ctx, &stale)
	require.ErrorIs(t, err, apperr.ErrConflict)

	got, err := store.GetTender(ctx, tender.ID)
	require.NoError(t, err)
	require.True(t, got.BidsLocked)
	require.Equal(t, models.TenderOpen, got.Status)
}

func TestUpsertBidKeepsCreatedAt(t *testing.T) {
	store := dbtest.Open(t)
	ctx := context.Background()
	tender := newTender(t, store)
	proID := uuid.New()

	first := &models.Bid{TenderID: tender.ID, ProID: proID, Price: 4500, WarrantyDays: 30}
	require.NoError(t, store.UpsertBid(ctx, first))

	second := &models.Bid{TenderID: tender.ID, ProID: proID, Price: 4000, WarrantyDays: 60, Note: "cheaper"}
	require.NoError(t, store.UpsertBid(ctx, second))

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, int64(4000), second.Price)
	require.True(t, first.CreatedAt.Equal(second.CreatedAt))

	bids, err := store.ListBids(ctx, tender.ID)
	require.NoError(t, err)
	require.Len(t, bids, 1)
	require.Equal(t, "cheaper", bids[0].Note)
}

func TestBidCandidatesJoinProfiles(t *testing.T) {
	store := dbtest.Open(t)
	ctx := context.Background()
	tender := newTender(t, store)

	known := &models.Professional{FullName: "Ann", Rating: 4.9, CompletedJobs: 87}
	require.NoError(t, store.SaveProfessional(ctx, known))

	require.NoError(t, store.UpsertBid(ctx, &models.Bid{TenderID: tender.ID, ProID: known.ID, Price: 4500}))
	require.NoError(t, store.UpsertBid(ctx, &models.Bid{TenderID: tender.ID, ProID: uuid.New(), Price: 4200}))

	candidates, err := store.BidCandidates(ctx, tender.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	byPro := map[uuid.UUID]db.BidCandidate{}
	for _, c := range candidates {
		byPro[c.ProID] = c
	}
	require.InDelta(t, 4.9, byPro[known.ID].Rating, 1e-9)
	require.Equal(t, 87, byPro[known.ID].CompletedJobs)
	for id, c := range byPro {
		if id != known.ID {
			require.Zero(t, c.Rating)
			require.Zero(t, c.CompletedJobs)
		}
	}
}

func TestOneHeldEscrowPerSubject(t *testing.T) {
	store := dbtest.Open(t)
	ctx := context.Background()
	subjectID := uuid.New()

	first := &models.Escrow{Subject: models.SubjectJob, SubjectID: subjectID, ClientID: uuid.New(), Amount: 1000}
	require.NoError(t, store.CreateEscrow(ctx, first))

	dup := &models.Escrow{Subject: models.SubjectJob, SubjectID: subjectID, ClientID: first.ClientID, Amount: 1000}
	err := store.CreateEscrow(ctx, dup)
	require.ErrorIs(t, err, apperr.ErrConflict)

	first.Meta = models.Meta{"refund_reason": "changed plans"}
	require.NoError(t, store.TransitionEscrow(ctx, first, models.EscrowRefunded))

	// после возврата можно внести новый депозит
	again := &models.Escrow{Subject: models.SubjectJob, SubjectID: subjectID, ClientID: first.ClientID, Amount: 1200}
	require.NoError(t, store.CreateEscrow(ctx, again))

	active, err := store.ActiveEscrow(ctx, models.SubjectJob, subjectID)
	require.NoError(t, err)
	require.NotNil(t, active)
	require.Equal(t, again.ID, active.ID)
}

func TestInTxRollsBackOnError(t *testing.T) {
	store := dbtest.Open(t)
	ctx := context.Background()
	boom := errors.New("boom")
	var tenderID uuid.UUID

	err := store.InTx(ctx, func(tx *db.Tx) error {
		tender := &models.Tender{ClientID: uuid.New(), Category: "garden"}
		if err := tx.CreateTender(ctx, tender); err != nil {
			return err
		}
		tenderID = tender.ID
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.GetTender(ctx, tenderID)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestInTxRetriesConflicts(t *testing.T) {
	store := dbtest.Open(t)
	ctx := context.Background()
	conflicts := 0
	store.OnConflict = func() { conflicts++ }

	calls := 0
	err := store.InTx(ctx, func(tx *db.Tx) error {
		calls++
		if calls < 3 {
			return apperr.ErrConflict
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, 2, conflicts)

	calls = 0
	err = store.InTx(ctx, func(tx *db.Tx) error {
		calls++
		return apperr.ErrConflict
	})
	require.ErrorIs(t, err, apperr.ErrConflict)
	require.Equal(t, 4, calls, "one attempt plus three retries")
}

func TestSavepointRollsBackOnlyInner(t *testing.T) {
	store := dbtest.Open(t)
	ctx := context.Background()
	actor := uuid.New()

	err := store.InTx(ctx, func(tx *db.Tx) error {
		outer := &models.RiskEvent{Actor: actor, Kind: models.RiskJobCompleted, Weight: -2}
		if err := tx.AppendRiskEvent(ctx, outer); err != nil {
			return err
		}
		innerErr := tx.Savepoint(ctx, "inner", func() error {
			inner := &models.RiskEvent{Actor: actor, Kind: models.RiskEscrowReleased}
			if err := tx.AppendRiskEvent(ctx, inner); err != nil {
				return err
			}
			return errors.New("release failed")
		})
		require.Error(t, innerErr)
		return nil
	})
	require.NoError(t, err)

	events, err := store.RiskEvents(ctx, actor)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, models.RiskJobCompleted, events[0].Kind)
}

func TestClearRiskEventsIsSoft(t *testing.T) {
	store := dbtest.Open(t)
	ctx := context.Background()
	actor := uuid.New()

	require.NoError(t, store.AppendRiskEvent(ctx, &models.RiskEvent{Actor: actor, Kind: models.RiskOffplatformHint, Weight: 2}))
	require.NoError(t, store.AppendRiskEvent(ctx, &models.RiskEvent{Actor: actor, Kind: models.RiskOTPFailed, Weight: 1}))

	n, err := store.ClearRiskEvents(ctx, actor, models.RiskOffplatformHint, time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	events, err := store.RiskEvents(ctx, actor)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, models.RiskOTPFailed, events[0].Kind)
}

func TestOutboxAttempts(t *testing.T) {
	store := dbtest.Open(t)
	ctx := context.Background()
	recipient := uuid.New()

	require.NoError(t, store.Enqueue(ctx, recipient, "tender_won", models.Meta{"pay_price": 4200}))
	pending, err := store.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	id := pending[0].ID

	require.NoError(t, store.MarkOutboxAttempt(ctx, id, "redis down", 2))
	msg, err := store.GetOutboxMessage(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.OutboxPending, msg.Status)
	require.Equal(t, 1, msg.Attempts)

	require.NoError(t, store.MarkOutboxAttempt(ctx, id, "redis down", 2))
	msg, err = store.GetOutboxMessage(ctx, id)
	require.NoError(t, err)
	require.Equal(t, models.OutboxFailed, msg.Status)
	require.Equal(t, "redis down", msg.LastError)

	pending, err = store.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestOverdueTenders(t *testing.T) {
	store := dbtest.Open(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	overdue := &models.Tender{ClientID: uuid.New(), Category: "paint", WindowTo: &past}
	require.NoError(t, store.CreateTender(ctx, overdue))
	fresh := &models.Tender{ClientID: uuid.New(), Category: "paint", WindowTo: &future}
	require.NoError(t, store.CreateTender(ctx, fresh))
	newTender(t, store)

	got, err := store.OverdueTenders(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, overdue.ID, got[0].ID)
}
