package chat_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"marketplace/db"
	"marketplace/db/dbtest"
	"marketplace/internal/apperr"
	"marketplace/internal/chat"
	"marketplace/internal/escrow"
	"marketplace/internal/payment"
	"marketplace/internal/pii"
	"marketplace/internal/risk"
	"marketplace/internal/wallet"
	"marketplace/models"
)

type fixture struct {
	store   *db.Storage
	risk    *risk.Engine
	service *chat.Service
	escrow  *escrow.Engine
	client  models.Actor
	pro     models.Actor
	job     *models.Job
}

func newFixture(t *testing.T, hintWeight int) *fixture {
	t.Helper()
	store := dbtest.Open(t)
	riskEngine := risk.NewEngine(store, risk.DefaultPolicy(), 0, nil)
	f := &fixture{
		store:   store,
		risk:    riskEngine,
		service: chat.NewService(store, riskEngine, chat.Options{HintWeight: hintWeight}),
		escrow:  escrow.NewEngine(store, riskEngine, payment.NewMockProvider(0), wallet.NewMemoryLedger(), escrow.Options{}),
		client:  models.Actor{ID: uuid.New(), Role: models.RoleClient},
		pro:     models.Actor{ID: uuid.New(), Role: models.RolePro},
	}
	f.job = &models.Job{ClientID: f.client.ID, Category: "cleaning", Status: models.JobNew}
	require.NoError(t, store.CreateJob(context.Background(), f.job))
	return f
}

func TestCreateChatIsIdempotent(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	c, err := f.service.CreateChat(ctx, f.client, models.SubjectJob, f.job.ID, f.pro.ID)
	require.NoError(t, err)
	again, err := f.service.CreateChat(ctx, f.pro, models.SubjectJob, f.job.ID, f.pro.ID)
	require.NoError(t, err)
	require.Equal(t, c.ID, again.ID)

	_, err = f.service.CreateChat(ctx, models.Actor{ID: uuid.New(), Role: models.RolePro}, models.SubjectJob, f.job.ID, f.pro.ID)
	require.ErrorIs(t, err, apperr.ErrNotAuthorized)
}

func TestMessagesMaskedWithoutDeposit(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	c, err := f.service.CreateChat(ctx, f.client, models.SubjectJob, f.job.ID, f.pro.ID)
	require.NoError(t, err)

	msg, err := f.service.PostMessage(ctx, f.pro, c.ID, "write me at pro@example.com")
	require.NoError(t, err)
	require.True(t, msg.PIIDetected)
	require.True(t, msg.Masked)
	require.Equal(t, "write me at "+pii.HiddenEmail, msg.Content)

	_, err = f.service.PostMessage(ctx, f.client, c.ID, "see you tomorrow")
	require.NoError(t, err)

	score, err := f.risk.Score(ctx, f.pro.ID)
	require.NoError(t, err)
	require.Equal(t, risk.DefaultOffplatformHintWeight, score)

	list, err := f.service.ListMessages(ctx, f.client, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "write me at "+pii.HiddenEmail, list[0].Content)
	require.Equal(t, "see you tomorrow", list[1].Content)
	require.False(t, list[1].Masked)

	_, err = f.service.ListMessages(ctx, models.Actor{ID: uuid.New(), Role: models.RoleClient}, c.ID)
	require.ErrorIs(t, err, apperr.ErrNotAuthorized)
}

func TestDepositUnlocksContacts(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	c, err := f.service.CreateChat(ctx, f.client, models.SubjectJob, f.job.ID, f.pro.ID)
	require.NoError(t, err)

	_, err = f.service.PostMessage(ctx, f.pro, c.ID, "call +373 69 123 456")
	require.NoError(t, err)
	score, err := f.risk.Score(ctx, f.pro.ID)
	require.NoError(t, err)
	require.Equal(t, 3, score)

	_, _, err = f.escrow.CreateDeposit(ctx, f.client, models.SubjectJob, f.job.ID, 1500)
	require.NoError(t, err)

	list, err := f.service.ListMessages(ctx, f.pro, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "call +373 69 123 456", list[0].Content)
	require.False(t, list[0].Masked)

	// после депозита контакты не штрафуются
	_, err = f.service.PostMessage(ctx, f.pro, c.ID, "or telegram @fixit_pro")
	require.NoError(t, err)
	events, err := f.store.RiskEvents(ctx, f.pro.ID)
	require.NoError(t, err)
	hints := 0
	for _, ev := range events {
		if ev.Kind == models.RiskOffplatformHint {
			hints++
		}
	}
	require.Equal(t, 1, hints)
}

func TestPostMessageValidation(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	c, err := f.service.CreateChat(ctx, f.client, models.SubjectJob, f.job.ID, f.pro.ID)
	require.NoError(t, err)

	_, err = f.service.PostMessage(ctx, f.client, c.ID, "   ")
	require.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = f.service.PostMessage(ctx, models.Actor{ID: uuid.New(), Role: models.RolePro}, c.ID, "hi")
	require.ErrorIs(t, err, apperr.ErrNotAuthorized)

	_, err = f.service.PostMessage(ctx, f.client, uuid.New(), "hi")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
