package auction

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"marketplace/internal/apperr"
)

func TestScoreHandComputed(t *testing.T) {
	first := Candidate{BidID: uuid.New(), Price: 4500, WarrantyDays: 365, Rating: 4.9, CompletedJobs: 87}
	second := Candidate{BidID: uuid.New(), Price: 4200, WarrantyDays: 180, Rating: 4.7, CompletedJobs: 45}

	// 0 + 4.9/5*0.3 + 0.87*0.2 + 1*0.1 = 0.568
	require.Equal(t, 56.80, Score(first, 4500))
	// (1-4200/4500)*0.4 + 4.7/5*0.3 + 0.45*0.2 + 180/365*0.1 = 0.44798
	require.Equal(t, 44.80, Score(second, 4500))

	s, err := Settle([]Candidate{second, first})
	require.NoError(t, err)
	require.Equal(t, first.BidID, s.Winner.BidID)
	require.Equal(t, int64(4200), s.PayPrice)
	require.Len(t, s.Ranking, 2)
}

func TestScoreCaps(t *testing.T) {
	veteran := Candidate{Price: 100, WarrantyDays: 1000, Rating: 5, CompletedJobs: 500}
	require.Equal(t, 60.0, Score(veteran, 100))

	require.Equal(t, 0.0, Score(Candidate{Price: 0}, 0), "zero max price gives no price score")
}

func TestRoundScoreFollowsBinaryValue(t *testing.T) {
	// 1.005*100 и 2.675*100 в float64 чуть меньше половины
	require.Equal(t, 1.0, roundScore(1.005))
	require.Equal(t, 2.67, roundScore(2.675))
	require.Equal(t, 0.13, roundScore(0.125))
	require.Equal(t, 56.8, roundScore(56.8))
}

func TestSettleSecondPrice(t *testing.T) {
	a := Candidate{BidID: uuid.New(), Price: 4500, Rating: 3.0, CompletedJobs: 10}
	b := Candidate{BidID: uuid.New(), Price: 4200, Rating: 5, CompletedJobs: 100, WarrantyDays: 365}

	s, err := Settle([]Candidate{a, b})
	require.NoError(t, err)
	require.Equal(t, b.BidID, s.Winner.BidID)
	require.Equal(t, 20.00, s.Ranking[1].Score)
	require.Equal(t, 62.67, s.Winner.Score)
	// победитель платит цену второй ставки, даже если она выше его собственной
	require.Equal(t, int64(4500), s.PayPrice)
}

func TestSettleSingleBidPaysOwnPrice(t *testing.T) {
	only := Candidate{BidID: uuid.New(), Price: 3000, Rating: 4}
	s, err := Settle([]Candidate{only})
	require.NoError(t, err)
	require.Equal(t, only.BidID, s.Winner.BidID)
	require.Equal(t, int64(3000), s.PayPrice)
}

func TestSettleNoBids(t *testing.T) {
	_, err := Settle(nil)
	require.ErrorIs(t, err, apperr.ErrNoBids)
}

func TestRankTieBreak(t *testing.T) {
	base := time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)
	late := Candidate{BidID: uuid.New(), Price: 1000, Rating: 4, CreatedAt: base.Add(time.Minute)}
	early := Candidate{BidID: uuid.New(), Price: 1000, Rating: 4, CreatedAt: base}

	ranked := Rank([]Candidate{late, early})
	require.Equal(t, ranked[0].Score, ranked[1].Score)
	require.Equal(t, early.BidID, ranked[0].BidID)

	low := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	high := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	ranked = Rank([]Candidate{
		{BidID: high, Price: 1000, CreatedAt: base},
		{BidID: low, Price: 1000, CreatedAt: base},
	})
	require.Equal(t, low, ranked[0].BidID)
}
