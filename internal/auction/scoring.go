package auction

import (
	"bytes"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketplace/internal/apperr"
)

// Веса критериев скоринга
const (
	priceWeight      = 0.4
	ratingWeight     = 0.3
	experienceWeight = 0.2
	warrantyWeight   = 0.1

	maxRating       = 5.0
	experienceCap   = 100
	warrantyCapDays = 365
)

// Candidate содержит ставку со всеми входами скоринга
type Candidate struct {
	BidID         uuid.UUID
	ProID         uuid.UUID
	Price         int64
	WarrantyDays  int
	Rating        float64
	CompletedJobs int
	CreatedAt     time.Time
}

// Ставка с рассчитанным баллом
type Ranked struct {
	Candidate
	Score float64
}

// Settlement описывает итог аукциона: победитель и цена к оплате
type Settlement struct {
	Winner   Ranked
	PayPrice int64
	Ranking  []Ranked
}

// Score считает взвешенный балл ставки в диапазоне 0..100, округлённый до сотых.
// maxPrice: максимальная цена среди ставок тендера.
func Score(c Candidate, maxPrice int64) float64 {
	priceScore := 0.0
	if maxPrice > 0 {
		priceScore = (1 - float64(c.Price)/float64(maxPrice)) * priceWeight
	}
	ratingScore := c.Rating / maxRating * ratingWeight
	experienceScore := float64(min(c.CompletedJobs, experienceCap)) / experienceCap * experienceWeight
	warrantyScore := float64(min(c.WarrantyDays, warrantyCapDays)) / warrantyCapDays * warrantyWeight

	return roundScore((priceScore + ratingScore + experienceScore + warrantyScore) * 100)
}

// roundScore округляет до сотых двоичное значение v*100, как Math.round(v*100)/100.
// Поэтому 1.005 даёт 1, а не 1.01.
func roundScore(v float64) float64 {
	rounded, _ := decimal.NewFromFloat(v * 100).Round(0).Shift(-2).Float64()
	return rounded
}

// Rank сортирует ставки по убыванию балла. При равенстве выигрывает более
// ранняя ставка, затем меньший id.
func Rank(candidates []Candidate) []Ranked {
	var maxPrice int64
	for _, c := range candidates {
		if c.Price > maxPrice {
			maxPrice = c.Price
		}
	}

	ranked := make([]Ranked, len(candidates))
	for i, c := range candidates {
		ranked[i] = Ranked{Candidate: c, Score: Score(c, maxPrice)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if math.Abs(a.Score-b.Score) > 1e-9 {
			return a.Score > b.Score
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.BidID[:], b.BidID[:]) < 0
	})
	return ranked
}

// Settle выбирает победителя. Победитель платит цену второй ставки в рейтинге,
// а при единственной ставке свою.
func Settle(candidates []Candidate) (Settlement, error) {
	if len(candidates) == 0 {
		return Settlement{}, apperr.ErrNoBids
	}
	ranking := Rank(candidates)
	s := Settlement{Winner: ranking[0], PayPrice: ranking[0].Price, Ranking: ranking}
	if len(ranking) > 1 {
		s.PayPrice = ranking[1].Price
	}
	return s, nil
}
