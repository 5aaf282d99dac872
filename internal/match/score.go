package match

import (
	"sort"
	"time"

	"github.com/rumor-ml/commons.systems/reconcile/internal/domain"
)

// DefaultThreshold is the minimum score a candidate needs to be offered or
// auto-assigned.
const DefaultThreshold = 0.5

// Weights of the scoring components. They sum to 1.0; the final score is
// additionally capped there.
const (
	weightAmount   = 0.5
	weightDate     = 0.3
	weightMerchant = 0.2
)

// Breakdown itemizes a candidate score per component.
type Breakdown struct {
	Amount   float64
	Date     float64
	Merchant float64
}

// Candidate is one receipt scored against a transaction.
type Candidate struct {
	Receipt *domain.Receipt
	Score   float64
	Parts   Breakdown
	// DateDiff is the absolute day distance between receipt and transaction
	// dates; -1 when the receipt has no date.
	DateDiff int
}

// Score computes the weighted match score between a transaction and a
// receipt in [0,1]. Unscorable receipts (extraction never succeeded) score
// zero outright.
//
// Amounts compare by magnitude since statement spend is negative while
// receipts carry unsigned totals. Exact amount scores the full 0.5; within
// one currency unit scores 0.3. Date awards only its highest matching tier:
// same day 0.3, within 3 days 0.2, within 7 days 0.1. Merchant contributes
// similarity-weighted 0.2, falling back to the raw statement description
// when no normalized merchant is stored.
func Score(t *domain.Transaction, r *domain.Receipt) Candidate {
	c := Candidate{Receipt: r, DateDiff: -1}
	if !r.Scorable() {
		return c
	}

	diff := absInt64(absInt64(t.Amount) - absInt64(r.Amount))
	switch {
	case diff == 0:
		c.Parts.Amount = weightAmount
	case diff < 100:
		c.Parts.Amount = 0.3
	}

	if !r.Date.IsZero() {
		c.DateDiff = dayDiff(t.Date, r.Date)
		switch {
		case c.DateDiff == 0:
			c.Parts.Date = weightDate
		case c.DateDiff <= 3:
			c.Parts.Date = 0.2
		case c.DateDiff <= 7:
			c.Parts.Date = 0.1
		}
	}

	name := t.Merchant
	if name == "" {
		name = t.Description
	}
	c.Parts.Merchant = Similarity(name, r.Merchant) * weightMerchant

	c.Score = c.Parts.Amount + c.Parts.Date + c.Parts.Merchant
	if c.Score > 1 {
		c.Score = 1
	}
	return c
}

// Rank scores every receipt against the transaction and returns candidates
// at or above threshold, best first. Ties break on smaller date distance,
// then on receipt creation order, so the ranking is fully deterministic.
func Rank(t *domain.Transaction, receipts []*domain.Receipt, threshold float64) []Candidate {
	var out []Candidate
	for _, r := range receipts {
		c := Score(t, r)
		if c.Score >= threshold && c.Score > 0 {
			out = append(out, c)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		di, dj := normalizedDateDiff(out[i]), normalizedDateDiff(out[j])
		if di != dj {
			return di < dj
		}
		return out[i].Receipt.CreatedSeq < out[j].Receipt.CreatedSeq
	})
	return out
}

// normalizedDateDiff orders dateless receipts after any dated one at equal
// score.
func normalizedDateDiff(c Candidate) int {
	if c.DateDiff < 0 {
		return int(^uint(0) >> 1)
	}
	return c.DateDiff
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// dayDiff returns the absolute whole-day distance between two dates,
// ignoring time-of-day.
func dayDiff(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	d := int(da.Sub(db) / (24 * time.Hour))
	if d < 0 {
		return -d
	}
	return d
}
