// Package extract defines the receipt data extraction collaborator and a
// content-addressed result cache. The reconciliation core never reads
// receipt documents itself; an Extractor implementation (OCR service, LLM
// backend, manual entry) supplies the structured fields.
package extract

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrExtractionFailed means the extractor read the document but could
	// not produce usable fields. The receipt stays manual-assign-only.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrUnavailable means the extraction backend could not be reached.
	// The caller may retry later; the receipt is not marked failed.
	ErrUnavailable = errors.New("extraction backend unavailable")
)

// Extraction is the structured data pulled from one receipt document.
type Extraction struct {
	Amount     int64     `json:"amount"` // magnitude in minor units
	Date       time.Time `json:"date"`
	Merchant   string    `json:"merchant"`
	Currency   string    `json:"currency"`
	Confidence float64   `json:"confidence"` // extractor's own estimate in [0,1]
}

// Extractor extracts structured fields from a receipt document.
type Extractor interface {
	Extract(ctx context.Context, content []byte) (*Extraction, error)
}
