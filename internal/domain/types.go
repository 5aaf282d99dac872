// Package domain defines the core reconciliation entities: statements,
// transactions, receipts, and the enums that describe their lifecycle.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransactionStatus is the lifecycle state of a single statement line item.
// Use ValidateTransactionStatus to ensure validity before use.
type TransactionStatus string

const (
	// TxnOpen means no receipt has been matched yet.
	TxnOpen TransactionStatus = "open"
	// TxnMatched means at least one receipt is assigned.
	TxnMatched TransactionStatus = "matched"
	// TxnManual means a user resolved the transaction without a receipt.
	TxnManual TransactionStatus = "manual"
	// TxnIgnored means the transaction needs no receipt (fees, transfers).
	TxnIgnored TransactionStatus = "ignored"
)

// StatementStatus is the derived completion state of a statement. It is
// computed from the statuses of the statement's transactions on every read
// and never persisted.
type StatementStatus string

const (
	StatementOpen       StatementStatus = "open"
	StatementInProgress StatementStatus = "in_progress"
	StatementCompleted  StatementStatus = "completed"
)

// MatchKind records how a receipt assignment came to be.
type MatchKind string

const (
	MatchAuto   MatchKind = "auto"
	MatchManual MatchKind = "manual"
)

var (
	validTransactionStatuses = map[TransactionStatus]struct{}{
		TxnOpen: {}, TxnMatched: {}, TxnManual: {}, TxnIgnored: {},
	}

	validMatchKinds = map[MatchKind]struct{}{
		MatchAuto: {}, MatchManual: {},
	}
)

// ValidateTransactionStatus checks if the status is a known enum value.
func ValidateTransactionStatus(s TransactionStatus) bool {
	_, ok := validTransactionStatuses[s]
	return ok
}

// ValidateMatchKind checks if the match kind is a known enum value.
func ValidateMatchKind(k MatchKind) bool {
	_, ok := validMatchKinds[k]
	return ok
}

// NewID returns a fresh identifier for a statement, transaction, or receipt.
func NewID() string {
	return uuid.NewString()
}

// BillingPeriod is the calendar month a statement covers. It is immutable
// once the statement is created and is used only as a validation reference
// for imported transaction dates.
type BillingPeriod struct {
	Year  int
	Month time.Month
	Label string
}

// NewBillingPeriod creates a validated billing period with an English label.
func NewBillingPeriod(year int, month time.Month) (BillingPeriod, error) {
	if month < time.January || month > time.December {
		return BillingPeriod{}, fmt.Errorf("invalid month %d", month)
	}
	if year < 1970 || year > 9999 {
		return BillingPeriod{}, fmt.Errorf("invalid year %d", year)
	}
	return BillingPeriod{
		Year:  year,
		Month: month,
		Label: fmt.Sprintf("%s %d", month.String(), year),
	}, nil
}

// monthNames maps lowercase month names to months. German names are kept
// alongside English because the credit card exports this package grew up on
// label their periods in German ("Dezember 2025").
var monthNames = map[string]time.Month{
	"january": time.January, "januar": time.January,
	"february": time.February, "februar": time.February,
	"march": time.March, "märz": time.March, "maerz": time.March,
	"april": time.April,
	"may":   time.May, "mai": time.May,
	"june": time.June, "juni": time.June,
	"july": time.July, "juli": time.July,
	"august":    time.August,
	"september": time.September,
	"october":   time.October, "oktober": time.October,
	"november": time.November,
	"december": time.December, "dezember": time.December,
}

// ParsePeriodLabel parses a "<month name> <year>" label, accepting English
// and German month names.
func ParsePeriodLabel(label string) (BillingPeriod, error) {
	parts := strings.Fields(strings.TrimSpace(label))
	if len(parts) != 2 {
		return BillingPeriod{}, fmt.Errorf("period label must be \"<month> <year>\", got %q", label)
	}

	month, ok := monthNames[strings.ToLower(parts[0])]
	if !ok {
		return BillingPeriod{}, fmt.Errorf("unknown month %q in period label %q", parts[0], label)
	}

	var year int
	if _, err := fmt.Sscanf(parts[1], "%d", &year); err != nil {
		return BillingPeriod{}, fmt.Errorf("invalid year %q in period label %q", parts[1], label)
	}

	p, err := NewBillingPeriod(year, month)
	if err != nil {
		return BillingPeriod{}, err
	}
	p.Label = label
	return p, nil
}

// Start returns the first day of the period at midnight UTC.
func (p BillingPeriod) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last day of the period at midnight UTC.
func (p BillingPeriod) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

// Window returns the accepted date range widened by toleranceDays on each
// side. Statements routinely contain a few transactions that posted just
// outside the calendar month.
func (p BillingPeriod) Window(toleranceDays int) (start, end time.Time) {
	return p.Start().AddDate(0, 0, -toleranceDays), p.End().AddDate(0, 0, toleranceDays)
}

// Statement is one periodic billing cycle grouping transactions.
//
// Statement has no stored status field: the completion state is always a
// pure function of its transactions' statuses (see the status package), so
// a stored column could only ever go stale.
type Statement struct {
	ID          string
	AccountID   string
	Period      BillingPeriod
	TotalAmount int64 // minor units
	CreatedAt   time.Time
}

// Transaction is one line item within a statement. Created only by the
// importer; owned by exactly one statement.
//
// Amount is in signed minor units (cents) with spend negative and
// refunds/credits positive, regardless of the source export's convention.
type Transaction struct {
	ID          string
	StatementID string
	RowSeq      int // source row order within the import batch
	Date        time.Time
	PostingDate time.Time // zero when the source has no separate posting date
	Description string
	Merchant    string // normalized merchant name, empty when unknown
	Amount      int64
	Currency    string
	AmountBase  int64 // amount in the base currency, 0 when unconverted
	Category    string
	Status      TransactionStatus
	Notes       string
}

// Receipt is a supporting document submitted to justify a transaction.
// Receipts are created unassigned (the inbox state) and hold at most one
// live assignment at a time; several receipts may support the same
// transaction (invoice plus delivery note).
type Receipt struct {
	ID                    string
	CreatedSeq            int64  // monotonic creation order, used for tie-breaking
	AssignedTransactionID string // empty while in the inbox
	SourceRef             string
	Extracted             bool      // false until the extraction collaborator succeeded
	Amount                int64     // magnitude in minor units
	Date                  time.Time // zero when extraction found no date
	Merchant              string
	Currency              string
	Confidence            *float64  // nil unless assigned
	Kind                  MatchKind // empty unless assigned
}

// Assigned reports whether the receipt currently supports a transaction.
func (r *Receipt) Assigned() bool {
	return r.AssignedTransactionID != ""
}

// Scorable reports whether the receipt carries enough extracted data to
// participate in automatic matching. Receipts whose extraction failed stay
// eligible for manual assignment only.
func (r *Receipt) Scorable() bool {
	return r.Extracted
}
