// Package importer turns raw statement exports into persisted transactions.
// It decodes CSV and OFX sources, validates dates against the statement's
// billing period with a majority-vote year correction, fingerprints rows for
// idempotent re-import, and hands accepted rows to the store in one batch.
package importer

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rumor-ml/commons.systems/reconcile/internal/domain"
	"github.com/rumor-ml/commons.systems/reconcile/internal/period"
	"github.com/rumor-ml/commons.systems/reconcile/internal/profile"
)

// DefaultToleranceDays widens the billing period window on both sides when
// classifying transaction dates.
const DefaultToleranceDays = 5

// RawRow is one decoded source row, sign-normalized (spend negative) and in
// minor units, before period validation and deduplication.
type RawRow struct {
	Seq         int // 0-based position in the source
	Date        time.Time
	PostingDate time.Time
	Description string
	Amount      int64
	Currency    string
	Category    string // optional suggestion, filled by the caller
}

// RowError records why a single row was not imported. Row-level failures
// never abort the batch.
type RowError struct {
	Seq    int
	Line   string
	Reason string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Seq, e.Reason)
}

// Result summarizes one import batch.
type Result struct {
	StatementID       string
	Inserted          int
	SkippedDuplicates int
	DateCorrections   int
	Rejected          []RowError
}

// Store is the persistence surface the importer needs.
type Store interface {
	TransactionFingerprints(ctx context.Context, statementID string) (map[string]struct{}, error)
	InsertTransactions(ctx context.Context, txns []*domain.Transaction, fingerprints []string) error
}

// Importer imports decoded rows into statements.
type Importer struct {
	store         Store
	toleranceDays int
}

// New creates an importer with the default period tolerance.
func New(store Store) *Importer {
	return &Importer{store: store, toleranceDays: DefaultToleranceDays}
}

// NewWithTolerance creates an importer with a custom period tolerance.
func NewWithTolerance(store Store, toleranceDays int) *Importer {
	return &Importer{store: store, toleranceDays: toleranceDays}
}

// Fingerprint hashes the fields that identify a transaction across imports:
// final date, amount in minor units, and the normalized description.
func Fingerprint(date time.Time, amount int64, description string) string {
	normalized := strings.ToLower(strings.TrimSpace(description))
	input := fmt.Sprintf("%s|%d|%s", date.Format("2006-01-02"), amount, normalized)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// Import validates, deduplicates, and persists rows into the statement.
//
// Year correction is all-or-nothing per batch: when a strict majority of
// decoded rows carries a repairable wrong year, every such row is corrected;
// otherwise none is and those rows are rejected. A lone typo should never be
// silently rewritten, while an exporter that stamped the whole file with the
// wrong year should not reject the whole file.
func (im *Importer) Import(ctx context.Context, st *domain.Statement, rows []RawRow) (*Result, error) {
	res := &Result{StatementID: st.ID}
	if len(rows) == 0 {
		return res, nil
	}

	type classified struct {
		row  RawRow
		date time.Time
	}

	var accepted []classified
	var suspicious []classified
	for _, row := range rows {
		v := period.Validate(row.Date, st.Period, im.toleranceDays)
		switch v.Class {
		case period.Accepted:
			accepted = append(accepted, classified{row: row, date: row.Date})
		case period.SuspiciousYear:
			suspicious = append(suspicious, classified{row: row, date: v.Corrected})
		default:
			res.Rejected = append(res.Rejected, RowError{
				Seq:    row.Seq,
				Reason: fmt.Sprintf("date %s outside billing period %s", row.Date.Format("2006-01-02"), st.Period.Label),
			})
		}
	}

	// Strict majority of ALL decoded rows, so a 50/50 split never corrects.
	correctYears := len(suspicious)*2 > len(rows)
	if correctYears {
		accepted = append(accepted, suspicious...)
		res.DateCorrections = len(suspicious)
	} else {
		for _, c := range suspicious {
			res.Rejected = append(res.Rejected, RowError{
				Seq:    c.row.Seq,
				Reason: fmt.Sprintf("date %s outside billing period %s (year mismatch, no batch majority)", c.row.Date.Format("2006-01-02"), st.Period.Label),
			})
		}
	}

	seen, err := im.store.TransactionFingerprints(ctx, st.ID)
	if err != nil {
		return nil, fmt.Errorf("load existing fingerprints: %w", err)
	}

	var txns []*domain.Transaction
	var fingerprints []string
	for _, c := range accepted {
		fp := Fingerprint(c.date, c.row.Amount, c.row.Description)
		if _, dup := seen[fp]; dup {
			res.SkippedDuplicates++
			continue
		}
		seen[fp] = struct{}{}

		currency := c.row.Currency
		if currency == "" {
			currency = "EUR"
		}
		txns = append(txns, &domain.Transaction{
			StatementID: st.ID,
			RowSeq:      c.row.Seq,
			Date:        c.date,
			PostingDate: c.row.PostingDate,
			Description: c.row.Description,
			Amount:      c.row.Amount,
			Currency:    currency,
			Category:    c.row.Category,
			Status:      domain.TxnOpen,
		})
		fingerprints = append(fingerprints, fp)
	}

	if err := im.store.InsertTransactions(ctx, txns, fingerprints); err != nil {
		return nil, fmt.Errorf("insert transactions: %w", err)
	}
	res.Inserted = len(txns)
	return res, nil
}

// DecodeCSV decodes a tabular export according to its format profile.
// Malformed rows are reported individually; only unreadable input fails the
// whole decode.
func DecodeCSV(r io.Reader, p *profile.Profile) ([]RawRow, []RowError, error) {
	reader := csv.NewReader(p.DecodeReader(r))
	reader.Comma = p.DelimiterRune()
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	for i := 0; i < p.SkipRows; i++ {
		if _, err := reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, nil, nil
			}
			return nil, nil, fmt.Errorf("skip preamble row %d: %w", i+1, err)
		}
	}

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	cols, headerIsData := resolveColumns(header, &p.Columns)

	var rows []RawRow
	var rowErrs []RowError
	seq := 0

	decode := func(record []string) {
		if strings.TrimSpace(strings.Join(record, "")) == "" {
			return
		}
		defer func() { seq++ }()
		row, reason := decodeRecord(record, cols, p, seq)
		if reason != "" {
			rowErrs = append(rowErrs, RowError{Seq: seq, Line: strings.Join(record, string(p.DelimiterRune())), Reason: reason})
			return
		}
		rows = append(rows, row)
	}

	if headerIsData {
		decode(header)
	}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				rowErrs = append(rowErrs, RowError{Seq: seq, Reason: err.Error()})
				seq++
				continue
			}
			return nil, nil, fmt.Errorf("read row: %w", err)
		}
		decode(record)
	}

	return rows, rowErrs, nil
}

// columnIndexes maps canonical fields to record indexes; -1 means absent.
type columnIndexes struct {
	date        int
	postingDate int
	description int
	amount      int
	currency    int
}

// resolveColumns matches header cells against the profile's candidate names
// (case-insensitive containment). When the required columns cannot be
// resolved the first row is assumed to be data and positional defaults
// apply: date, description, amount.
func resolveColumns(header []string, c *profile.Columns) (columnIndexes, bool) {
	idx := columnIndexes{date: -1, postingDate: -1, description: -1, amount: -1, currency: -1}

	find := func(candidates []string) int {
		for i, cell := range header {
			cell = strings.ToLower(strings.TrimSpace(cell))
			for _, cand := range candidates {
				if cell != "" && strings.Contains(cell, strings.ToLower(cand)) {
					return i
				}
			}
		}
		return -1
	}

	idx.date = find(c.Date)
	idx.postingDate = find(c.PostingDate)
	idx.description = find(c.Description)
	idx.amount = find(c.Amount)
	idx.currency = find(c.Currency)

	if idx.date >= 0 && idx.amount >= 0 {
		return idx, false
	}
	return columnIndexes{date: 0, description: 1, amount: 2, postingDate: -1, currency: -1}, true
}

func decodeRecord(record []string, cols columnIndexes, p *profile.Profile, seq int) (RawRow, string) {
	field := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	dateStr := field(cols.date)
	if dateStr == "" {
		return RawRow{}, "missing date"
	}
	date, err := time.Parse(p.DateFormat, dateStr)
	if err != nil {
		return RawRow{}, fmt.Sprintf("unparseable date %q (expected format %s)", dateStr, p.DateFormat)
	}

	amountStr := field(cols.amount)
	if amountStr == "" {
		return RawRow{}, "missing amount"
	}
	amount, err := domain.ParseAmount(amountStr, p.DecimalSep, p.ThousandsSep)
	if err != nil {
		return RawRow{}, fmt.Sprintf("unparseable amount %q: %v", amountStr, err)
	}
	if p.SpendPositive {
		amount = -amount
	}

	row := RawRow{
		Seq:         seq,
		Date:        date,
		Description: field(cols.description),
		Amount:      amount,
		Currency:    field(cols.currency),
	}
	if row.Currency == "" {
		row.Currency = p.Currency
	}
	if s := field(cols.postingDate); s != "" {
		if pd, err := time.Parse(p.DateFormat, s); err == nil {
			row.PostingDate = pd
		}
	}
	return row, ""
}
