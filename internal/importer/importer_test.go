package importer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rumor-ml/commons.systems/reconcile/internal/domain"
	"github.com/rumor-ml/commons.systems/reconcile/internal/profile"
)

// fakeStore keeps fingerprints in memory, mimicking the store's dedup
// surface.
type fakeStore struct {
	fingerprints map[string]struct{}
	inserted     []*domain.Transaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{fingerprints: make(map[string]struct{})}
}

func (f *fakeStore) TransactionFingerprints(ctx context.Context, statementID string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(f.fingerprints))
	for fp := range f.fingerprints {
		out[fp] = struct{}{}
	}
	return out, nil
}

func (f *fakeStore) InsertTransactions(ctx context.Context, txns []*domain.Transaction, fps []string) error {
	f.inserted = append(f.inserted, txns...)
	for _, fp := range fps {
		f.fingerprints[fp] = struct{}{}
	}
	return nil
}

func testStatement(t *testing.T) *domain.Statement {
	t.Helper()
	p, err := domain.NewBillingPeriod(2025, time.December)
	if err != nil {
		t.Fatal(err)
	}
	return &domain.Statement{ID: domain.NewID(), AccountID: "acc-test", Period: p}
}

func row(seq int, date time.Time, desc string, amount int64) RawRow {
	return RawRow{Seq: seq, Date: date, Description: desc, Amount: amount, Currency: "EUR"}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestImportAcceptsRowsInPeriod(t *testing.T) {
	fs := newFakeStore()
	im := New(fs)
	st := testStatement(t)

	rows := []RawRow{
		row(0, day(2025, time.December, 2), "REWE BERLIN", -2345),
		row(1, day(2025, time.December, 15), "AMAZON.DE", -4999),
		row(2, day(2026, time.January, 3), "SHELL 1234", -6050), // trailing tolerance
	}

	res, err := im.Import(context.Background(), st, rows)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 3 {
		t.Errorf("Inserted = %d; want 3", res.Inserted)
	}
	if len(res.Rejected) != 0 {
		t.Errorf("Rejected = %v; want none", res.Rejected)
	}
	for i, txn := range fs.inserted {
		if txn.RowSeq != i {
			t.Errorf("inserted[%d].RowSeq = %d; want %d", i, txn.RowSeq, i)
		}
		if txn.Status != domain.TxnOpen {
			t.Errorf("inserted[%d].Status = %s; want open", i, txn.Status)
		}
	}
}

func TestImportIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	im := New(fs)
	st := testStatement(t)

	rows := []RawRow{
		row(0, day(2025, time.December, 2), "REWE BERLIN", -2345),
		row(1, day(2025, time.December, 15), "AMAZON.DE", -4999),
	}

	if _, err := im.Import(context.Background(), st, rows); err != nil {
		t.Fatal(err)
	}
	res, err := im.Import(context.Background(), st, rows)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 0 {
		t.Errorf("second import Inserted = %d; want 0", res.Inserted)
	}
	if res.SkippedDuplicates != 2 {
		t.Errorf("second import SkippedDuplicates = %d; want 2", res.SkippedDuplicates)
	}
	if len(fs.inserted) != 2 {
		t.Errorf("store holds %d transactions; want 2", len(fs.inserted))
	}
}

func TestImportDeduplicatesWithinBatch(t *testing.T) {
	fs := newFakeStore()
	im := New(fs)
	st := testStatement(t)

	same := row(0, day(2025, time.December, 2), "REWE BERLIN", -2345)
	dup := same
	dup.Seq = 1

	res, err := im.Import(context.Background(), st, []RawRow{same, dup})
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 1 || res.SkippedDuplicates != 1 {
		t.Errorf("Inserted=%d SkippedDuplicates=%d; want 1 and 1", res.Inserted, res.SkippedDuplicates)
	}
}

func TestImportMajorityYearCorrection(t *testing.T) {
	fs := newFakeStore()
	im := New(fs)
	st := testStatement(t)

	// 6 of 10 rows carry a wrong year: systematic exporter fault, all six
	// are corrected.
	var rows []RawRow
	for i := 0; i < 6; i++ {
		rows = append(rows, row(i, day(2026, time.December, 2+i), "WRONG YEAR", int64(-1000-i)))
	}
	for i := 6; i < 10; i++ {
		rows = append(rows, row(i, day(2025, time.December, 2+i), "RIGHT YEAR", int64(-2000-i)))
	}

	res, err := im.Import(context.Background(), st, rows)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 10 {
		t.Errorf("Inserted = %d; want 10", res.Inserted)
	}
	if res.DateCorrections != 6 {
		t.Errorf("DateCorrections = %d; want 6", res.DateCorrections)
	}
	for _, txn := range fs.inserted {
		if txn.Date.Year() != 2025 && txn.Date.Year() != 2026 {
			t.Errorf("stored year %d out of period window", txn.Date.Year())
		}
		if txn.Date.Year() == 2026 && txn.Date.Month() == time.December {
			t.Errorf("December 2026 date %s not corrected", txn.Date.Format("2006-01-02"))
		}
	}
}

func TestImportMinorityYearMismatchRejected(t *testing.T) {
	fs := newFakeStore()
	im := New(fs)
	st := testStatement(t)

	// A single wrong-year row among ten: likely a genuine typo, rejected.
	rows := []RawRow{row(0, day(2026, time.December, 2), "WRONG YEAR", -1000)}
	for i := 1; i < 10; i++ {
		rows = append(rows, row(i, day(2025, time.December, 2+i), "RIGHT YEAR", int64(-2000-i)))
	}

	res, err := im.Import(context.Background(), st, rows)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 9 {
		t.Errorf("Inserted = %d; want 9", res.Inserted)
	}
	if res.DateCorrections != 0 {
		t.Errorf("DateCorrections = %d; want 0", res.DateCorrections)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Seq != 0 {
		t.Errorf("Rejected = %v; want row 0 only", res.Rejected)
	}
}

func TestImportEvenSplitDoesNotCorrect(t *testing.T) {
	fs := newFakeStore()
	im := New(fs)
	st := testStatement(t)

	rows := []RawRow{
		row(0, day(2026, time.December, 2), "WRONG YEAR", -1000),
		row(1, day(2025, time.December, 3), "RIGHT YEAR", -2000),
	}

	res, err := im.Import(context.Background(), st, rows)
	if err != nil {
		t.Fatal(err)
	}
	if res.DateCorrections != 0 {
		t.Errorf("DateCorrections = %d; want 0 on a 50/50 split", res.DateCorrections)
	}
	if res.Inserted != 1 || len(res.Rejected) != 1 {
		t.Errorf("Inserted=%d Rejected=%d; want 1 and 1", res.Inserted, len(res.Rejected))
	}
}

func TestImportRejectsOutOfPeriodRows(t *testing.T) {
	fs := newFakeStore()
	im := New(fs)
	st := testStatement(t)

	rows := []RawRow{
		row(0, day(2025, time.December, 10), "OK", -1000),
		row(1, day(2025, time.August, 10), "WAY OFF", -2000),
	}

	res, err := im.Import(context.Background(), st, rows)
	if err != nil {
		t.Fatal(err)
	}
	if res.Inserted != 1 {
		t.Errorf("Inserted = %d; want 1", res.Inserted)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Seq != 1 {
		t.Errorf("Rejected = %v; want row 1 only", res.Rejected)
	}
}

func TestFingerprintStability(t *testing.T) {
	d := day(2025, time.December, 2)
	a := Fingerprint(d, -2345, "REWE BERLIN")
	b := Fingerprint(d, -2345, "  rewe berlin ")
	if a != b {
		t.Errorf("fingerprint should normalize description: %s vs %s", a, b)
	}
	if c := Fingerprint(d, -2346, "REWE BERLIN"); c == a {
		t.Error("different amounts must fingerprint differently")
	}
	if c := Fingerprint(d.AddDate(0, 0, 1), -2345, "REWE BERLIN"); c == a {
		t.Error("different dates must fingerprint differently")
	}
}

func TestDecodeCSVGeneric(t *testing.T) {
	set, err := profile.LoadEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	p, err := set.Get("generic")
	if err != nil {
		t.Fatal(err)
	}

	input := strings.Join([]string{
		"Date,Description,Amount,Currency",
		"2025-12-02,REWE BERLIN,-23.45,EUR",
		"2025-12-15,AMAZON.DE,-49.99,EUR",
		"",
		"2025-12-20,not-a-date-here,oops,EUR",
	}, "\n")

	rows, rowErrs, err := DecodeCSV(strings.NewReader(input), p)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("decoded %d rows; want 2 (errors: %v)", len(rows), rowErrs)
	}
	if len(rowErrs) != 1 {
		t.Fatalf("row errors = %v; want 1", rowErrs)
	}
	if rows[0].Amount != -2345 || rows[1].Amount != -4999 {
		t.Errorf("amounts = %d, %d; want -2345, -4999", rows[0].Amount, rows[1].Amount)
	}
	if rows[0].Description != "REWE BERLIN" {
		t.Errorf("description = %q", rows[0].Description)
	}
}

func TestDecodeCSVGermanFormat(t *testing.T) {
	set, err := profile.LoadEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	p, err := set.Get("mastercard_sparkasse")
	if err != nil {
		t.Fatal(err)
	}

	input := strings.Join([]string{
		"Buchungstag;Valuta;Verwendungszweck;Umsatz",
		"02.12.2025;03.12.2025;REWE SAGT DANKE;23,45",
		"15.12.2025;16.12.2025;AMAZON.DE;1.049,99",
	}, "\n")

	rows, rowErrs, err := DecodeCSV(strings.NewReader(input), p)
	if err != nil {
		t.Fatal(err)
	}
	if len(rowErrs) != 0 {
		t.Fatalf("row errors: %v", rowErrs)
	}
	if len(rows) != 2 {
		t.Fatalf("decoded %d rows; want 2", len(rows))
	}

	// spend_positive flips the sign so charges store negative.
	if rows[0].Amount != -2345 {
		t.Errorf("amount = %d; want -2345", rows[0].Amount)
	}
	if rows[1].Amount != -104999 {
		t.Errorf("amount with thousands separator = %d; want -104999", rows[1].Amount)
	}
	if rows[0].PostingDate.IsZero() || rows[0].PostingDate.Day() != 3 {
		t.Errorf("posting date = %v; want December 3", rows[0].PostingDate)
	}
}

func TestDecodeCSVPositionalFallback(t *testing.T) {
	set, err := profile.LoadEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	p, err := set.Get("generic")
	if err != nil {
		t.Fatal(err)
	}

	// No header row: first row is data, positional columns apply.
	input := strings.Join([]string{
		"2025-12-02,REWE BERLIN,-23.45",
		"2025-12-15,AMAZON.DE,-49.99",
	}, "\n")

	rows, rowErrs, err := DecodeCSV(strings.NewReader(input), p)
	if err != nil {
		t.Fatal(err)
	}
	if len(rowErrs) != 0 {
		t.Fatalf("row errors: %v", rowErrs)
	}
	if len(rows) != 2 {
		t.Fatalf("decoded %d rows; want 2", len(rows))
	}
	if rows[0].Date.Day() != 2 || rows[0].Amount != -2345 {
		t.Errorf("first row = %+v", rows[0])
	}
}

func TestDecodeCSVEmptyInput(t *testing.T) {
	set, err := profile.LoadEmbedded()
	if err != nil {
		t.Fatal(err)
	}
	p, err := set.Get("generic")
	if err != nil {
		t.Fatal(err)
	}

	rows, rowErrs, err := DecodeCSV(strings.NewReader(""), p)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 || len(rowErrs) != 0 {
		t.Errorf("rows=%d errors=%d; want none", len(rows), len(rowErrs))
	}
}
