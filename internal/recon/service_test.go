package recon

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rumor-ml/commons.systems/reconcile/internal/category"
	"github.com/rumor-ml/commons.systems/reconcile/internal/domain"
	"github.com/rumor-ml/commons.systems/reconcile/internal/extract"
	"github.com/rumor-ml/commons.systems/reconcile/internal/importer"
	"github.com/rumor-ml/commons.systems/reconcile/internal/store"
)

// stubExtractor returns canned results and counts invocations.
type stubExtractor struct {
	result *extract.Extraction
	err    error
	calls  int
}

func (e *stubExtractor) Extract(ctx context.Context, content []byte) (*extract.Extraction, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func newTestService(t *testing.T, opts ...Option) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, opts...), st
}

func newTestStatement(t *testing.T, svc *Service) *domain.Statement {
	t.Helper()
	p, err := domain.NewBillingPeriod(2025, time.December)
	require.NoError(t, err)
	stmt, err := svc.CreateStatement(context.Background(), "acc-test", p)
	require.NoError(t, err)
	return stmt
}

func importRows(t *testing.T, svc *Service, statementID string, rows []importer.RawRow) {
	t.Helper()
	res, err := svc.ImportBatch(context.Background(), statementID, rows)
	require.NoError(t, err)
	require.Empty(t, res.Rejected)
}

func rawRow(seq, dayOfMonth int, desc string, amount int64) importer.RawRow {
	return importer.RawRow{
		Seq:         seq,
		Date:        time.Date(2025, time.December, dayOfMonth, 0, 0, 0, 0, time.UTC),
		Description: desc,
		Amount:      amount,
		Currency:    "EUR",
	}
}

func ingestExtracted(t *testing.T, svc *Service, st *store.Store, amount int64, dayOfMonth int, merchant string) *domain.Receipt {
	t.Helper()
	r := &domain.Receipt{
		SourceRef: "inbox/" + domain.NewID() + ".pdf",
		Extracted: true,
		Amount:    amount,
		Date:      time.Date(2025, time.December, dayOfMonth, 0, 0, 0, 0, time.UTC),
		Merchant:  merchant,
		Currency:  "EUR",
	}
	require.NoError(t, st.CreateReceipt(context.Background(), r))
	return r
}

func TestImportBatchSuggestsCategories(t *testing.T) {
	rules, err := category.LoadEmbedded()
	require.NoError(t, err)
	svc, _ := newTestService(t, WithRules(rules))
	stmt := newTestStatement(t, svc)

	importRows(t, svc, stmt.ID, []importer.RawRow{
		rawRow(0, 2, "AMAZON.DE BERLIN", -4999),
		rawRow(1, 3, "COMPLETELY UNKNOWN", -1000),
	})

	txns, err := svc.ListTransactions(context.Background(), stmt.ID)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, "shopping", txns[0].Category)
	assert.Empty(t, txns[1].Category)
}

func TestStatementStatusLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	stmt := newTestStatement(t, svc)
	ctx := context.Background()

	// No transactions yet: nothing to reconcile.
	derived, err := svc.StatementStatus(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatementCompleted, derived)

	importRows(t, svc, stmt.ID, []importer.RawRow{
		rawRow(0, 2, "REWE", -2345),
		rawRow(1, 3, "AMAZON", -4999),
	})

	derived, err = svc.StatementStatus(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatementOpen, derived)

	txns, err := svc.ListTransactions(ctx, stmt.ID)
	require.NoError(t, err)
	require.NoError(t, svc.SetTransactionStatus(ctx, txns[0].ID, domain.TxnIgnored))

	derived, err = svc.StatementStatus(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatementInProgress, derived)

	require.NoError(t, svc.SetTransactionStatus(ctx, txns[1].ID, domain.TxnManual))
	derived, err = svc.StatementStatus(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatementCompleted, derived)
}

func TestAutoAssign(t *testing.T) {
	svc, st := newTestService(t)
	stmt := newTestStatement(t, svc)
	ctx := context.Background()

	importRows(t, svc, stmt.ID, []importer.RawRow{rawRow(0, 10, "AMAZON.DE", -4999)})
	txns, err := svc.ListTransactions(ctx, stmt.ID)
	require.NoError(t, err)

	best := ingestExtracted(t, svc, st, 4999, 10, "Amazon")
	ingestExtracted(t, svc, st, 123456, 28, "Deutsche Bahn")

	got, err := svc.AutoAssign(ctx, txns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, best.ID, got.Receipt.ID)
	assert.GreaterOrEqual(t, got.Score, 0.5)

	updated, err := st.GetTransaction(ctx, txns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxnMatched, updated.Status)
}

func TestAutoAssignNoCandidate(t *testing.T) {
	svc, st := newTestService(t)
	stmt := newTestStatement(t, svc)
	ctx := context.Background()

	importRows(t, svc, stmt.ID, []importer.RawRow{rawRow(0, 10, "AMAZON.DE", -4999)})
	txns, err := svc.ListTransactions(ctx, stmt.ID)
	require.NoError(t, err)

	ingestExtracted(t, svc, st, 999999, 28, "Unrelated")

	_, err = svc.AutoAssign(ctx, txns[0].ID)
	assert.ErrorIs(t, err, ErrNoCandidate)
}

func TestManualAssignAndUnassign(t *testing.T) {
	svc, st := newTestService(t)
	stmt := newTestStatement(t, svc)
	ctx := context.Background()

	importRows(t, svc, stmt.ID, []importer.RawRow{rawRow(0, 10, "OBSCURE VENDOR", -7700)})
	txns, err := svc.ListTransactions(ctx, stmt.ID)
	require.NoError(t, err)

	// Manual assignment ignores the score entirely.
	r := ingestExtracted(t, svc, st, 123, 28, "Nothing Alike")
	require.NoError(t, svc.ManualAssign(ctx, r.ID, txns[0].ID))

	got, err := st.GetReceipt(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MatchManual, got.Kind)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 1.0, *got.Confidence, 1e-9)

	require.NoError(t, svc.Unassign(ctx, r.ID))
	inbox, err := svc.ListInbox(ctx)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, r.ID, inbox[0].ID)

	assert.ErrorIs(t, svc.Unassign(ctx, r.ID), store.ErrAssignmentConflict)
}

func TestSweepStatement(t *testing.T) {
	svc, st := newTestService(t)
	stmt := newTestStatement(t, svc)
	ctx := context.Background()

	importRows(t, svc, stmt.ID, []importer.RawRow{
		rawRow(0, 2, "REWE SAGT DANKE", -2345),
		rawRow(1, 15, "AMAZON.DE", -4999),
		rawRow(2, 20, "NO RECEIPT EVER", -100000),
	})

	ingestExtracted(t, svc, st, 2345, 2, "REWE")
	ingestExtracted(t, svc, st, 4999, 15, "Amazon")

	outcomes, err := svc.SweepStatement(ctx, stmt.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assigned := 0
	for _, o := range outcomes {
		if o.Assigned() {
			assigned++
		}
	}
	assert.Equal(t, 2, assigned)

	derived, err := svc.StatementStatus(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatementInProgress, derived)

	// The statement keeps every successful match even though one
	// transaction found no receipt.
	txns, err := svc.ListTransactions(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxnMatched, txns[0].Status)
	assert.Equal(t, domain.TxnMatched, txns[1].Status)
	assert.Equal(t, domain.TxnOpen, txns[2].Status)
}

func TestSweepDoesNotReuseReceipts(t *testing.T) {
	svc, st := newTestService(t)
	stmt := newTestStatement(t, svc)
	ctx := context.Background()

	// Two identical transactions, one matching receipt: only one may win.
	importRows(t, svc, stmt.ID, []importer.RawRow{
		rawRow(0, 10, "AMAZON.DE ORDER A", -4999),
		rawRow(1, 10, "AMAZON.DE ORDER B", -4999),
	})
	ingestExtracted(t, svc, st, 4999, 10, "Amazon")

	outcomes, err := svc.SweepStatement(ctx, stmt.ID)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.True(t, outcomes[0].Assigned())
	assert.False(t, outcomes[1].Assigned())
	assert.NoError(t, outcomes[1].Err)
}

func TestSweepSkipsResolvedTransactions(t *testing.T) {
	svc, st := newTestService(t)
	stmt := newTestStatement(t, svc)
	ctx := context.Background()

	importRows(t, svc, stmt.ID, []importer.RawRow{rawRow(0, 10, "AMAZON.DE", -4999)})
	txns, err := svc.ListTransactions(ctx, stmt.ID)
	require.NoError(t, err)
	require.NoError(t, svc.SetTransactionStatus(ctx, txns[0].ID, domain.TxnIgnored))

	ingestExtracted(t, svc, st, 4999, 10, "Amazon")

	outcomes, err := svc.SweepStatement(ctx, stmt.ID)
	require.NoError(t, err)
	assert.Empty(t, outcomes, "resolved transactions are not swept")
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	svc, _ := newTestService(t)
	stmt := newTestStatement(t, svc)

	importRows(t, svc, stmt.ID, []importer.RawRow{rawRow(0, 10, "AMAZON.DE", -4999)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes, err := svc.SweepStatement(ctx, stmt.ID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, outcomes)
}

func TestIngestReceiptExtracts(t *testing.T) {
	ex := &stubExtractor{result: &extract.Extraction{
		Amount:     4999,
		Date:       time.Date(2025, time.December, 10, 0, 0, 0, 0, time.UTC),
		Merchant:   "Amazon",
		Currency:   "EUR",
		Confidence: 0.95,
	}}
	svc, st := newTestService(t, WithExtractor(ex))
	ctx := context.Background()

	r, err := svc.IngestReceipt(ctx, "inbox/a.pdf", []byte("receipt bytes"))
	require.NoError(t, err)
	assert.True(t, r.Extracted)
	assert.Equal(t, int64(4999), r.Amount)
	assert.Equal(t, "Amazon", r.Merchant)

	got, err := st.GetReceipt(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.Extracted)
	assert.Positive(t, got.CreatedSeq)
}

func TestIngestReceiptExtractionFailureStillStores(t *testing.T) {
	ex := &stubExtractor{err: extract.ErrExtractionFailed}
	svc, st := newTestService(t, WithExtractor(ex))
	ctx := context.Background()

	r, err := svc.IngestReceipt(ctx, "inbox/blurry.jpg", []byte("blurry"))
	require.NoError(t, err)
	assert.False(t, r.Extracted)

	got, err := st.GetReceipt(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, got.Extracted, "failed extraction stays manual-assign-only")
}

func TestIngestReceiptBackendUnavailable(t *testing.T) {
	ex := &stubExtractor{err: extract.ErrUnavailable}
	svc, _ := newTestService(t, WithExtractor(ex))

	_, err := svc.IngestReceipt(context.Background(), "inbox/a.pdf", []byte("bytes"))
	require.Error(t, err)
	assert.ErrorIs(t, err, extract.ErrUnavailable)

	inbox, err := svc.ListInbox(context.Background())
	require.NoError(t, err)
	assert.Empty(t, inbox, "nothing stored when the backend is unreachable")
}

func TestSetReceiptFieldsMakesReceiptScorable(t *testing.T) {
	svc, _ := newTestService(t)
	stmt := newTestStatement(t, svc)
	ctx := context.Background()

	importRows(t, svc, stmt.ID, []importer.RawRow{rawRow(0, 10, "AMAZON.DE", -4999)})
	txns, err := svc.ListTransactions(ctx, stmt.ID)
	require.NoError(t, err)

	// Without an extractor the receipt lands unextracted and unscorable.
	r, err := svc.IngestReceipt(ctx, "inbox/paper.jpg", []byte("paper"))
	require.NoError(t, err)
	require.False(t, r.Extracted)
	_, err = svc.AutoAssign(ctx, txns[0].ID)
	assert.ErrorIs(t, err, ErrNoCandidate)

	// A human types the fields in; the receipt now matches.
	updated, err := svc.SetReceiptFields(ctx, r.ID,
		4999, time.Date(2025, time.December, 10, 0, 0, 0, 0, time.UTC), "Amazon", "")
	require.NoError(t, err)
	assert.True(t, updated.Extracted)
	assert.Equal(t, "EUR", updated.Currency, "empty currency keeps the stored default")

	best, err := svc.AutoAssign(ctx, txns[0].ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, best.Receipt.ID)
}

func TestRetryExtraction(t *testing.T) {
	ex := &stubExtractor{err: extract.ErrExtractionFailed}
	svc, st := newTestService(t, WithExtractor(ex))
	ctx := context.Background()

	r, err := svc.IngestReceipt(ctx, "inbox/faded.jpg", []byte("faded"))
	require.NoError(t, err)
	require.False(t, r.Extracted)

	// The backend recovers; the second attempt fills the fields in place.
	ex.err = nil
	ex.result = &extract.Extraction{Amount: 2345, Merchant: "REWE", Currency: "EUR"}

	updated, err := svc.RetryExtraction(ctx, r.ID, []byte("faded"))
	require.NoError(t, err)
	assert.True(t, updated.Extracted)
	assert.Equal(t, int64(2345), updated.Amount)

	got, err := st.GetReceipt(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, got.Extracted)
	assert.Equal(t, "REWE", got.Merchant)
	assert.Equal(t, r.CreatedSeq, got.CreatedSeq, "re-extraction must not change creation order")
}

func TestIngestReceiptUsesCache(t *testing.T) {
	cache, err := extract.NewCache(t.TempDir())
	require.NoError(t, err)
	ex := &stubExtractor{result: &extract.Extraction{Amount: 100, Merchant: "X"}}
	svc, _ := newTestService(t, WithExtractor(ex), WithExtractionCache(cache))
	ctx := context.Background()

	content := []byte("same receipt content")
	_, err = svc.IngestReceipt(ctx, "inbox/a.pdf", content)
	require.NoError(t, err)
	_, err = svc.IngestReceipt(ctx, "inbox/copy-of-a.pdf", content)
	require.NoError(t, err)

	assert.Equal(t, 1, ex.calls, "identical content must be served from the cache")
}

func TestDeleteStatementViaService(t *testing.T) {
	svc, st := newTestService(t)
	stmt := newTestStatement(t, svc)
	ctx := context.Background()

	importRows(t, svc, stmt.ID, []importer.RawRow{rawRow(0, 10, "AMAZON.DE", -4999)})
	txns, err := svc.ListTransactions(ctx, stmt.ID)
	require.NoError(t, err)
	r := ingestExtracted(t, svc, st, 4999, 10, "Amazon")
	require.NoError(t, svc.ManualAssign(ctx, r.ID, txns[0].ID))

	require.NoError(t, svc.DeleteStatement(ctx, stmt.ID))

	_, err = svc.GetStatement(ctx, stmt.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	inbox, err := svc.ListInbox(ctx)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, r.ID, inbox[0].ID)
}

func TestRankCandidatesOrdering(t *testing.T) {
	svc, st := newTestService(t)
	stmt := newTestStatement(t, svc)
	ctx := context.Background()

	importRows(t, svc, stmt.ID, []importer.RawRow{rawRow(0, 10, "AMAZON.DE", -4999)})
	txns, err := svc.ListTransactions(ctx, stmt.ID)
	require.NoError(t, err)

	weaker := ingestExtracted(t, svc, st, 4999, 16, "Amazon")
	stronger := ingestExtracted(t, svc, st, 4999, 10, "Amazon")

	got, err := svc.RankCandidates(ctx, txns[0].ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, stronger.ID, got[0].Receipt.ID)
	assert.Equal(t, weaker.ID, got[1].Receipt.ID)
}
