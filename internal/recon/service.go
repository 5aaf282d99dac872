// Package recon wires the reconciliation workflow together: statement
// import, receipt ingestion, candidate ranking, assignment, and the
// auto-matching sweep. All mutations run through the contention retry layer.
package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rumor-ml/commons.systems/reconcile/internal/category"
	"github.com/rumor-ml/commons.systems/reconcile/internal/domain"
	"github.com/rumor-ml/commons.systems/reconcile/internal/extract"
	"github.com/rumor-ml/commons.systems/reconcile/internal/importer"
	"github.com/rumor-ml/commons.systems/reconcile/internal/match"
	"github.com/rumor-ml/commons.systems/reconcile/internal/retry"
	"github.com/rumor-ml/commons.systems/reconcile/internal/status"
	"github.com/rumor-ml/commons.systems/reconcile/internal/store"
)

// Service is the reconciliation façade used by the CLI.
type Service struct {
	store     *store.Store
	importer  *importer.Importer
	extractor extract.Extractor
	cache     *extract.Cache
	rules     *category.Engine
	retryCfg  retry.Config
	threshold float64
}

// Option configures a Service.
type Option func(*Service)

// WithExtractor sets the receipt extraction backend. Without one,
// IngestReceipt stores receipts unextracted.
func WithExtractor(e extract.Extractor) Option {
	return func(s *Service) { s.extractor = e }
}

// WithExtractionCache sets the content-addressed extraction cache.
func WithExtractionCache(c *extract.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithRules sets the categorization rules engine.
func WithRules(e *category.Engine) Option {
	return func(s *Service) { s.rules = e }
}

// WithThreshold overrides the minimum score for offered and automatic
// matches.
func WithThreshold(t float64) Option {
	return func(s *Service) { s.threshold = t }
}

// WithRetryConfig overrides the write-conflict retry policy.
func WithRetryConfig(cfg retry.Config) Option {
	return func(s *Service) { s.retryCfg = cfg }
}

// New creates a service over the given store.
func New(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		importer:  importer.New(st),
		retryCfg:  retry.DefaultConfig,
		threshold: match.DefaultThreshold,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateStatement creates a statement for the given account and period.
func (s *Service) CreateStatement(ctx context.Context, accountID string, period domain.BillingPeriod) (*domain.Statement, error) {
	st := &domain.Statement{AccountID: accountID, Period: period}
	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.CreateStatement(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// GetStatement loads a statement by ID.
func (s *Service) GetStatement(ctx context.Context, id string) (*domain.Statement, error) {
	return s.store.GetStatement(ctx, id)
}

// DeleteStatement removes a statement, returning its assigned receipts to
// the inbox.
func (s *Service) DeleteStatement(ctx context.Context, id string) error {
	return retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.DeleteStatement(ctx, id)
	})
}

// ImportBatch imports decoded rows into a statement, suggesting categories
// when a rules engine is configured. Re-importing the same rows is a no-op.
func (s *Service) ImportBatch(ctx context.Context, statementID string, rows []importer.RawRow) (*importer.Result, error) {
	st, err := s.store.GetStatement(ctx, statementID)
	if err != nil {
		return nil, err
	}

	if s.rules != nil {
		for i := range rows {
			if rows[i].Category == "" {
				if cat, ok := s.rules.Suggest(rows[i].Description); ok {
					rows[i].Category = cat
				}
			}
		}
	}

	var res *importer.Result
	err = retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		var ierr error
		res, ierr = s.importer.Import(ctx, st, rows)
		return ierr
	})
	return res, err
}

// IngestReceipt registers a receipt document. When an extractor is
// configured its fields are extracted (served from cache when the same
// content was seen before); extraction failure still stores the receipt,
// manual-assign-only. An unreachable backend aborts the ingest so the
// caller can retry later.
func (s *Service) IngestReceipt(ctx context.Context, sourceRef string, content []byte) (*domain.Receipt, error) {
	r := &domain.Receipt{SourceRef: sourceRef, Currency: "EUR"}

	if s.extractor != nil {
		ex, err := s.extractData(ctx, content)
		switch {
		case err == nil:
			r.Extracted = true
			r.Amount = ex.Amount
			r.Date = ex.Date
			r.Merchant = ex.Merchant
			if ex.Currency != "" {
				r.Currency = ex.Currency
			}
		case errors.Is(err, extract.ErrExtractionFailed):
			// Stored anyway; the user can assign it by hand.
		default:
			return nil, fmt.Errorf("extract receipt %s: %w", sourceRef, err)
		}
	}

	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.CreateReceipt(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// RetryExtraction re-runs extraction for a stored receipt whose first
// attempt failed, typically after the backend came back or the rules
// improved. A still-failing extraction leaves the receipt untouched.
func (s *Service) RetryExtraction(ctx context.Context, receiptID string, content []byte) (*domain.Receipt, error) {
	if s.extractor == nil {
		return nil, errors.New("no extractor configured")
	}
	r, err := s.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}

	ex, err := s.extractData(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("extract receipt %s: %w", r.SourceRef, err)
	}

	r.Extracted = true
	r.Amount = ex.Amount
	r.Date = ex.Date
	r.Merchant = ex.Merchant
	if ex.Currency != "" {
		r.Currency = ex.Currency
	}
	err = retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.UpdateReceiptExtraction(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SetReceiptFields records hand-entered receipt data, making the receipt
// scorable without any extraction backend. An empty currency keeps the
// stored one.
func (s *Service) SetReceiptFields(ctx context.Context, receiptID string, amount int64, date time.Time, merchant, currency string) (*domain.Receipt, error) {
	r, err := s.store.GetReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}

	r.Extracted = true
	r.Amount = amount
	r.Date = date
	r.Merchant = merchant
	if currency != "" {
		r.Currency = currency
	}
	err = retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.UpdateReceiptExtraction(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) extractData(ctx context.Context, content []byte) (*extract.Extraction, error) {
	if s.cache != nil {
		if ex, ok := s.cache.Get(content); ok {
			return ex, nil
		}
	}
	ex, err := s.extractor.Extract(ctx, content)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Put(content, ex); err != nil {
			return nil, fmt.Errorf("cache extraction: %w", err)
		}
	}
	return ex, nil
}

// RankCandidates scores all inbox receipts against a transaction and
// returns those at or above the threshold, best first.
func (s *Service) RankCandidates(ctx context.Context, transactionID string) ([]match.Candidate, error) {
	t, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	receipts, err := s.store.ListUnassignedReceipts(ctx)
	if err != nil {
		return nil, err
	}
	return match.Rank(t, receipts, s.threshold), nil
}

// AutoAssign assigns the best-scoring inbox receipt to the transaction.
// Returns ErrNoCandidate when nothing reaches the threshold.
var ErrNoCandidate = errors.New("no receipt candidate above threshold")

func (s *Service) AutoAssign(ctx context.Context, transactionID string) (*match.Candidate, error) {
	candidates, err := s.RankCandidates(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidate
	}

	best := candidates[0]
	err = retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.AssignReceipt(ctx, best.Receipt.ID, transactionID, best.Score, domain.MatchAuto)
	})
	if err != nil {
		return nil, err
	}
	return &best, nil
}

// ManualAssign links a specific receipt to a transaction regardless of
// score. The recorded confidence is 1: a human vouched for it.
func (s *Service) ManualAssign(ctx context.Context, receiptID, transactionID string) error {
	return retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.AssignReceipt(ctx, receiptID, transactionID, 1, domain.MatchManual)
	})
}

// Unassign returns a receipt to the inbox.
func (s *Service) Unassign(ctx context.Context, receiptID string) error {
	return retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.UnassignReceipt(ctx, receiptID)
	})
}

// SweepOutcome records what happened to one transaction during a sweep.
type SweepOutcome struct {
	TransactionID string
	ReceiptID     string
	Score         float64
	Err           error
}

// Assigned reports whether the sweep matched this transaction.
func (o SweepOutcome) Assigned() bool {
	return o.Err == nil && o.ReceiptID != ""
}

// SweepStatement auto-assigns receipts to every open transaction of a
// statement. Each assignment commits independently, so one failure never
// rolls back earlier matches; work already committed stays committed when
// the context is cancelled mid-sweep. Receipts matched earlier in the sweep
// are not offered again.
func (s *Service) SweepStatement(ctx context.Context, statementID string) ([]SweepOutcome, error) {
	if _, err := s.store.GetStatement(ctx, statementID); err != nil {
		return nil, err
	}
	txns, err := s.store.ListTransactions(ctx, statementID)
	if err != nil {
		return nil, err
	}
	receipts, err := s.store.ListUnassignedReceipts(ctx)
	if err != nil {
		return nil, err
	}

	pool := make([]*domain.Receipt, len(receipts))
	copy(pool, receipts)

	var outcomes []SweepOutcome
	for _, t := range txns {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		if t.Status != domain.TxnOpen {
			continue
		}

		candidates := match.Rank(t, pool, s.threshold)
		if len(candidates) == 0 {
			outcomes = append(outcomes, SweepOutcome{TransactionID: t.ID})
			continue
		}

		best := candidates[0]
		err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
			return s.store.AssignReceipt(ctx, best.Receipt.ID, t.ID, best.Score, domain.MatchAuto)
		})
		if err != nil {
			outcomes = append(outcomes, SweepOutcome{TransactionID: t.ID, Err: err})
			continue
		}

		outcomes = append(outcomes, SweepOutcome{
			TransactionID: t.ID,
			ReceiptID:     best.Receipt.ID,
			Score:         best.Score,
		})
		pool = removeReceipt(pool, best.Receipt.ID)
	}
	return outcomes, nil
}

func removeReceipt(pool []*domain.Receipt, id string) []*domain.Receipt {
	for i, r := range pool {
		if r.ID == id {
			return append(pool[:i], pool[i+1:]...)
		}
	}
	return pool
}

// ListTransactions returns a statement's transactions in source order.
func (s *Service) ListTransactions(ctx context.Context, statementID string) ([]*domain.Transaction, error) {
	return s.store.ListTransactions(ctx, statementID)
}

// ListInbox returns all unassigned receipts in creation order.
func (s *Service) ListInbox(ctx context.Context) ([]*domain.Receipt, error) {
	return s.store.ListUnassignedReceipts(ctx)
}

// StatementStatus derives the statement's completion state from its
// transactions.
func (s *Service) StatementStatus(ctx context.Context, statementID string) (domain.StatementStatus, error) {
	if _, err := s.store.GetStatement(ctx, statementID); err != nil {
		return "", err
	}
	statuses, err := s.store.ListTransactionStatuses(ctx, statementID)
	if err != nil {
		return "", err
	}
	return status.Derive(statuses), nil
}

// SetTransactionStatus resolves a transaction by hand (manual, ignored) or
// reopens it.
func (s *Service) SetTransactionStatus(ctx context.Context, transactionID string, st domain.TransactionStatus) error {
	return retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.store.UpdateTransactionStatus(ctx, transactionID, st)
	})
}
