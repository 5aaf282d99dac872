package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rumor-ml/commons.systems/reconcile/internal/domain"
)

// InsertTransactions inserts a batch of transactions in one database
// transaction, preserving the given order via RowSeq. Fingerprints must be
// unique within the statement; a duplicate aborts the whole batch, so
// callers dedup before inserting.
func (s *Store) InsertTransactions(ctx context.Context, txns []*domain.Transaction, fingerprints []string) error {
	if len(txns) != len(fingerprints) {
		return fmt.Errorf("transactions/fingerprints length mismatch: %d vs %d", len(txns), len(fingerprints))
	}
	if len(txns) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO transactions
				(id, statement_id, row_seq, txn_date, posting_date, description,
				 merchant, amount, currency, amount_base, category, status, notes, fingerprint)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, t := range txns {
			if t.ID == "" {
				t.ID = domain.NewID()
			}
			if t.Status == "" {
				t.Status = domain.TxnOpen
			}
			var posting any
			if !t.PostingDate.IsZero() {
				posting = t.PostingDate.Format(dateLayout)
			}
			_, err := stmt.ExecContext(ctx,
				t.ID, t.StatementID, t.RowSeq, t.Date.Format(dateLayout), posting,
				t.Description, t.Merchant, t.Amount, t.Currency, t.AmountBase,
				t.Category, string(t.Status), t.Notes, fingerprints[i],
			)
			if err != nil {
				return fmt.Errorf("insert transaction row %d: %w", t.RowSeq, err)
			}
		}
		return nil
	})
}

// ListTransactions returns the statement's transactions in source row order.
func (s *Store) ListTransactions(ctx context.Context, statementID string) ([]*domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, statement_id, row_seq, txn_date, posting_date, description,
		       merchant, amount, currency, amount_base, category, status, notes
		FROM transactions WHERE statement_id = ? ORDER BY row_seq`, statementID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", mapErr(err))
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

// GetTransaction loads one transaction by ID.
func (s *Store) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, statement_id, row_seq, txn_date, posting_date, description,
		       merchant, amount, currency, amount_base, category, status, notes
		FROM transactions WHERE id = ?`, id)

	t, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return t, nil
}

// UpdateTransactionStatus sets a transaction's status directly. Used for
// manual and ignored resolutions; matched status is managed by the
// assignment operations. A transaction with receipts still assigned cannot
// leave matched: the receipts have to be unassigned first, so an assigned
// receipt always points at a matched transaction.
func (s *Store) UpdateTransactionStatus(ctx context.Context, id string, status domain.TransactionStatus) error {
	if !domain.ValidateTransactionStatus(status) {
		return fmt.Errorf("invalid transaction status %q", status)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if status != domain.TxnMatched {
			var assigned int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM receipts WHERE assigned_transaction_id = ?`, id).Scan(&assigned)
			if err != nil {
				return fmt.Errorf("count assigned receipts: %w", err)
			}
			if assigned > 0 {
				return fmt.Errorf("transaction %s still has %d assigned receipt(s): %w",
					id, assigned, ErrAssignmentConflict)
			}
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE transactions SET status = ? WHERE id = ?`, string(status), id)
		if err != nil {
			return fmt.Errorf("update transaction status: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// TransactionFingerprints returns the set of fingerprints already stored for
// a statement. The importer consults it to skip duplicate rows on re-import.
func (s *Store) TransactionFingerprints(ctx context.Context, statementID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fingerprint FROM transactions WHERE statement_id = ?`, statementID)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", mapErr(err))
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		seen[fp] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return seen, nil
}

// ListTransactionStatuses returns just the statuses of a statement's
// transactions, enough to derive the statement's completion state without
// loading full rows.
func (s *Store) ListTransactionStatuses(ctx context.Context, statementID string) ([]domain.TransactionStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status FROM transactions WHERE statement_id = ?`, statementID)
	if err != nil {
		return nil, fmt.Errorf("list transaction statuses: %w", mapErr(err))
	}
	defer rows.Close()

	var out []domain.TransactionStatus
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		out = append(out, domain.TransactionStatus(st))
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var t domain.Transaction
	var txnDate string
	var posting sql.NullString
	var status string
	err := row.Scan(&t.ID, &t.StatementID, &t.RowSeq, &txnDate, &posting,
		&t.Description, &t.Merchant, &t.Amount, &t.Currency, &t.AmountBase,
		&t.Category, &status, &t.Notes)
	if err != nil {
		return nil, mapErr(err)
	}

	t.Status = domain.TransactionStatus(status)
	if t.Date, err = time.Parse(dateLayout, txnDate); err != nil {
		return nil, fmt.Errorf("transaction %s: bad date %q: %w", t.ID, txnDate, err)
	}
	if posting.Valid && posting.String != "" {
		if t.PostingDate, err = time.Parse(dateLayout, posting.String); err != nil {
			return nil, fmt.Errorf("transaction %s: bad posting date %q: %w", t.ID, posting.String, err)
		}
	}
	return &t, nil
}
