package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rumor-ml/commons.systems/reconcile/internal/domain"
)

// CreateReceipt inserts a new unassigned receipt and fills in its creation
// sequence number. The sequence comes from SQLite's rowid, so creation order
// is total and stable for matcher tie-breaking.
func (s *Store) CreateReceipt(ctx context.Context, r *domain.Receipt) error {
	if r.ID == "" {
		r.ID = domain.NewID()
	}

	var date any
	if !r.Date.IsZero() {
		date = r.Date.Format(dateLayout)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO receipts (id, source_ref, extracted, amount, receipt_date, merchant, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SourceRef, r.Extracted, r.Amount, date, r.Merchant, r.Currency,
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", mapErr(err))
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("receipt sequence: %w", err)
	}
	r.CreatedSeq = seq
	return nil
}

// GetReceipt loads one receipt by ID.
func (s *Store) GetReceipt(ctx context.Context, id string) (*domain.Receipt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, rowid, assigned_transaction_id, source_ref, extracted,
		       amount, receipt_date, merchant, currency, confidence, match_kind
		FROM receipts WHERE id = ?`, id)

	r, err := scanReceipt(row)
	if err != nil {
		return nil, fmt.Errorf("get receipt %s: %w", id, err)
	}
	return r, nil
}

// ListUnassignedReceipts returns the inbox: receipts with no live
// assignment, in creation order.
func (s *Store) ListUnassignedReceipts(ctx context.Context) ([]*domain.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rowid, assigned_transaction_id, source_ref, extracted,
		       amount, receipt_date, merchant, currency, confidence, match_kind
		FROM receipts WHERE assigned_transaction_id IS NULL ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list unassigned receipts: %w", mapErr(err))
	}
	defer rows.Close()

	var out []*domain.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

// AssignReceipt atomically links a receipt to a transaction and marks the
// transaction matched. Fails with ErrAssignmentConflict when the receipt is
// already assigned elsewhere or the transaction was resolved by hand, and
// with ErrNotFound when either side is missing. The receipt's confidence and
// kind are recorded alongside the link.
func (s *Store) AssignReceipt(ctx context.Context, receiptID, transactionID string, confidence float64, kind domain.MatchKind) error {
	if !domain.ValidateMatchKind(kind) {
		return fmt.Errorf("invalid match kind %q", kind)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var assigned sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT assigned_transaction_id FROM receipts WHERE id = ?`, receiptID).Scan(&assigned)
		if err != nil {
			return fmt.Errorf("receipt %s: %w", receiptID, mapErr(err))
		}
		if assigned.Valid && assigned.String != "" {
			if assigned.String == transactionID {
				return fmt.Errorf("receipt %s already assigned to transaction %s: %w",
					receiptID, transactionID, ErrAssignmentConflict)
			}
			return fmt.Errorf("receipt %s assigned elsewhere: %w", receiptID, ErrAssignmentConflict)
		}

		var status string
		err = tx.QueryRowContext(ctx,
			`SELECT status FROM transactions WHERE id = ?`, transactionID).Scan(&status)
		if err != nil {
			return fmt.Errorf("transaction %s: %w", transactionID, mapErr(err))
		}
		// Only open and matched transactions accept receipts; manual and
		// ignored resolutions must be reopened before attaching one, so an
		// assigned receipt always points at a matched transaction.
		switch domain.TransactionStatus(status) {
		case domain.TxnOpen, domain.TxnMatched:
		default:
			return fmt.Errorf("transaction %s resolved as %s: %w",
				transactionID, status, ErrAssignmentConflict)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE receipts
			SET assigned_transaction_id = ?, confidence = ?, match_kind = ?
			WHERE id = ?`,
			transactionID, confidence, string(kind), receiptID)
		if err != nil {
			return fmt.Errorf("assign receipt: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE transactions SET status = ? WHERE id = ?`,
			string(domain.TxnMatched), transactionID)
		if err != nil {
			return fmt.Errorf("mark transaction matched: %w", err)
		}
		return nil
	})
}

// UnassignReceipt atomically detaches a receipt from its transaction. The
// transaction reverts to open only when no other receipt still supports it.
// Fails with ErrAssignmentConflict when the receipt is not assigned.
func (s *Store) UnassignReceipt(ctx context.Context, receiptID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var assigned sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT assigned_transaction_id FROM receipts WHERE id = ?`, receiptID).Scan(&assigned)
		if err != nil {
			return fmt.Errorf("receipt %s: %w", receiptID, mapErr(err))
		}
		if !assigned.Valid || assigned.String == "" {
			return fmt.Errorf("receipt %s is not assigned: %w", receiptID, ErrAssignmentConflict)
		}
		transactionID := assigned.String

		_, err = tx.ExecContext(ctx, `
			UPDATE receipts
			SET assigned_transaction_id = NULL, confidence = NULL, match_kind = NULL
			WHERE id = ?`, receiptID)
		if err != nil {
			return fmt.Errorf("unassign receipt: %w", err)
		}

		var remaining int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM receipts WHERE assigned_transaction_id = ?`,
			transactionID).Scan(&remaining)
		if err != nil {
			return fmt.Errorf("count remaining receipts: %w", err)
		}
		if remaining == 0 {
			_, err = tx.ExecContext(ctx, `
				UPDATE transactions SET status = ? WHERE id = ? AND status = ?`,
				string(domain.TxnOpen), transactionID, string(domain.TxnMatched))
			if err != nil {
				return fmt.Errorf("reopen transaction: %w", err)
			}
		}
		return nil
	})
}

// UpdateReceiptExtraction stores the result of a successful extraction on an
// existing receipt.
func (s *Store) UpdateReceiptExtraction(ctx context.Context, r *domain.Receipt) error {
	var date any
	if !r.Date.IsZero() {
		date = r.Date.Format(dateLayout)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE receipts SET extracted = ?, amount = ?, receipt_date = ?, merchant = ?, currency = ?
		WHERE id = ?`,
		r.Extracted, r.Amount, date, r.Merchant, r.Currency, r.ID)
	if err != nil {
		return fmt.Errorf("update receipt extraction: %w", mapErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("receipt %s: %w", r.ID, ErrNotFound)
	}
	return nil
}

func scanReceipt(row rowScanner) (*domain.Receipt, error) {
	var r domain.Receipt
	var assigned, date, kind sql.NullString
	var confidence sql.NullFloat64
	err := row.Scan(&r.ID, &r.CreatedSeq, &assigned, &r.SourceRef, &r.Extracted,
		&r.Amount, &date, &r.Merchant, &r.Currency, &confidence, &kind)
	if err != nil {
		return nil, mapErr(err)
	}

	if assigned.Valid {
		r.AssignedTransactionID = assigned.String
	}
	if date.Valid && date.String != "" {
		t, err := time.Parse(dateLayout, date.String)
		if err != nil {
			return nil, fmt.Errorf("receipt %s: bad date %q: %w", r.ID, date.String, err)
		}
		r.Date = t
	}
	if confidence.Valid {
		c := confidence.Float64
		r.Confidence = &c
	}
	if kind.Valid {
		r.Kind = domain.MatchKind(kind.String)
	}
	return &r, nil
}
