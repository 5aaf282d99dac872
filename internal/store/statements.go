package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rumor-ml/commons.systems/reconcile/internal/domain"
)

const dateLayout = "2006-01-02"

// CreateStatement inserts a new statement.
func (s *Store) CreateStatement(ctx context.Context, st *domain.Statement) error {
	if st.ID == "" {
		st.ID = domain.NewID()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statements (id, account_id, period_year, period_month, period_label, total_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.AccountID, st.Period.Year, int(st.Period.Month), st.Period.Label,
		st.TotalAmount, st.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert statement: %w", mapErr(err))
	}
	return nil
}

// GetStatement loads one statement by ID.
func (s *Store) GetStatement(ctx context.Context, id string) (*domain.Statement, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, period_year, period_month, period_label, total_amount, created_at
		FROM statements WHERE id = ?`, id)

	var st domain.Statement
	var month int
	var created string
	if err := row.Scan(&st.ID, &st.AccountID, &st.Period.Year, &month, &st.Period.Label, &st.TotalAmount, &created); err != nil {
		return nil, fmt.Errorf("get statement %s: %w", id, mapErr(err))
	}
	st.Period.Month = time.Month(month)
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		st.CreatedAt = t
	}
	return &st, nil
}

// DeleteStatement removes a statement. Its transactions cascade away and
// any receipts assigned to them return to the inbox (unassigned, with
// confidence and kind cleared) in the same transaction; receipts are never
// deleted with their statement.
func (s *Store) DeleteStatement(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE receipts
			SET assigned_transaction_id = NULL, confidence = NULL, match_kind = NULL
			WHERE assigned_transaction_id IN (SELECT id FROM transactions WHERE statement_id = ?)`, id)
		if err != nil {
			return fmt.Errorf("orphan receipts: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM statements WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete statement: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("statement %s: %w", id, ErrNotFound)
		}
		return nil
	})
}
