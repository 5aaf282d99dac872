// Package status derives a statement's completion state from the statuses
// of its transactions. The result is never persisted.
package status

import "github.com/rumor-ml/commons.systems/reconcile/internal/domain"

// Derive computes the statement status. Every transaction resolved
// (matched, manual, or ignored) means completed; none resolved means open;
// anything in between is in progress. A statement with no transactions is
// completed, since nothing remains to reconcile.
func Derive(statuses []domain.TransactionStatus) domain.StatementStatus {
	if len(statuses) == 0 {
		return domain.StatementCompleted
	}

	resolved := 0
	for _, s := range statuses {
		switch s {
		case domain.TxnMatched, domain.TxnManual, domain.TxnIgnored:
			resolved++
		}
	}

	switch resolved {
	case 0:
		return domain.StatementOpen
	case len(statuses):
		return domain.StatementCompleted
	default:
		return domain.StatementInProgress
	}
}
