package importer

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"github.com/aclindsa/ofxgo"
)

// IsOFX reports whether a file looks like an OFX/QFX export, by extension
// and header markers (v1 SGML and v2 XML).
func IsOFX(path string, header []byte) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".ofx" && ext != ".qfx" {
		return false
	}
	upper := strings.ToUpper(string(header))
	return strings.Contains(upper, "OFXHEADER") ||
		strings.Contains(upper, "<?OFX") ||
		strings.Contains(upper, "<OFX>")
}

// DecodeOFX decodes an OFX/QFX export into raw rows. Credit card and bank
// statements are supported; sign convention in OFX already matches ours
// (spend negative), so no normalization is applied.
func DecodeOFX(r io.Reader) ([]RawRow, []RowError, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read ofx content: %w", err)
	}

	resp, err := ofxgo.ParseResponse(bytes.NewReader(content))
	if err != nil {
		return nil, nil, fmt.Errorf("parse ofx (%d bytes): %w", len(content), err)
	}

	var tranList *ofxgo.TransactionList
	var currency string
	switch {
	case len(resp.CreditCard) > 0:
		cc, ok := resp.CreditCard[0].(*ofxgo.CCStatementResponse)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected credit card statement type %T", resp.CreditCard[0])
		}
		tranList = cc.BankTranList
		currency = cc.CurDef.String()
	case len(resp.Bank) > 0:
		bank, ok := resp.Bank[0].(*ofxgo.StatementResponse)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected bank statement type %T", resp.Bank[0])
		}
		tranList = bank.BankTranList
		currency = bank.CurDef.String()
	default:
		return nil, nil, fmt.Errorf("no credit card or bank statement in ofx file (creditcard: %d, bank: %d)",
			len(resp.CreditCard), len(resp.Bank))
	}

	if tranList == nil {
		return nil, nil, fmt.Errorf("ofx statement has no transaction list")
	}

	var rows []RawRow
	var rowErrs []RowError
	for i, txn := range tranList.Transactions {
		date := txn.DtPosted.Time
		if date.IsZero() {
			date = txn.DtUser.Time
		}
		if date.IsZero() {
			rowErrs = append(rowErrs, RowError{Seq: i, Reason: "transaction has neither posted nor user date"})
			continue
		}

		description := strings.TrimSpace(txn.Name.String())
		if description == "" {
			description = strings.TrimSpace(txn.Memo.String())
		}
		if description == "" {
			rowErrs = append(rowErrs, RowError{Seq: i, Reason: "transaction has neither name nor memo"})
			continue
		}

		amount, _ := txn.TrnAmt.Float64()
		rows = append(rows, RawRow{
			Seq:         i,
			Date:        date,
			Description: description,
			Amount:      int64(math.Round(amount * 100)),
			Currency:    currency,
		})
	}

	return rows, rowErrs, nil
}
