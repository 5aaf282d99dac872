// reconcile - credit card statement reconciliation CLI
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rumor-ml/commons.systems/reconcile/internal/category"
	"github.com/rumor-ml/commons.systems/reconcile/internal/domain"
	"github.com/rumor-ml/commons.systems/reconcile/internal/importer"
	"github.com/rumor-ml/commons.systems/reconcile/internal/match"
	"github.com/rumor-ml/commons.systems/reconcile/internal/profile"
	"github.com/rumor-ml/commons.systems/reconcile/internal/recon"
	"github.com/rumor-ml/commons.systems/reconcile/internal/scanner"
	"github.com/rumor-ml/commons.systems/reconcile/internal/store"
	"github.com/rumor-ml/commons.systems/reconcile/internal/ui"
)

const version = "0.1.0"

func usage() {
	fmt.Fprint(os.Stderr, `reconcile - credit card statement reconciliation

Usage:
  reconcile <command> [flags]

Commands:
  create     Create a statement for a billing period
  import     Import a statement export (CSV or OFX) into a statement
  inbox      Ingest receipt documents from a directory into the inbox
  edit       Record a receipt's amount, date and merchant by hand
  sweep      Auto-match inbox receipts against a statement
  status     Show a statement's transactions and derived status
  assign     Manually assign a receipt to a transaction
  unassign   Return a receipt to the inbox
  resolve    Mark a transaction manual/ignored/open
  delete     Delete a statement, returning its receipts to the inbox
  version    Show version

Examples:
  reconcile create -db ledger.db -account acc-amex-2011 -period "Dezember 2025"
  reconcile import -db ledger.db -statement <id> -input export.csv
  reconcile sweep -db ledger.db -statement <id> -threshold 0.5

`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "create":
		err = cmdCreate(ctx, os.Args[2:])
	case "import":
		err = cmdImport(ctx, os.Args[2:])
	case "inbox":
		err = cmdInbox(ctx, os.Args[2:])
	case "edit":
		err = cmdEdit(ctx, os.Args[2:])
	case "sweep":
		err = cmdSweep(ctx, os.Args[2:])
	case "status":
		err = cmdStatus(ctx, os.Args[2:])
	case "assign":
		err = cmdAssign(ctx, os.Args[2:])
	case "unassign":
		err = cmdUnassign(ctx, os.Args[2:])
	case "resolve":
		err = cmdResolve(ctx, os.Args[2:])
	case "delete":
		err = cmdDelete(ctx, os.Args[2:])
	case "version":
		fmt.Printf("reconcile version %s\n", version)
	case "-h", "-help", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		ui.Error("%v", err)
		os.Exit(1)
	}
}

// openService opens the store and builds the service with embedded rules.
func openService(dbPath string, opts ...recon.Option) (*recon.Service, *store.Store, error) {
	if dbPath == "" {
		return nil, nil, errors.New("-db flag is required")
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	rules, err := category.LoadEmbedded()
	if err != nil {
		st.Close()
		return nil, nil, err
	}
	opts = append([]recon.Option{recon.WithRules(rules)}, opts...)
	return recon.New(st, opts...), st, nil
}

func cmdCreate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database file (required)")
	account := fs.String("account", "", "Account identifier (required)")
	periodLabel := fs.String("period", "", `Billing period label, e.g. "Dezember 2025" (required)`)
	fs.Parse(args)

	if *account == "" || *periodLabel == "" {
		return errors.New("-account and -period flags are required")
	}
	period, err := domain.ParsePeriodLabel(*periodLabel)
	if err != nil {
		return err
	}

	svc, st, err := openService(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	stmt, err := svc.CreateStatement(ctx, *account, period)
	if err != nil {
		return err
	}
	ui.Success("Created statement %s for %s", stmt.ID, stmt.Period.Label)
	return nil
}

func cmdImport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database file (required)")
	statementID := fs.String("statement", "", "Statement ID (required)")
	input := fs.String("input", "", "Statement export file (required)")
	profileName := fs.String("profile", "", "Format profile name (default: auto-detect)")
	profileFile := fs.String("profiles", "", "Extra format profiles YAML file")
	dryRun := fs.Bool("dry-run", false, "Decode and validate without writing")
	verbose := fs.Bool("verbose", false, "Show per-row rejection details")
	fs.Parse(args)

	if *statementID == "" || *input == "" {
		return errors.New("-statement and -input flags are required")
	}

	content, err := os.ReadFile(*input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	var rows []importer.RawRow
	var rowErrs []importer.RowError
	if importer.IsOFX(*input, content) {
		rows, rowErrs, err = importer.DecodeOFX(bytes.NewReader(content))
	} else {
		var set *profile.Set
		if *profileFile != "" {
			set, err = profile.LoadFromFile(*profileFile)
		} else {
			set, err = profile.LoadEmbedded()
		}
		if err != nil {
			return err
		}

		var p *profile.Profile
		if *profileName != "" {
			p, err = set.Get(*profileName)
			if err != nil {
				return err
			}
		} else if p = set.Detect(content); p == nil {
			return errors.New("could not detect format profile; pass -profile")
		}
		ui.Info("Using format profile %s", ui.BlueText("%s", p.Name))
		rows, rowErrs, err = importer.DecodeCSV(bytes.NewReader(content), p)
	}
	if err != nil {
		return err
	}

	for _, re := range rowErrs {
		if *verbose {
			ui.Warning("skipped row %d: %s", re.Seq, re.Reason)
		}
	}
	ui.Info("Decoded %d rows (%d skipped)", len(rows), len(rowErrs))

	if *dryRun {
		ui.Success("Dry run, nothing written")
		return nil
	}

	svc, st, err := openService(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := svc.ImportBatch(ctx, *statementID, rows)
	if err != nil {
		return err
	}

	ui.Success("Imported %d transactions (%d duplicates skipped, %d dates corrected, %d rejected)",
		res.Inserted, res.SkippedDuplicates, res.DateCorrections, len(res.Rejected))
	if *verbose {
		for _, re := range res.Rejected {
			ui.Warning("rejected row %d: %s", re.Seq, re.Reason)
		}
	}
	return nil
}

func cmdInbox(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("inbox", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database file (required)")
	input := fs.String("input", "", "Receipt inbox directory (required)")
	fs.Parse(args)

	if *input == "" {
		return errors.New("-input flag is required")
	}

	svc, st, err := openService(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	files, err := scanner.New(*input).Scan()
	if err != nil {
		return err
	}
	ui.Info("Found %d receipt files", len(files))

	ingested := 0
	for _, f := range files {
		content, err := os.ReadFile(f.Path)
		if err != nil {
			ui.Warning("read %s: %v", f.Path, err)
			continue
		}
		if _, err := svc.IngestReceipt(ctx, f.Path, content); err != nil {
			ui.Warning("ingest %s: %v", f.Path, err)
			continue
		}
		ingested++
	}
	ui.Success("Ingested %d receipts", ingested)
	return nil
}

func cmdEdit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("edit", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database file (required)")
	receiptID := fs.String("receipt", "", "Receipt ID (required)")
	amountStr := fs.String("amount", "", `Amount, e.g. "-23.45" (required)`)
	dateStr := fs.String("date", "", "Receipt date YYYY-MM-DD (required)")
	merchant := fs.String("merchant", "", "Merchant name (required)")
	currency := fs.String("currency", "", "Currency code (default: keep stored)")
	fs.Parse(args)

	if *receiptID == "" || *amountStr == "" || *dateStr == "" || *merchant == "" {
		return errors.New("-receipt, -amount, -date and -merchant flags are required")
	}
	amount, err := domain.ParseAmount(*amountStr, ".", ",")
	if err != nil {
		return err
	}
	date, err := time.Parse("2006-01-02", *dateStr)
	if err != nil {
		return fmt.Errorf("bad -date %q: %w", *dateStr, err)
	}

	svc, st, err := openService(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	r, err := svc.SetReceiptFields(ctx, *receiptID, amount, date, *merchant, *currency)
	if err != nil {
		return err
	}
	ui.Success("Receipt %s: %s %s at %s", r.ID, domain.FormatAmount(r.Amount), r.Currency, r.Merchant)
	return nil
}

func cmdSweep(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sweep", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database file (required)")
	statementID := fs.String("statement", "", "Statement ID (required)")
	threshold := fs.Float64("threshold", match.DefaultThreshold, "Minimum match score")
	fs.Parse(args)

	if *statementID == "" {
		return errors.New("-statement flag is required")
	}

	svc, st, err := openService(*dbPath, recon.WithThreshold(*threshold))
	if err != nil {
		return err
	}
	defer st.Close()

	outcomes, err := svc.SweepStatement(ctx, *statementID)
	assigned := 0
	for _, o := range outcomes {
		switch {
		case o.Assigned():
			assigned++
			ui.Success("matched %s -> receipt %s (score %.2f)", o.TransactionID, o.ReceiptID, o.Score)
		case o.Err != nil:
			ui.Warning("transaction %s: %v", o.TransactionID, o.Err)
		}
	}
	ui.Info("Swept %d transactions, %d matched", len(outcomes), assigned)
	return err
}

func cmdStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database file (required)")
	statementID := fs.String("statement", "", "Statement ID (required)")
	fs.Parse(args)

	if *statementID == "" {
		return errors.New("-statement flag is required")
	}

	svc, st, err := openService(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	stmt, err := svc.GetStatement(ctx, *statementID)
	if err != nil {
		return err
	}
	derived, err := svc.StatementStatus(ctx, *statementID)
	if err != nil {
		return err
	}
	txns, err := svc.ListTransactions(ctx, *statementID)
	if err != nil {
		return err
	}

	ui.Header(fmt.Sprintf("Statement %s", stmt.Period.Label))
	ui.Info("Status: %s", ui.YellowText("%s", string(derived)))
	for _, t := range txns {
		ui.Info("%s  %s  %10s  %-10s  %s",
			t.ID, t.Date.Format("2006-01-02"), domain.FormatAmount(t.Amount), t.Status, t.Description)
	}
	return nil
}

func cmdAssign(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("assign", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database file (required)")
	receiptID := fs.String("receipt", "", "Receipt ID (required)")
	transactionID := fs.String("transaction", "", "Transaction ID (required)")
	fs.Parse(args)

	if *receiptID == "" || *transactionID == "" {
		return errors.New("-receipt and -transaction flags are required")
	}

	svc, st, err := openService(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := svc.ManualAssign(ctx, *receiptID, *transactionID); err != nil {
		return err
	}
	ui.Success("Assigned receipt %s to transaction %s", *receiptID, *transactionID)
	return nil
}

func cmdUnassign(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("unassign", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database file (required)")
	receiptID := fs.String("receipt", "", "Receipt ID (required)")
	fs.Parse(args)

	if *receiptID == "" {
		return errors.New("-receipt flag is required")
	}

	svc, st, err := openService(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := svc.Unassign(ctx, *receiptID); err != nil {
		return err
	}
	ui.Success("Receipt %s returned to inbox", *receiptID)
	return nil
}

func cmdResolve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database file (required)")
	transactionID := fs.String("transaction", "", "Transaction ID (required)")
	statusFlag := fs.String("status", "", "New status: open, manual, or ignored (required)")
	fs.Parse(args)

	if *transactionID == "" || *statusFlag == "" {
		return errors.New("-transaction and -status flags are required")
	}
	newStatus := domain.TransactionStatus(*statusFlag)
	switch newStatus {
	case domain.TxnOpen, domain.TxnManual, domain.TxnIgnored:
	default:
		return fmt.Errorf("status must be open, manual, or ignored, got %q", *statusFlag)
	}

	svc, st, err := openService(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := svc.SetTransactionStatus(ctx, *transactionID, newStatus); err != nil {
		return err
	}
	ui.Success("Transaction %s marked %s", *transactionID, newStatus)
	return nil
}

func cmdDelete(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	dbPath := fs.String("db", "", "Database file (required)")
	statementID := fs.String("statement", "", "Statement ID (required)")
	fs.Parse(args)

	if *statementID == "" {
		return errors.New("-statement flag is required")
	}

	svc, st, err := openService(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := svc.DeleteStatement(ctx, *statementID); err != nil {
		return err
	}
	ui.Success("Deleted statement %s; assigned receipts returned to inbox", *statementID)
	return nil
}
