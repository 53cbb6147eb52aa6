// Command import reconciles one workbook sheet into an account's ledger
// from the command line. Re-running it for the same sheet replaces the
// prior upload instead of appending.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mcclellann/fredYield/pkg/ledger"
	"github.com/mcclellann/fredYield/pkg/logger"
	"github.com/mcclellann/fredYield/pkg/store"
	"github.com/mcclellann/fredYield/pkg/xlsximport"
)

func main() {
	var (
		dbPath     = flag.String("db", "fredyield.db", "path to the SQLite database")
		filePath   = flag.String("file", "", "workbook to import (required)")
		sheet      = flag.String("sheet", "", "sheet name, defaults to the first sheet")
		accountKey = flag.String("account", "", "account key: owner email or account number (required)")
		source     = flag.String("source", "", "source identity override, defaults to file|sheet|account")
		autoCreate = flag.Bool("auto-create", true, "create the account if the key is an unknown email")
	)
	flag.Parse()

	log := logger.New()
	if *filePath == "" || *accountKey == "" {
		flag.Usage()
		os.Exit(2)
	}

	f, err := os.Open(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open workbook")
	}
	defer f.Close()

	rows, sheetName, err := xlsximport.ReadRows(f, *sheet)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read workbook")
	}
	if len(rows) == 0 {
		log.Fatal().Str("sheet", sheetName).Msg("sheet has no data rows")
	}

	sourceIdentity := *source
	if sourceIdentity == "" {
		sourceIdentity = xlsximport.SourceIdentity(*filePath, sheetName, *accountKey)
	}

	s, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer s.Close()

	engine := ledger.NewEngine(s, ledger.WithLogger(log), ledger.WithAutoCreate(*autoCreate))
	result, err := engine.ReconcileImport(context.Background(), *accountKey, sourceIdentity, rows)
	if err != nil {
		log.Fatal().Err(err).Str("source", sourceIdentity).Msg("reconciliation failed")
	}

	if result.ReplacedBatchID != nil {
		fmt.Printf("Replaced batch %s: removed %d entries, added %d. New balance: %s\n",
			result.ReplacedBatchID, result.Removed, result.Added, result.NewBalance.StringFixed(2))
	} else {
		fmt.Printf("Imported %d entries as batch %s. New balance: %s\n",
			result.Added, result.BatchID, result.NewBalance.StringFixed(2))
	}
}
