// Package export renders account statements as XLSX or PDF.
package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/mcclellann/fredYield/pkg/models"
	"github.com/mcclellann/fredYield/pkg/money"
)

// BuildStatementXLSX renders an account statement workbook: a summary
// sheet from the projection and an entries sheet listing the ledger.
func BuildStatementXLSX(account *models.LoanAccount, proj *models.Projection, entries []models.LedgerEntry) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	entriesSheet := "entries"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(entriesSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Account Statement")
	_ = f.SetCellValue(summarySheet, "A3", "Account")
	_ = f.SetCellValue(summarySheet, "B3", account.AccountNumber)
	_ = f.SetCellValue(summarySheet, "A4", "Owner")
	_ = f.SetCellValue(summarySheet, "B4", account.OwnerUserRef)
	_ = f.SetCellValue(summarySheet, "A5", "Status")
	_ = f.SetCellValue(summarySheet, "B5", string(account.Status))
	_ = f.SetCellValue(summarySheet, "A6", "Current Balance")
	_ = f.SetCellValue(summarySheet, "B6", money.Format(proj.CurrentBalance))
	_ = f.SetCellValue(summarySheet, "A7", "Total Deposits")
	_ = f.SetCellValue(summarySheet, "B7", money.Format(proj.TotalDeposits))
	_ = f.SetCellValue(summarySheet, "A8", "Total Withdrawals")
	_ = f.SetCellValue(summarySheet, "B8", money.Format(proj.TotalWithdrawals))
	_ = f.SetCellValue(summarySheet, "A9", "Total Yield Paid")
	_ = f.SetCellValue(summarySheet, "B9", money.Format(proj.TotalYieldPaid))
	if proj.LastActivityDate != nil {
		_ = f.SetCellValue(summarySheet, "A10", "Last Activity")
		_ = f.SetCellValue(summarySheet, "B10", proj.LastActivityDate.Format("2006-01-02"))
	}

	_ = f.SetCellValue(entriesSheet, "A1", "Date")
	_ = f.SetCellValue(entriesSheet, "B1", "Kind")
	_ = f.SetCellValue(entriesSheet, "C1", "Amount")
	_ = f.SetCellValue(entriesSheet, "D1", "Description")
	for i, entry := range entries {
		row := i + 2
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("A%d", row), entry.TransactionDate.Format("2006-01-02"))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("B%d", row), string(entry.Kind))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("C%d", row), money.Format(entry.Amount))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("D%d", row), entry.Description)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementPDF renders a minimal PDF statement.
func BuildStatementPDF(account *models.LoanAccount, proj *models.Projection, entries []models.LedgerEntry) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Account Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Account: %s", account.AccountNumber))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Owner: %s", account.OwnerUserRef))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", account.Status))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Current Balance: %s", money.Format(proj.CurrentBalance)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Deposits: %s", money.Format(proj.TotalDeposits)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Withdrawals: %s", money.Format(proj.TotalWithdrawals)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Yield Paid: %s", money.Format(proj.TotalYieldPaid)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(30, 6, "Date", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Kind", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.CellFormat(80, 6, "Description", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, entry := range entries {
		pdf.CellFormat(30, 6, entry.TransactionDate.Format("2006-01-02"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, string(entry.Kind), "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, money.Format(entry.Amount), "1", 0, "R", false, 0, "")
		pdf.CellFormat(80, 6, entry.Description, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
