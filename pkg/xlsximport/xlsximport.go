// Package xlsximport turns an uploaded workbook sheet into raw rows for
// the engine. Column headers are matched by name, not position, because
// customer spreadsheets rarely agree on column order.
package xlsximport

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/mcclellann/fredYield/pkg/models"
)

// headerAliases maps normalized column headers to RawRow fields.
var headerAliases = map[string]string{
	"account":     "account_key",
	"account key": "account_key",
	"email":       "account_key",
	"type":        "type",
	"kind":        "type",
	"amount":      "amount",
	"date":        "date",
	"description": "description",
	"memo":        "description",
	"bonus":       "bonus_rate",
	"bonus rate":  "bonus_rate",
	"name":        "name",
	"phone":       "phone",
}

// ReadRows parses one sheet into raw rows. An empty sheet name selects
// the workbook's first sheet. Rows whose cells are all blank are skipped;
// everything else is passed through untyped for the normalizer to judge.
func ReadRows(r io.Reader, sheet string) ([]models.RawRow, string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, sheet, nil
	}

	fields := make(map[int]string)
	for col, header := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(strings.ReplaceAll(header, "_", " ")))
		if field, ok := headerAliases[key]; ok {
			fields[col] = field
		}
	}
	if len(fields) == 0 {
		return nil, sheet, fmt.Errorf("sheet %q has no recognizable headers", sheet)
	}

	var raws []models.RawRow
	for _, cells := range rows[1:] {
		if blank(cells) {
			continue
		}
		var raw models.RawRow
		for col, cell := range cells {
			switch fields[col] {
			case "account_key":
				raw.AccountKey = cell
			case "type":
				raw.Type = cell
			case "amount":
				raw.Amount = cell
			case "date":
				raw.Date = cell
			case "description":
				raw.Description = cell
			case "bonus_rate":
				raw.BonusRate = cell
			case "name":
				raw.Name = cell
			case "phone":
				raw.Phone = cell
			}
		}
		raws = append(raws, raw)
	}
	return raws, sheet, nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// SourceIdentity derives the explicit re-upload key for a workbook sheet
// and account. Callers pass it to the reconciler; nothing is ever
// inferred from incidental filename matching beyond this deliberate key.
func SourceIdentity(fileName, sheet, accountKey string) string {
	return strings.Join([]string{filepath.Base(fileName), sheet, accountKey}, "|")
}
