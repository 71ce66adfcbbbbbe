// Package export writes evaluated opportunities to CSV, JSON and XLSX
// files for downstream sourcing workflows.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/cloudcurio/arbfinder/internal/evaluate"
)

// header is the column order shared by every output format.
var header = []string{
	"source", "title", "url", "price", "currency", "condition",
	"comp_key", "comp_median", "comp_count", "adjusted_comp",
	"discount_pct", "estimated_profit", "qualifies",
}

// row flattens one opportunity into the shared column order.
func row(opp evaluate.Opportunity) []string {
	compKey, compMedian, compCount := "", "", ""
	if opp.Comp != nil {
		compKey = opp.Comp.CompKey
		compMedian = formatAmount(opp.Comp.MedianPrice)
		compCount = strconv.Itoa(opp.Comp.Count)
	}
	return []string{
		opp.Listing.Source,
		opp.Listing.Title,
		opp.Listing.URL,
		formatAmount(opp.Listing.Price),
		opp.Listing.Currency,
		string(opp.Listing.Condition),
		compKey,
		compMedian,
		compCount,
		formatAmount(opp.AdjustedCompPrice),
		formatAmount(opp.DiscountPct),
		formatAmount(opp.EstimatedProfit),
		strconv.FormatBool(opp.Qualifies),
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// WriteCSV writes opportunities to a CSV file with a header row.
func WriteCSV(path string, opps []evaluate.Opportunity) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create CSV file %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, opp := range opps {
		if err := w.Write(row(opp)); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// WriteJSON writes opportunities as an indented JSON array.
func WriteJSON(path string, opps []evaluate.Opportunity) error {
	if opps == nil {
		opps = []evaluate.Opportunity{}
	}
	data, err := json.MarshalIndent(opps, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode opportunities: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write JSON file %s: %w", path, err)
	}
	return nil
}

// sheetName is the single worksheet holding the export.
const sheetName = "Opportunities"

// WriteXLSX writes opportunities to a spreadsheet with a bold header
// row and the qualifying rows highlighted.
func WriteXLSX(path string, opps []evaluate.Opportunity) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create worksheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	qualifyStyle, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"C6EFCE"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create highlight style: %w", err)
	}

	for col, name := range header {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(sheetName, cell, name); err != nil {
			return fmt.Errorf("failed to write header cell: %w", err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to style header cell: %w", err)
		}
	}

	for i, opp := range opps {
		values := row(opp)
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("failed to write row cell: %w", err)
			}
		}
		if opp.Qualifies {
			first, _ := excelize.CoordinatesToCellName(1, i+2)
			last, _ := excelize.CoordinatesToCellName(len(values), i+2)
			if err := f.SetCellStyle(sheetName, first, last, qualifyStyle); err != nil {
				return fmt.Errorf("failed to highlight row: %w", err)
			}
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save XLSX file %s: %w", path, err)
	}
	return nil
}
