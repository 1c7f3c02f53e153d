package export

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"risk-assessment-service/internal/domain/assessment"
)

const sheetName = "Risk Assessment"

var headerRow = []string{
	"#", "Hazard", "Risk Level", "Severity", "Likelihood",
	"Description", "Corrective / Preventive Measures",
	"Standards", "Legal References", "Internal Standards",
}

// AssessmentWorkbook renders one persisted assessment as an XLSX report:
// a summary block followed by one row per hazard, highest risk first.
func AssessmentWorkbook(record *assessment.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	f.DeleteSheet("Sheet1")

	setSummary(f, record)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DCE6F1"}},
	})

	const headerRowIdx = 7
	for col, title := range headerRow {
		cell, _ := excelize.CoordinatesToCellName(col+1, headerRowIdx)
		f.SetCellValue(sheetName, cell, title)
	}
	first, _ := excelize.CoordinatesToCellName(1, headerRowIdx)
	last, _ := excelize.CoordinatesToCellName(len(headerRow), headerRowIdx)
	f.SetCellStyle(sheetName, first, last, headerStyle)

	hazards := sortedHazards(record.Hazards)
	for i, hazard := range hazards {
		row := headerRowIdx + 1 + i
		values := hazardRow(i+1, hazard)
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(sheetName, cell, value)
		}
	}

	f.SetColWidth(sheetName, "B", "B", 28)
	f.SetColWidth(sheetName, "F", "J", 48)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setSummary(f *excelize.File, record *assessment.Record) {
	rows := [][2]interface{}{
		{"Title", record.Title},
		{"Image", record.ImageName},
		{"Model", record.ModelID},
		{"Assessed At", record.CreatedAt.Format("2006-01-02 15:04:05")},
		{"Overall Risk", string(record.HighestLevel())},
	}
	for i, row := range rows {
		keyCell, _ := excelize.CoordinatesToCellName(1, i+1)
		valueCell, _ := excelize.CoordinatesToCellName(2, i+1)
		f.SetCellValue(sheetName, keyCell, row[0])
		f.SetCellValue(sheetName, valueCell, row[1])
	}
}

func hazardRow(n int, hazard assessment.AnalyzedHazard) []interface{} {
	severity, likelihood := "", ""
	description := ""
	measures, standards, legal, internal := "", "", "", ""
	if d := hazard.Detail; d != nil {
		severity = fmt.Sprintf("%d", d.Severity)
		likelihood = fmt.Sprintf("%d", d.Likelihood)
		description = d.Description
		measures = joinLines(d.CorrectiveMeasures)
		standards = joinLines(d.StandardsReferences)
		legal = joinLines(d.LegalReferences)
		internal = joinLines(d.OrganizationReferences)
	}
	return []interface{}{
		n, hazard.Label, string(hazard.RiskLevel),
		severity, likelihood, description,
		measures, standards, legal, internal,
	}
}

// sortedHazards orders by risk level, most severe first, then by label so
// equal-level rows come out stable.
func sortedHazards(hazards []assessment.AnalyzedHazard) []assessment.AnalyzedHazard {
	out := make([]assessment.AnalyzedHazard, len(hazards))
	copy(out, hazards)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RiskLevel.SortRank() != out[j].RiskLevel.SortRank() {
			return out[i].RiskLevel.SortRank() < out[j].RiskLevel.SortRank()
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func joinLines(items []string) string {
	return strings.Join(items, "\n")
}
