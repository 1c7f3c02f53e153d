package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"risk-assessment-service/internal/domain/assessment"
)

func sampleRecord() *assessment.Record {
	return &assessment.Record{
		ID:        uuid.New(),
		Title:     "Assessment for: warehouse.jpg",
		ImageName: "warehouse.jpg",
		ModelID:   "gemini-2.5-flash",
		CreatedAt: time.Date(2025, 6, 2, 10, 30, 0, 0, time.UTC),
		Hazards: []assessment.AnalyzedHazard{
			{
				HazardRegion: assessment.HazardRegion{ID: uuid.New(), Label: "unguarded ledge"},
				RiskLevel:    assessment.RiskLevelLow,
				Detail: &assessment.RiskDetail{
					Severity: 2, Likelihood: 2,
					Description:        "low fall height",
					CorrectiveMeasures: []string{"install railing"},
				},
			},
			{
				HazardRegion: assessment.HazardRegion{ID: uuid.New(), Label: "exposed wiring"},
				RiskLevel:    assessment.RiskLevelHigh,
				Detail: &assessment.RiskDetail{
					Severity: 5, Likelihood: 4,
					Description:        "live conductors at hand height",
					CorrectiveMeasures: []string{"de-energize", "enclose in conduit"},
				},
			},
			{
				HazardRegion: assessment.HazardRegion{ID: uuid.New(), Label: "blocked exit"},
				RiskLevel:    assessment.RiskLevelNotAssessed,
			},
		},
	}
}

func TestAssessmentWorkbook(t *testing.T) {
	data, err := AssessmentWorkbook(sampleRecord())
	if err != nil {
		t.Fatalf("AssessmentWorkbook returned error: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("workbook is empty")
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to reopen workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatalf("failed to read sheet: %v", err)
	}

	// Summary block.
	if rows[0][0] != "Title" || rows[0][1] != "Assessment for: warehouse.jpg" {
		t.Errorf("summary row 1 = %v", rows[0])
	}
	if rows[4][1] != "HIGH" {
		t.Errorf("overall risk = %q, want HIGH", rows[4][1])
	}

	// Hazard rows follow the header, most severe first.
	if got := rows[7][1]; got != "exposed wiring" {
		t.Errorf("first hazard = %q, want the HIGH one", got)
	}
	if got := rows[8][1]; got != "unguarded ledge" {
		t.Errorf("second hazard = %q, want the LOW one", got)
	}
	if got := rows[9][2]; got != "NOT_ASSESSED" {
		t.Errorf("third hazard level = %q, want NOT_ASSESSED", got)
	}
	// The unassessed hazard carries no scores.
	if len(rows[9]) > 3 && rows[9][3] != "" {
		t.Errorf("unassessed hazard has severity %q, want empty", rows[9][3])
	}

	if got := rows[7][6]; got != "de-energize\nenclose in conduit" {
		t.Errorf("measures cell = %q", got)
	}
}

func TestAssessmentWorkbookNoHazards(t *testing.T) {
	record := sampleRecord()
	record.Hazards = nil

	data, err := AssessmentWorkbook(record)
	if err != nil {
		t.Fatalf("AssessmentWorkbook returned error: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("failed to reopen workbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		t.Fatal(err)
	}
	if rows[4][1] != "NOT_ASSESSED" {
		t.Errorf("overall risk with no hazards = %q, want NOT_ASSESSED", rows[4][1])
	}
}
