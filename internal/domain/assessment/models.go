package assessment

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel is the derived category for an analyzed hazard.
type RiskLevel string

const (
	RiskLevelLow         RiskLevel = "LOW"
	RiskLevelMedium      RiskLevel = "MEDIUM"
	RiskLevelHigh        RiskLevel = "HIGH"
	RiskLevelNotAssessed RiskLevel = "NOT_ASSESSED"
)

// SortRank orders levels for reports: HIGH first, NOT_ASSESSED last.
func (l RiskLevel) SortRank() int {
	switch l {
	case RiskLevelHigh:
		return 1
	case RiskLevelMedium:
		return 2
	case RiskLevelLow:
		return 3
	default:
		return 4
	}
}

// Point is a pixel coordinate in the uploaded image.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// BoundingBox is an axis-aligned rectangle in pixel coordinates.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// HazardRegion is one detected hazard area. Created once from a detection
// response and never mutated afterwards.
type HazardRegion struct {
	ID          uuid.UUID   `json:"id"`
	Label       string      `json:"label"`
	MaskPoints  []Point     `json:"mask_points"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// RiskDetail is the structured result of the per-hazard detail pass.
// Severity and Likelihood are always within [1,5] after normalization.
type RiskDetail struct {
	Severity               int      `json:"severity"`
	Likelihood             int      `json:"likelihood"`
	Description            string   `json:"description"`
	CorrectiveMeasures     []string `json:"corrective_measures"`
	StandardsReferences    []string `json:"standards_references"`
	LegalReferences        []string `json:"legal_references"`
	OrganizationReferences []string `json:"organization_references"`
}

// AnalyzedHazard combines a detected region with its optional risk detail.
// Detail is nil exactly when RiskLevel is NOT_ASSESSED.
type AnalyzedHazard struct {
	HazardRegion
	Detail    *RiskDetail `json:"detail,omitempty"`
	RiskLevel RiskLevel   `json:"risk_level"`
}

// Upload is one incoming analysis request.
type Upload struct {
	ImageName string
	MIMEType  string
	Data      []byte
	ModelID   string
	Force     bool
}

// Record is one persisted assessment: the image, the analyzed hazards and
// the metadata needed to view it without the original file.
type Record struct {
	ID          uuid.UUID        `json:"id"`
	Title       string           `json:"title"`
	ImageName   string           `json:"image_name"`
	ImageMIME   string           `json:"image_mime"`
	ImageSHA256 string           `json:"image_sha256"`
	ImageData   []byte           `json:"-"`
	SnapshotURL *string          `json:"snapshot_url,omitempty"`
	ModelID     string           `json:"model_id"`
	Hazards     []AnalyzedHazard `json:"hazards"`
	CreatedAt   time.Time        `json:"created_at"`
}

// HighestLevel returns the most severe level present on the record, or
// NOT_ASSESSED for an empty or fully unassessed hazard list.
func (r *Record) HighestLevel() RiskLevel {
	best := RiskLevelNotAssessed
	for _, h := range r.Hazards {
		if h.RiskLevel.SortRank() < best.SortRank() {
			best = h.RiskLevel
		}
	}
	return best
}
