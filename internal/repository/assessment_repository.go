package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"risk-assessment-service/internal/domain/assessment"
)

type AssessmentRepository struct {
	db *gorm.DB
}

func NewAssessmentRepository(db *gorm.DB) *AssessmentRepository {
	return &AssessmentRepository{db: db}
}

func (AssessmentRecord) TableName() string {
	return "assessment_records"
}

type AssessmentRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Title       string    `gorm:"not null"`
	ImageName   string    `gorm:"not null"`
	ImageMIME   string    `gorm:"column:image_mime;not null"`
	ImageSHA256 string    `gorm:"column:image_sha256;not null;index"`
	ImageData   []byte    `gorm:"not null"`
	SnapshotURL *string
	ModelID     string         `gorm:"not null"`
	HazardCount int            `gorm:"not null"`
	Hazards     datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time
}

// Upsert inserts the record or, if a row with the same id already exists,
// replaces its content. Repeating the call with identical input leaves
// exactly one row behind.
func (r *AssessmentRepository) Upsert(ctx context.Context, record *assessment.Record) error {
	hazards, err := json.Marshal(record.Hazards)
	if err != nil {
		return fmt.Errorf("marshal hazards: %w", err)
	}

	row := AssessmentRecord{
		ID:          record.ID,
		Title:       record.Title,
		ImageName:   record.ImageName,
		ImageMIME:   record.ImageMIME,
		ImageSHA256: record.ImageSHA256,
		ImageData:   record.ImageData,
		SnapshotURL: record.SnapshotURL,
		ModelID:     record.ModelID,
		HazardCount: len(record.Hazards),
		Hazards:     datatypes.JSON(hazards),
		CreatedAt:   record.CreatedAt,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert assessment record: %w", err)
	}
	return nil
}

// List returns history newest first. Image bytes are omitted; they are
// served by GetByID.
func (r *AssessmentRepository) List(ctx context.Context, limit, offset int) ([]assessment.Record, error) {
	query := r.db.WithContext(ctx).
		Model(&AssessmentRecord{}).
		Omit("image_data").
		Order("created_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []AssessmentRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]assessment.Record, 0, len(rows))
	for _, row := range rows {
		record, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

// GetByID returns one record including image bytes, or nil when the id is
// unknown.
func (r *AssessmentRepository) GetByID(ctx context.Context, id uuid.UUID) (*assessment.Record, error) {
	var row AssessmentRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// DeleteByID removes one record. Returns the number of rows removed so the
// caller can distinguish a miss.
func (r *AssessmentRepository) DeleteByID(ctx context.Context, id uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&AssessmentRecord{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// FindByImageSHA256 returns the most recent record for the given image
// digest, or nil when none exists.
func (r *AssessmentRepository) FindByImageSHA256(ctx context.Context, digest string) (*assessment.Record, error) {
	var row AssessmentRecord
	err := r.db.WithContext(ctx).
		Where("image_sha256 = ?", digest).
		Order("created_at DESC").
		First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

func (row AssessmentRecord) toDomain() (*assessment.Record, error) {
	hazards := []assessment.AnalyzedHazard{}
	if len(row.Hazards) > 0 {
		if err := json.Unmarshal(row.Hazards, &hazards); err != nil {
			return nil, fmt.Errorf("unmarshal hazards for record %s: %w", row.ID, err)
		}
	}

	return &assessment.Record{
		ID:          row.ID,
		Title:       row.Title,
		ImageName:   row.ImageName,
		ImageMIME:   row.ImageMIME,
		ImageSHA256: row.ImageSHA256,
		ImageData:   row.ImageData,
		SnapshotURL: row.SnapshotURL,
		ModelID:     row.ModelID,
		Hazards:     hazards,
		CreatedAt:   row.CreatedAt,
	}, nil
}
