package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"risk-assessment-service/internal/domain/assessment"
	"risk-assessment-service/internal/risk"
	"risk-assessment-service/internal/utils"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	// ErrNotConfigured means the AI credential is absent; the run fails
	// before any network call.
	ErrNotConfigured = errors.New("ai analysis is not configured")
	// ErrAlreadyRunning means an analysis for the same image is in flight.
	ErrAlreadyRunning = errors.New("analysis already in progress for this image")
	// ErrAnalysisFailed wraps a run-fatal failure of the detection pass.
	ErrAnalysisFailed = errors.New("analysis failed")
)

var allowedImageMIMEs = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Analyzer is the two-pass AI client: one detection call per image, one
// detail call per detected hazard.
type Analyzer interface {
	Enabled() bool
	DetectHazards(ctx context.Context, imageData []byte, mimeType, model string) ([]assessment.HazardRegion, error)
	AssessHazard(ctx context.Context, label string, imageData []byte, mimeType, model string) (*assessment.RiskDetail, error)
}

// RecordStore owns the persisted assessment history.
type RecordStore interface {
	Upsert(ctx context.Context, record *assessment.Record) error
	List(ctx context.Context, limit, offset int) ([]assessment.Record, error)
	GetByID(ctx context.Context, id uuid.UUID) (*assessment.Record, error)
	DeleteByID(ctx context.Context, id uuid.UUID) (int64, error)
	FindByImageSHA256(ctx context.Context, digest string) (*assessment.Record, error)
}

// SnapshotStore uploads a public copy of the photo. Optional; failures are
// never run-fatal.
type SnapshotStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

type AssessmentService struct {
	store        RecordStore
	ai           Analyzer
	snapshots    SnapshotStore
	defaultModel string
	modelAllowed func(string) bool
	log          zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	analyzed map[string]uuid.UUID
}

func NewAssessmentService(store RecordStore, ai Analyzer, snapshots SnapshotStore, defaultModel string, modelAllowed func(string) bool, log zerolog.Logger) *AssessmentService {
	return &AssessmentService{
		store:        store,
		ai:           ai,
		snapshots:    snapshots,
		defaultModel: defaultModel,
		modelAllowed: modelAllowed,
		log:          log,
		inFlight:     make(map[string]struct{}),
		analyzed:     make(map[string]uuid.UUID),
	}
}

type detailOutcome struct {
	detail *assessment.RiskDetail
	err    error
}

// Analyze runs the full pipeline for one uploaded image and persists the
// resulting record. The returned bool is true when a new record was created
// and false when an existing record for the same image bytes was reused.
func (s *AssessmentService) Analyze(ctx context.Context, upload assessment.Upload) (*assessment.Record, bool, error) {
	if upload.ImageName == "" {
		return nil, false, fmt.Errorf("%w: image name is required", ErrInvalidInput)
	}
	if len(upload.Data) == 0 {
		return nil, false, fmt.Errorf("%w: image data is required", ErrInvalidInput)
	}
	if !allowedImageMIMEs[upload.MIMEType] {
		return nil, false, fmt.Errorf("%w: unsupported image type %q, expected JPEG, PNG or WEBP", ErrInvalidInput, upload.MIMEType)
	}

	model := upload.ModelID
	if model == "" {
		model = s.defaultModel
	}
	if s.modelAllowed != nil && !s.modelAllowed(model) {
		return nil, false, fmt.Errorf("%w: unknown model %q", ErrInvalidInput, model)
	}

	if !s.ai.Enabled() {
		return nil, false, ErrNotConfigured
	}

	digest := imageDigest(upload.Data)

	existing, claimed, err := s.claimRun(ctx, digest, upload.Force)
	if err != nil {
		return nil, false, err
	}
	if !claimed {
		s.log.Info().
			Str("record_id", existing.ID.String()).
			Str("image_name", upload.ImageName).
			Msg("returning existing assessment for re-uploaded image")
		return existing, false, nil
	}
	defer s.releaseRun(digest)

	record, err := s.runAnalysis(ctx, upload, model, digest)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	s.analyzed[digest] = record.ID
	s.mu.Unlock()

	return record, true, nil
}

// claimRun is the re-entrancy guard: it either makes the caller the sole
// runner for this image digest (claimed true, release via releaseRun) or
// returns the already-persisted record for the same bytes. The digest is
// claimed BEFORE the lock is released for any store lookup, so a concurrent
// upload of the same image cannot slip past the guard while a lookup is in
// progress; it sees the in-flight claim and fails with ErrAlreadyRunning.
func (s *AssessmentService) claimRun(ctx context.Context, digest string, force bool) (*assessment.Record, bool, error) {
	s.mu.Lock()
	if _, running := s.inFlight[digest]; running {
		s.mu.Unlock()
		return nil, false, ErrAlreadyRunning
	}
	s.inFlight[digest] = struct{}{}
	memoID, memoized := s.analyzed[digest]
	s.mu.Unlock()

	if force {
		return nil, true, nil
	}

	if memoized {
		existing, err := s.store.GetByID(ctx, memoID)
		if err != nil {
			s.releaseRun(digest)
			return nil, false, fmt.Errorf("failed to load existing assessment: %w", err)
		}
		if existing != nil {
			s.releaseRun(digest)
			return existing, false, nil
		}
		// The record was deleted since; forget it. The store scan below
		// settles whether an older record for the same bytes remains.
		s.mu.Lock()
		delete(s.analyzed, digest)
		s.mu.Unlock()
	}

	// The memo does not survive restarts; fall back to the store.
	existing, err := s.store.FindByImageSHA256(ctx, digest)
	if err != nil {
		s.releaseRun(digest)
		return nil, false, fmt.Errorf("failed to look up existing assessment: %w", err)
	}
	if existing != nil {
		s.mu.Lock()
		s.analyzed[digest] = existing.ID
		delete(s.inFlight, digest)
		s.mu.Unlock()
		return existing, false, nil
	}
	return nil, true, nil
}

func (s *AssessmentService) releaseRun(digest string) {
	s.mu.Lock()
	delete(s.inFlight, digest)
	s.mu.Unlock()
}

func (s *AssessmentService) runAnalysis(ctx context.Context, upload assessment.Upload, model, digest string) (*assessment.Record, error) {
	s.log.Info().
		Str("image_name", upload.ImageName).
		Str("model", model).
		Int("image_bytes", len(upload.Data)).
		Msg("starting image analysis")

	regions, err := s.ai.DetectHazards(ctx, upload.Data, upload.MIMEType, model)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("image_name", upload.ImageName).
			Msg("detection pass failed")
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	hazards := make([]assessment.AnalyzedHazard, len(regions))
	for i, region := range regions {
		hazards[i] = assessment.AnalyzedHazard{
			HazardRegion: region,
			RiskLevel:    assessment.RiskLevelNotAssessed,
		}
	}

	if len(regions) > 0 {
		// One detail call per hazard, all at once. Each slot settles on its
		// own: a failed fetch downgrades that hazard to NOT_ASSESSED and
		// never cancels or fails the rest of the batch.
		outcomes := make([]detailOutcome, len(regions))
		var wg sync.WaitGroup
		for i, region := range regions {
			wg.Add(1)
			go func(i int, label string) {
				defer wg.Done()
				detail, err := s.ai.AssessHazard(ctx, label, upload.Data, upload.MIMEType, model)
				outcomes[i] = detailOutcome{detail: detail, err: err}
			}(i, region.Label)
		}
		wg.Wait()

		for i, outcome := range outcomes {
			if outcome.err != nil {
				s.log.Warn().
					Err(outcome.err).
					Str("label", regions[i].Label).
					Msg("detail pass failed for hazard, marking as not assessed")
				continue
			}
			hazards[i].Detail = outcome.detail
			hazards[i].RiskLevel = risk.Classify(outcome.detail.Severity, outcome.detail.Likelihood)
		}
	} else {
		s.log.Info().
			Str("image_name", upload.ImageName).
			Msg("no hazards detected, persisting empty assessment")
	}

	record := &assessment.Record{
		ID:          uuid.New(),
		Title:       utils.DeriveTitle(upload.ImageName),
		ImageName:   upload.ImageName,
		ImageMIME:   upload.MIMEType,
		ImageSHA256: digest,
		ImageData:   upload.Data,
		ModelID:     model,
		Hazards:     hazards,
		CreatedAt:   time.Now(),
	}

	s.uploadSnapshot(ctx, record)

	if err := s.store.Upsert(ctx, record); err != nil {
		s.log.Error().
			Err(err).
			Str("record_id", record.ID.String()).
			Msg("failed to persist assessment record")
		return nil, fmt.Errorf("failed to persist assessment record: %w", err)
	}

	s.log.Info().
		Str("record_id", record.ID.String()).
		Str("image_name", upload.ImageName).
		Int("hazard_count", len(hazards)).
		Str("highest_level", string(record.HighestLevel())).
		Msg("assessment persisted")

	return record, nil
}

func (s *AssessmentService) uploadSnapshot(ctx context.Context, record *assessment.Record) {
	if s.snapshots == nil {
		return
	}
	key := fmt.Sprintf("assessments/%s/%s", record.ID, utils.SanitizeFileName(record.ImageName))
	url, err := s.snapshots.Upload(ctx, key, bytes.NewReader(record.ImageData), int64(len(record.ImageData)), record.ImageMIME)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("record_id", record.ID.String()).
			Msg("snapshot upload failed, record keeps inline image only")
		return
	}
	record.SnapshotURL = &url
}

// History lists persisted assessments newest first.
func (s *AssessmentService) History(ctx context.Context, limit, offset int) ([]assessment.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, limit, offset)
}

func (s *AssessmentService) Get(ctx context.Context, id uuid.UUID) (*assessment.Record, error) {
	record, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load assessment: %w", err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: assessment %s", ErrNotFound, id)
	}
	return record, nil
}

// Delete removes one record from history and forgets its digest memo so the
// same image can be analyzed again afterwards.
func (s *AssessmentService) Delete(ctx context.Context, id uuid.UUID) error {
	deleted, err := s.store.DeleteByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete assessment: %w", err)
	}
	if deleted == 0 {
		return fmt.Errorf("%w: assessment %s", ErrNotFound, id)
	}

	s.mu.Lock()
	for digest, recordID := range s.analyzed {
		if recordID == id {
			delete(s.analyzed, digest)
		}
	}
	s.mu.Unlock()

	s.log.Info().Str("record_id", id.String()).Msg("assessment deleted")
	return nil
}

func imageDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
