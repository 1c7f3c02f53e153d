package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"risk-assessment-service/internal/domain/assessment"
)

type fakeAnalyzer struct {
	enabled      bool
	regions      []assessment.HazardRegion
	detectErr    error
	detailErrFor map[string]error
	detailFor    map[string]*assessment.RiskDetail

	mu          sync.Mutex
	detectCalls int
	detailCalls int
}

func (f *fakeAnalyzer) Enabled() bool { return f.enabled }

func (f *fakeAnalyzer) DetectHazards(ctx context.Context, imageData []byte, mimeType, model string) ([]assessment.HazardRegion, error) {
	f.mu.Lock()
	f.detectCalls++
	f.mu.Unlock()
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	return f.regions, nil
}

func (f *fakeAnalyzer) AssessHazard(ctx context.Context, label string, imageData []byte, mimeType, model string) (*assessment.RiskDetail, error) {
	f.mu.Lock()
	f.detailCalls++
	f.mu.Unlock()
	if err, ok := f.detailErrFor[label]; ok {
		return nil, err
	}
	if detail, ok := f.detailFor[label]; ok {
		return detail, nil
	}
	return &assessment.RiskDetail{
		Severity:               3,
		Likelihood:             3,
		Description:            "stub",
		CorrectiveMeasures:     []string{},
		StandardsReferences:    []string{},
		LegalReferences:        []string{},
		OrganizationReferences: []string{},
	}, nil
}

type memoryStore struct {
	mu      sync.Mutex
	order   []uuid.UUID
	records map[uuid.UUID]assessment.Record
	upserts int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[uuid.UUID]assessment.Record)}
}

func (m *memoryStore) Upsert(ctx context.Context, record *assessment.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	if _, exists := m.records[record.ID]; !exists {
		m.order = append(m.order, record.ID)
	}
	m.records[record.ID] = *record
	return nil
}

func (m *memoryStore) List(ctx context.Context, limit, offset int) ([]assessment.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]assessment.Record, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.records[m.order[i]])
	}
	return out, nil
}

func (m *memoryStore) GetByID(ctx context.Context, id uuid.UUID) (*assessment.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (m *memoryStore) FindByImageSHA256(ctx context.Context, digest string) (*assessment.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.order) - 1; i >= 0; i-- {
		if record, ok := m.records[m.order[i]]; ok && record.ImageSHA256 == digest {
			return &record, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) DeleteByID(ctx context.Context, id uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return 0, nil
	}
	delete(m.records, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return 1, nil
}

func region(label string) assessment.HazardRegion {
	return assessment.HazardRegion{
		ID:    uuid.New(),
		Label: label,
		MaskPoints: []assessment.Point{
			{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10},
		},
		BoundingBox: assessment.BoundingBox{X: 0, Y: 0, Width: 10, Height: 10},
	}
}

func newTestService(store RecordStore, ai Analyzer) *AssessmentService {
	return NewAssessmentService(store, ai, nil, "gemini-2.5-flash", nil, zerolog.Nop())
}

func upload(name string, data []byte) assessment.Upload {
	return assessment.Upload{
		ImageName: name,
		MIMEType:  "image/png",
		Data:      data,
	}
}

func TestAnalyzePartialDetailFailure(t *testing.T) {
	ai := &fakeAnalyzer{
		enabled: true,
		regions: []assessment.HazardRegion{
			region("hazard-1"), region("hazard-2"), region("hazard-3"),
		},
		detailErrFor: map[string]error{
			"hazard-2": errors.New("detail service blew up"),
		},
		detailFor: map[string]*assessment.RiskDetail{
			"hazard-1": {Severity: 5, Likelihood: 4},
			"hazard-3": {Severity: 1, Likelihood: 2},
		},
	}
	store := newMemoryStore()
	svc := newTestService(store, ai)

	record, created, err := svc.Analyze(context.Background(), upload("site.png", []byte("image-a")))
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if !created {
		t.Fatal("expected a new record")
	}
	if len(record.Hazards) != 3 {
		t.Fatalf("expected 3 hazards, got %d", len(record.Hazards))
	}

	if record.Hazards[0].Detail == nil || record.Hazards[0].RiskLevel != assessment.RiskLevelHigh {
		t.Errorf("hazard 1 = level %q detail %v, want HIGH with detail", record.Hazards[0].RiskLevel, record.Hazards[0].Detail)
	}
	if record.Hazards[1].Detail != nil || record.Hazards[1].RiskLevel != assessment.RiskLevelNotAssessed {
		t.Errorf("hazard 2 = level %q detail %v, want NOT_ASSESSED without detail", record.Hazards[1].RiskLevel, record.Hazards[1].Detail)
	}
	if record.Hazards[2].Detail == nil || record.Hazards[2].RiskLevel != assessment.RiskLevelLow {
		t.Errorf("hazard 3 = level %q, want LOW with detail", record.Hazards[2].RiskLevel)
	}

	if store.upserts != 1 {
		t.Errorf("record persisted %d times, want exactly once", store.upserts)
	}
}

func TestAnalyzeEmptyDetectionStillPersists(t *testing.T) {
	ai := &fakeAnalyzer{enabled: true}
	store := newMemoryStore()
	svc := newTestService(store, ai)

	record, created, err := svc.Analyze(context.Background(), upload("clean.png", []byte("image-b")))
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if !created {
		t.Fatal("expected a new record")
	}
	if len(record.Hazards) != 0 {
		t.Errorf("expected empty hazard list, got %d", len(record.Hazards))
	}
	if ai.detailCalls != 0 {
		t.Errorf("expected no detail calls for empty detection, got %d", ai.detailCalls)
	}
	if store.upserts != 1 {
		t.Errorf("record persisted %d times, want exactly once", store.upserts)
	}
	if record.Title != "Assessment for: clean.png" {
		t.Errorf("title = %q", record.Title)
	}
}

func TestAnalyzeDetectionFailureIsFatal(t *testing.T) {
	ai := &fakeAnalyzer{enabled: true, detectErr: errors.New("boom")}
	store := newMemoryStore()
	svc := newTestService(store, ai)

	_, _, err := svc.Analyze(context.Background(), upload("site.png", []byte("image-c")))
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("err = %v, want ErrAnalysisFailed", err)
	}
	if store.upserts != 0 {
		t.Errorf("nothing must be persisted after a failed detection, got %d upserts", store.upserts)
	}
}

func TestAnalyzeWithoutCredentialFailsFast(t *testing.T) {
	ai := &fakeAnalyzer{enabled: false}
	store := newMemoryStore()
	svc := newTestService(store, ai)

	_, _, err := svc.Analyze(context.Background(), upload("site.png", []byte("image-d")))
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if ai.detectCalls != 0 {
		t.Errorf("no network call may happen without a credential, got %d", ai.detectCalls)
	}
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	svc := newTestService(newMemoryStore(), &fakeAnalyzer{enabled: true})

	cases := []assessment.Upload{
		{ImageName: "", MIMEType: "image/png", Data: []byte("x")},
		{ImageName: "a.png", MIMEType: "image/png", Data: nil},
		{ImageName: "a.gif", MIMEType: "image/gif", Data: []byte("x")},
		{ImageName: "a.png", MIMEType: "image/png", Data: []byte("x"), ModelID: "made-up-model"},
	}
	svcWithModels := NewAssessmentService(newMemoryStore(), &fakeAnalyzer{enabled: true}, nil, "gemini-2.5-flash",
		func(id string) bool { return id == "gemini-2.5-flash" }, zerolog.Nop())

	for i, u := range cases {
		target := svc
		if i == 3 {
			target = svcWithModels
		}
		if _, _, err := target.Analyze(context.Background(), u); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("case %d: err = %v, want ErrInvalidInput", i, err)
		}
	}
}

func TestAnalyzeSameImageReturnsExistingRecord(t *testing.T) {
	ai := &fakeAnalyzer{enabled: true, regions: []assessment.HazardRegion{region("hazard-1")}}
	store := newMemoryStore()
	svc := newTestService(store, ai)

	first, created, err := svc.Analyze(context.Background(), upload("site.png", []byte("same-bytes")))
	if err != nil || !created {
		t.Fatalf("first run: created=%v err=%v", created, err)
	}

	second, created, err := svc.Analyze(context.Background(), upload("site.png", []byte("same-bytes")))
	if err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if created {
		t.Error("second run for identical bytes must not create a record")
	}
	if second.ID != first.ID {
		t.Errorf("second run returned id %s, want %s", second.ID, first.ID)
	}
	if ai.detectCalls != 1 {
		t.Errorf("detection ran %d times, want once", ai.detectCalls)
	}
	if store.upserts != 1 {
		t.Errorf("store received %d upserts, want one", store.upserts)
	}
}

// gatedStore parks FindByImageSHA256 callers until released, holding a run
// inside the guard's store-lookup window.
type gatedStore struct {
	*memoryStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) FindByImageSHA256(ctx context.Context, digest string) (*assessment.Record, error) {
	g.entered <- struct{}{}
	<-g.release
	return g.memoryStore.FindByImageSHA256(ctx, digest)
}

func TestAnalyzeConcurrentSameImageRunsOnce(t *testing.T) {
	ai := &fakeAnalyzer{enabled: true, regions: []assessment.HazardRegion{region("hazard-1")}}
	store := newMemoryStore()
	gated := &gatedStore{
		memoryStore: store,
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	svc := NewAssessmentService(gated, ai, nil, "gemini-2.5-flash", nil, zerolog.Nop())

	firstDone := make(chan error, 1)
	go func() {
		_, _, err := svc.Analyze(context.Background(), upload("site.png", []byte("same-bytes")))
		firstDone <- err
	}()

	// The first run now sits inside the store lookup with the digest claimed.
	<-gated.entered

	_, _, err := svc.Analyze(context.Background(), upload("site.png", []byte("same-bytes")))
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("concurrent duplicate upload: err = %v, want ErrAlreadyRunning", err)
	}

	close(gated.release)
	if err := <-firstDone; err != nil {
		t.Fatalf("first run returned error: %v", err)
	}

	if store.upserts != 1 {
		t.Errorf("same image triggered concurrently persisted %d records, want 1", store.upserts)
	}
	if ai.detectCalls != 1 {
		t.Errorf("detection ran %d times, want once", ai.detectCalls)
	}
}

func TestAnalyzeDuplicateSurvivesRestart(t *testing.T) {
	store := newMemoryStore()
	first, _, err := newTestService(store, &fakeAnalyzer{enabled: true}).
		Analyze(context.Background(), upload("site.png", []byte("same-bytes")))
	if err != nil {
		t.Fatal(err)
	}

	// A fresh service instance has an empty memo but shares the store.
	restarted := &fakeAnalyzer{enabled: true}
	second, created, err := newTestService(store, restarted).
		Analyze(context.Background(), upload("site.png", []byte("same-bytes")))
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("duplicate image must be recognized from the store after a restart")
	}
	if second.ID != first.ID {
		t.Errorf("got id %s, want %s", second.ID, first.ID)
	}
	if restarted.detectCalls != 0 {
		t.Errorf("detection ran %d times after restart, want none", restarted.detectCalls)
	}
}

func TestAnalyzeForceCreatesFreshRecord(t *testing.T) {
	ai := &fakeAnalyzer{enabled: true}
	store := newMemoryStore()
	svc := newTestService(store, ai)

	first, _, err := svc.Analyze(context.Background(), upload("site.png", []byte("same-bytes")))
	if err != nil {
		t.Fatal(err)
	}

	forced := upload("site.png", []byte("same-bytes"))
	forced.Force = true
	second, created, err := svc.Analyze(context.Background(), forced)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("forced run must create a new record")
	}
	if second.ID == first.ID {
		t.Error("forced re-analysis must produce a fresh id")
	}
}

func TestAnalyzeAfterDeleteRunsAgain(t *testing.T) {
	ai := &fakeAnalyzer{enabled: true}
	store := newMemoryStore()
	svc := newTestService(store, ai)

	first, _, err := svc.Analyze(context.Background(), upload("site.png", []byte("same-bytes")))
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(context.Background(), first.ID); err != nil {
		t.Fatal(err)
	}

	second, created, err := svc.Analyze(context.Background(), upload("site.png", []byte("same-bytes")))
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("analysis after deletion must create a new record")
	}
	if second.ID == first.ID {
		t.Error("new record must carry a fresh id")
	}
}

func TestDeleteUnknownRecord(t *testing.T) {
	svc := newTestService(newMemoryStore(), &fakeAnalyzer{enabled: true})
	if err := svc.Delete(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeletePreservesRemainingOrder(t *testing.T) {
	ai := &fakeAnalyzer{enabled: true}
	store := newMemoryStore()
	svc := newTestService(store, ai)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		record, _, err := svc.Analyze(context.Background(), upload(fmt.Sprintf("img-%d.png", i), []byte(fmt.Sprintf("bytes-%d", i))))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, record.ID)
	}

	if err := svc.Delete(context.Background(), ids[1]); err != nil {
		t.Fatal(err)
	}

	remaining, err := svc.History(context.Background(), 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 2 {
		t.Fatalf("expected 2 records, got %d", len(remaining))
	}
	// Newest first: the third upload, then the first.
	if remaining[0].ID != ids[2] || remaining[1].ID != ids[0] {
		t.Errorf("order after delete = [%s %s], want [%s %s]", remaining[0].ID, remaining[1].ID, ids[2], ids[0])
	}
}

func TestGetUnknownRecord(t *testing.T) {
	svc := newTestService(newMemoryStore(), &fakeAnalyzer{enabled: true})
	if _, err := svc.Get(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
