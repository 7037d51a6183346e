package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rfp-intake/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func seedProject(t *testing.T, st *SQLiteStore) *model.Project {
	t.Helper()
	p := &model.Project{ID: uuid.New().String(), Name: "Acme Replatform"}
	require.NoError(t, st.CreateProject(context.Background(), p))
	return p
}

func seedRfp(t *testing.T, st *SQLiteStore, projectID string, status model.RfpStatus) *model.Rfp {
	t.Helper()
	rfp := &model.Rfp{
		ID:         uuid.New().String(),
		ProjectID:  projectID,
		Title:      "Core Banking RFP",
		OriginType: model.OriginExternalRFP,
		Status:     status,
		CreatedBy:  "alex",
	}
	require.NoError(t, st.CreateRfp(context.Background(), rfp))
	return rfp
}

func seedVersion(t *testing.T, st *SQLiteStore, rfpID, label string) *model.RfpVersion {
	t.Helper()
	v := &model.RfpVersion{
		ID:           uuid.New().String(),
		RfpID:        rfpID,
		VersionLabel: label,
		FileChecksum: "abc123",
		FileURI:      "blob:sha256/abc123",
		ContentType:  "text/plain",
		SizeBytes:    42,
		UploadedBy:   "alex",
	}
	require.NoError(t, st.CreateVersion(context.Background(), v))
	return v
}

// --- Projects ---

func TestSQLite_ProjectOrigin(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProject(t, st)

	got, err := st.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Policy)

	pol := model.OriginPolicy{
		OriginType:             model.OriginExternalRFP,
		RequireSourceReference: true,
		EvidenceLevel:          model.EvidenceFull,
		ChangeApprovalRequired: true,
		AutoAnalysisEnabled:    true,
		LineageEnforcement:     model.LineageStrict,
	}
	require.NoError(t, st.SetProjectOrigin(ctx, p.ID, pol))

	got, err = st.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Policy)
	assert.Equal(t, pol, *got.Policy)
	assert.Equal(t, model.OriginExternalRFP, got.OriginType)
}

func TestSQLite_SetProjectOrigin_Unknown(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.SetProjectOrigin(context.Background(), "no-such-project", model.OriginPolicy{})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// --- RFPs ---

func TestSQLite_RfpRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProject(t, st)
	rfp := seedRfp(t, st, p.ID, model.StatusEmpty)

	got, err := st.GetRfp(ctx, rfp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEmpty, got.Status)

	got.Status = model.StatusUploaded
	got.PreviousStatus = model.StatusEmpty
	got.VersionCount = 1
	require.NoError(t, st.UpdateRfp(ctx, got))

	got2, err := st.GetRfp(ctx, rfp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploaded, got2.Status)
	assert.Equal(t, model.StatusEmpty, got2.PreviousStatus)
	assert.Equal(t, 1, got2.VersionCount)
}

func TestSQLite_ListRfps_Filter(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p1 := seedProject(t, st)
	p2 := seedProject(t, st)
	seedRfp(t, st, p1.ID, model.StatusUploaded)
	seedRfp(t, st, p1.ID, model.StatusConfirmed)
	seedRfp(t, st, p2.ID, model.StatusUploaded)

	all, err := st.ListRfps(ctx, RfpFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byProject, err := st.ListRfps(ctx, RfpFilter{ProjectID: p1.ID})
	require.NoError(t, err)
	assert.Len(t, byProject, 2)

	byStatus, err := st.ListRfps(ctx, RfpFilter{Status: model.StatusConfirmed})
	require.NoError(t, err)
	assert.Len(t, byStatus, 1)
}

// --- Versions ---

func TestSQLite_VersionsByLabel(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProject(t, st)
	rfp := seedRfp(t, st, p.ID, model.StatusUploaded)
	seedVersion(t, st, rfp.ID, "v1")
	seedVersion(t, st, rfp.ID, "v2")

	v, err := st.GetVersionByLabel(ctx, rfp.ID, "v2")
	require.NoError(t, err)
	assert.Equal(t, "v2", v.VersionLabel)

	_, err = st.GetVersionByLabel(ctx, rfp.ID, "v9")
	assert.ErrorIs(t, err, model.ErrNotFound)

	versions, err := st.ListVersions(ctx, rfp.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "v1", versions[0].VersionLabel)
}

// --- Runs and candidates ---

func TestSQLite_CompleteRun_AtomicAndDeactivates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProject(t, st)
	rfp := seedRfp(t, st, p.ID, model.StatusUploaded)
	v := seedVersion(t, st, rfp.ID, "v1")

	old := &model.ExtractionRun{
		ID: uuid.New().String(), RfpID: rfp.ID, VersionID: v.ID,
		Status: model.RunCompleted, IsActive: true,
	}
	require.NoError(t, st.CreateRun(ctx, old))

	now := time.Now().UTC()
	run := &model.ExtractionRun{
		ID: uuid.New().String(), RfpID: rfp.ID, VersionID: v.ID,
		ModelName: "claude-sonnet-4-5", PromptVersion: "p2", SchemaVersion: "s1",
		Params: model.GenerationParams{Temperature: 0.2, TopP: 0.9, MaxTokens: 4096},
		Status: model.RunCompleted, CompletedAt: &now,
		Stats: &model.RunStats{CandidateCount: 2, AmbiguousCount: 1, AvgConfidence: 0.8},
	}
	require.NoError(t, st.CreateRun(ctx, run))

	cands := []model.RequirementCandidate{
		{ID: uuid.New().String(), RunID: run.ID, ReqKey: "REQ-001", Text: "a", Category: model.CategoryFunctional, Confidence: 0.9, Status: model.CandidateProposed},
		{ID: uuid.New().String(), RunID: run.ID, ReqKey: "REQ-002", Text: "b", Category: model.CategoryConstraint, Confidence: 0.7, Status: model.CandidateProposed, IsAmbiguous: true, DuplicateRefs: []string{"REQ-001"}},
	}
	require.NoError(t, st.CompleteRun(ctx, run, cands))

	active, err := st.GetActiveRun(ctx, rfp.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, active.ID)
	require.NotNil(t, active.Stats)
	assert.Equal(t, 2, active.Stats.CandidateCount)
	assert.InDelta(t, 0.2, active.Params.Temperature, 1e-9)

	prior, err := st.GetRun(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, prior.IsActive)

	list, err := st.ListCandidates(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []string{"REQ-001"}, list[1].DuplicateRefs)
	assert.True(t, list[1].IsAmbiguous)
}

func TestSQLite_UpdateCandidateReview(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProject(t, st)
	rfp := seedRfp(t, st, p.ID, model.StatusUploaded)
	v := seedVersion(t, st, rfp.ID, "v1")
	run := &model.ExtractionRun{ID: uuid.New().String(), RfpID: rfp.ID, VersionID: v.ID, Status: model.RunCompleted}
	require.NoError(t, st.CreateRun(ctx, run))
	c := model.RequirementCandidate{ID: uuid.New().String(), RunID: run.ID, ReqKey: "REQ-001", Text: "t", Category: model.CategoryFunctional, Status: model.CandidateProposed}
	require.NoError(t, st.CompleteRun(ctx, run, []model.RequirementCandidate{c}))

	now := time.Now().UTC().Truncate(time.Second)
	c.Status = model.CandidateModified
	c.EditedText = "tightened wording"
	c.ReviewedBy = "sam"
	c.ReviewedAt = &now
	require.NoError(t, st.UpdateCandidate(ctx, &c))

	got, err := st.GetCandidate(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CandidateModified, got.Status)
	assert.Equal(t, "tightened wording", got.EditedText)
	assert.Equal(t, "sam", got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)
}

// --- Requirements and events ---

func TestSQLite_ConfirmRequirements_Transactional(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	p := seedProject(t, st)
	rfp := seedRfp(t, st, p.ID, model.StatusReviewing)
	v := seedVersion(t, st, rfp.ID, "v1")

	now := time.Now().UTC()
	reqs := []model.Requirement{
		{ID: uuid.New().String(), RfpID: rfp.ID, VersionID: v.ID, RunID: "r", CandidateID: "c1", ReqKey: "REQ-001", Text: "a", Category: model.CategoryFunctional, ConfirmedBy: "sam", ConfirmedAt: now},
		{ID: uuid.New().String(), RfpID: rfp.ID, VersionID: v.ID, RunID: "r", CandidateID: "c2", ReqKey: "REQ-002", Text: "b", Category: model.CategoryConstraint, ConfirmedBy: "sam", ConfirmedAt: now},
	}
	events := []model.ChangeEvent{
		{ID: uuid.New().String(), RequirementID: reqs[0].ID, Type: model.ChangeCreate, Actor: "sam", OccurredAt: now},
		{ID: uuid.New().String(), RequirementID: reqs[1].ID, Type: model.ChangeCreate, Actor: "sam", OccurredAt: now},
	}
	rfp.PreviousStatus = rfp.Status
	rfp.Status = model.StatusConfirmed
	require.NoError(t, st.ConfirmRequirements(ctx, rfp, reqs, events))

	got, err := st.GetRfp(ctx, rfp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, got.Status)

	list, err := st.ListRequirements(ctx, rfp.ID, v.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, "REQ-001", list[0].ReqKey)

	evs, err := st.ListChangeEvents(ctx, reqs[0].ID)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, model.ChangeCreate, evs[0].Type)
}

// --- Staged confirmations ---

func TestSQLite_StagedConfirmation_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetStagedConfirmation(ctx, "rfp-1")
	assert.ErrorIs(t, err, model.ErrNotFound)

	sc := &StagedConfirmation{
		RfpID: "rfp-1", VersionID: "v-1", Actor: "sam",
		Requirements: []model.Requirement{{ID: "r1", ReqKey: "REQ-001", Text: "a"}},
	}
	require.NoError(t, st.SaveStagedConfirmation(ctx, sc))

	got, err := st.GetStagedConfirmation(ctx, "rfp-1")
	require.NoError(t, err)
	assert.Equal(t, "sam", got.Actor)
	require.Len(t, got.Requirements, 1)

	require.NoError(t, st.DeleteStagedConfirmation(ctx, "rfp-1"))
	_, err = st.GetStagedConfirmation(ctx, "rfp-1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

// --- Blobs ---

func TestSQLite_Blobs_ContentAddressed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.PutBlob(ctx, "sum1", []byte("document body")))
	// Re-putting the same checksum is a no-op, not an error.
	require.NoError(t, st.PutBlob(ctx, "sum1", []byte("document body")))

	data, err := st.GetBlob(ctx, "sum1")
	require.NoError(t, err)
	assert.Equal(t, "document body", string(data))

	_, err = st.GetBlob(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
