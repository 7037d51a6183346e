package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rfp-intake/internal/model"
	"github.com/sells-group/rfp-intake/internal/store"
)

type fixture struct {
	store     store.Store
	req       *model.Requirement
	candidate *model.RequirementCandidate
	version   *model.RfpVersion
}

// newFixture seeds one confirmed requirement with full provenance. checksum
// controls what the version records; data is what the blob store holds under
// that key.
func newFixture(t *testing.T, checksum string, data []byte) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "evidence.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	now := time.Now().UTC()
	project := &model.Project{ID: uuid.NewString(), Name: "Evidence Fixture", CreatedAt: now}
	require.NoError(t, st.CreateProject(ctx, project))

	rfp := &model.Rfp{
		ID: uuid.NewString(), ProjectID: project.ID, Title: "Evidence RFP",
		OriginType: model.OriginExternalRFP, Status: model.StatusConfirmed,
		CreatedBy: "alice", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.CreateRfp(ctx, rfp))

	if data != nil {
		require.NoError(t, st.PutBlob(ctx, checksum, data))
	}

	v := &model.RfpVersion{
		ID: uuid.NewString(), RfpID: rfp.ID, VersionLabel: "v1",
		FileChecksum: checksum, FileURI: "blob:sha256/" + checksum,
		ContentType: "text/plain", SizeBytes: int64(len(data)),
		UploadedBy: "alice", UploadedAt: now,
	}
	require.NoError(t, st.CreateVersion(ctx, v))

	run := &model.ExtractionRun{
		ID: uuid.NewString(), RfpID: rfp.ID, VersionID: v.ID,
		ModelName: "claude-sonnet-4-5", ModelVersion: "claude-sonnet-4-5",
		PromptVersion: "rfp-extract-v2", SchemaVersion: "candidate-v1",
		Params: model.GenerationParams{Temperature: 0.2, TopP: 0.9, MaxTokens: 4096},
		Status: model.RunPending, IsActive: true, StartedAt: now,
	}
	require.NoError(t, st.CreateRun(ctx, run))

	candidate := model.RequirementCandidate{
		ID: uuid.NewString(), RunID: run.ID, ReqKey: "R-1",
		Text: "The system shall export PDF reports.", Category: model.CategoryFunctional,
		Confidence: 0.93, SourceParagraphID: "p-12", SourceSection: "3.1",
		SourceQuote: "the system shall export PDF reports",
		Status:      model.CandidateProposed,
	}
	run.Status = model.RunCompleted
	run.CompletedAt = &now
	require.NoError(t, st.CompleteRun(ctx, run, []model.RequirementCandidate{candidate}))

	req := model.Requirement{
		ID: uuid.NewString(), RfpID: rfp.ID, VersionID: v.ID,
		RunID: run.ID, CandidateID: candidate.ID,
		ReqKey: "R-1", Text: candidate.Text, Category: model.CategoryFunctional,
		ConfirmedBy: "bob", ConfirmedAt: now,
	}
	events := []model.ChangeEvent{{
		ID: uuid.NewString(), RequirementID: req.ID,
		Type: model.ChangeCreate, Actor: "bob", OccurredAt: now,
	}}
	require.NoError(t, st.ConfirmRequirements(ctx, rfp, []model.Requirement{req}, events))

	return &fixture{store: st, req: &req, candidate: &candidate, version: v}
}

func checksumOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestGetEvidence_Complete(t *testing.T) {
	ctx := context.Background()
	doc := []byte("Section 3.1: the system shall export PDF reports.")
	fx := newFixture(t, checksumOf(doc), doc)

	ledger := NewLedger(fx.store, nil)
	ev, err := ledger.GetEvidence(ctx, fx.req.ID)
	require.NoError(t, err)

	assert.Equal(t, model.IntegrityVerified, ev.Source.IntegrityStatus)
	assert.Equal(t, fx.version.FileChecksum, ev.Source.FileChecksum)
	assert.Equal(t, "3.1", ev.Source.Section)
	assert.Equal(t, "p-12", ev.Source.ParagraphID)
	assert.Equal(t, "the system shall export PDF reports", ev.Source.Quote)

	require.NotNil(t, ev.AI)
	assert.Equal(t, "claude-sonnet-4-5", ev.AI.ModelName)
	assert.Equal(t, "rfp-extract-v2", ev.AI.PromptVersion)
	assert.InDelta(t, 0.93, ev.AI.Confidence, 1e-9)
	assert.False(t, ev.AI.WasEdited)

	require.Len(t, ev.Changes, 1)
	assert.Equal(t, model.ChangeCreate, ev.Changes[0].Type)

	assert.False(t, ev.Incomplete)
	assert.Empty(t, ev.MissingParts)
}

func TestGetEvidence_TamperedBlob(t *testing.T) {
	ctx := context.Background()
	// The version records a checksum, but the blob stored under that key
	// holds different bytes.
	fx := newFixture(t, checksumOf([]byte("original document")), []byte("tampered document"))

	ledger := NewLedger(fx.store, nil)
	ev, err := ledger.GetEvidence(ctx, fx.req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntegrityModified, ev.Source.IntegrityStatus)
}

func TestGetEvidence_MissingBlob(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, checksumOf([]byte("never stored")), nil)

	ledger := NewLedger(fx.store, nil)
	ev, err := ledger.GetEvidence(ctx, fx.req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.IntegrityMissing, ev.Source.IntegrityStatus)
}

func TestGetEvidence_WasEditedFollowsCandidateStatus(t *testing.T) {
	ctx := context.Background()
	doc := []byte("doc")
	fx := newFixture(t, checksumOf(doc), doc)

	c, err := fx.store.GetCandidate(ctx, fx.candidate.ID)
	require.NoError(t, err)
	c.Status = model.CandidateModified
	c.EditedText = "The system shall export PDF and CSV reports."
	require.NoError(t, fx.store.UpdateCandidate(ctx, c))

	ledger := NewLedger(fx.store, nil)
	ev, err := ledger.GetEvidence(ctx, fx.req.ID)
	require.NoError(t, err)
	require.NotNil(t, ev.AI)
	assert.True(t, ev.AI.WasEdited)
}

func TestGetEvidence_UnknownRequirement(t *testing.T) {
	ctx := context.Background()
	doc := []byte("doc")
	fx := newFixture(t, checksumOf(doc), doc)

	ledger := NewLedger(fx.store, nil)
	_, err := ledger.GetEvidence(ctx, "no-such-requirement")
	require.ErrorIs(t, err, model.ErrNotFound)
}
