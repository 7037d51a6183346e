package review

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rfp-intake/internal/lock"
	"github.com/sells-group/rfp-intake/internal/model"
	"github.com/sells-group/rfp-intake/internal/policy"
	"github.com/sells-group/rfp-intake/internal/store"
)

type fixture struct {
	store  store.Store
	engine *Engine
	rfp    *model.Rfp
	run    *model.ExtractionRun
	// candidate ids by req key
	ids map[string]string
}

// newFixture seeds an EXTRACTED RFP with a completed run holding three
// candidates: R-1 and R-2 plain, R-3 ambiguous.
func newFixture(t *testing.T, origin model.OriginType) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "review.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	project := &model.Project{ID: uuid.NewString(), Name: "Review Fixture", CreatedAt: time.Now().UTC()}
	require.NoError(t, st.CreateProject(ctx, project))
	require.NoError(t, st.SetProjectOrigin(ctx, project.ID, policy.Resolve(origin)))

	now := time.Now().UTC()
	rfp := &model.Rfp{
		ID: uuid.NewString(), ProjectID: project.ID, Title: "Fixture",
		OriginType: origin, Status: model.StatusExtracted,
		VersionCount: 1, CreatedBy: "alice", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.CreateRfp(ctx, rfp))

	fx := &fixture{store: st, engine: NewEngine(st, lock.NewKeyedMutex()), rfp: rfp, ids: map[string]string{}}
	fx.run = fx.seedRun(t, "v1", []model.RequirementCandidate{
		{ReqKey: "R-1", Text: "Export PDF reports.", Category: model.CategoryFunctional, Confidence: 0.95},
		{ReqKey: "R-2", Text: "Respond within 200ms.", Category: model.CategoryNonFunctional, Confidence: 0.85},
		{ReqKey: "R-3", Text: "Comply with relevant standards.", Category: model.CategoryConstraint, Confidence: 0.4, IsAmbiguous: true},
	})
	return fx
}

func (fx *fixture) seedRun(t *testing.T, label string, candidates []model.RequirementCandidate) *model.ExtractionRun {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	v := &model.RfpVersion{
		ID: uuid.NewString(), RfpID: fx.rfp.ID, VersionLabel: label,
		FileChecksum: "sum-" + label, FileURI: "blob:sha256/sum-" + label,
		ContentType: "text/plain", SizeBytes: 10, UploadedBy: "alice", UploadedAt: now,
	}
	require.NoError(t, fx.store.CreateVersion(ctx, v))

	run := &model.ExtractionRun{
		ID: uuid.NewString(), RfpID: fx.rfp.ID, VersionID: v.ID,
		ModelName: "claude-sonnet-4-5", Status: model.RunPending, IsActive: true, StartedAt: now,
	}
	require.NoError(t, fx.store.CreateRun(ctx, run))

	for i := range candidates {
		candidates[i].ID = uuid.NewString()
		candidates[i].RunID = run.ID
		candidates[i].Status = model.CandidateProposed
		fx.ids[candidates[i].ReqKey] = candidates[i].ID
	}
	run.Status = model.RunCompleted
	run.CompletedAt = &now
	require.NoError(t, fx.store.CompleteRun(ctx, run, candidates))
	return run
}

func (fx *fixture) candidate(t *testing.T, reqKey string) *model.RequirementCandidate {
	t.Helper()
	c, err := fx.store.GetCandidate(context.Background(), fx.ids[reqKey])
	require.NoError(t, err)
	return c
}

func TestAccept_IdempotentAndTerminalRejection(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, model.OriginInternalInitiative)

	require.NoError(t, fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-1"]}, "bob"))
	require.NoError(t, fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-1"]}, "bob"))
	assert.Equal(t, model.CandidateAccepted, fx.candidate(t, "R-1").Status)

	// First review action moved the RFP into REVIEWING.
	rfp, err := fx.store.GetRfp(ctx, fx.rfp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReviewing, rfp.Status)

	require.NoError(t, fx.engine.Reject(ctx, fx.rfp.ID, []string{fx.ids["R-2"]}, "bob"))
	require.NoError(t, fx.engine.Reject(ctx, fx.rfp.ID, []string{fx.ids["R-2"]}, "bob"))

	err = fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-2"]}, "bob")
	require.ErrorIs(t, err, model.ErrAlreadyRejected)
}

func TestAccept_UnknownCandidate(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, model.OriginInternalInitiative)

	err := fx.engine.Accept(ctx, fx.rfp.ID, []string{"no-such-id"}, "bob")
	require.ErrorIs(t, err, model.ErrInvalidCandidateID)
}

func TestReject_ReversesAccepted(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, model.OriginInternalInitiative)

	require.NoError(t, fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-1"]}, "bob"))
	require.NoError(t, fx.engine.Reject(ctx, fx.rfp.ID, []string{fx.ids["R-1"]}, "bob"))
	assert.Equal(t, model.CandidateRejected, fx.candidate(t, "R-1").Status)
}

func TestEdit_StampsAndRejectsRejected(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, model.OriginInternalInitiative)

	require.NoError(t, fx.engine.Edit(ctx, fx.rfp.ID, fx.ids["R-3"], "Comply with ISO 27001.", "carol"))
	c := fx.candidate(t, "R-3")
	assert.Equal(t, model.CandidateModified, c.Status)
	assert.Equal(t, "Comply with ISO 27001.", c.EditedText)
	assert.Equal(t, "Comply with ISO 27001.", c.EffectiveText())
	assert.Equal(t, "carol", c.ReviewedBy)
	require.NotNil(t, c.ReviewedAt)

	require.NoError(t, fx.engine.Reject(ctx, fx.rfp.ID, []string{fx.ids["R-3"]}, "carol"))
	err := fx.engine.Edit(ctx, fx.rfp.ID, fx.ids["R-3"], "Another text.", "carol")
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestReview_RequiresExtractedOrReviewing(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, model.OriginInternalInitiative)

	fx.rfp.Status = model.StatusParsing
	require.NoError(t, fx.store.UpdateRfp(ctx, fx.rfp))

	err := fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-1"]}, "bob")
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestMerge_RejectsDuplicatesAndRecordsEvent(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, model.OriginInternalInitiative)

	require.NoError(t, fx.engine.Merge(ctx, fx.rfp.ID, fx.ids["R-1"], []string{fx.ids["R-2"]}, "bob", "same reporting requirement"))

	primary := fx.candidate(t, "R-1")
	assert.Equal(t, model.CandidateAccepted, primary.Status)
	assert.Contains(t, primary.DuplicateRefs, "R-2")
	assert.Equal(t, model.CandidateRejected, fx.candidate(t, "R-2").Status)

	events, err := fx.store.ListChangeEvents(ctx, primary.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.ChangeMerge, events[0].Type)
	assert.Equal(t, "same reporting requirement", events[0].Reason)
}

func TestHoldAndResume(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, model.OriginInternalInitiative)

	// Enter REVIEWING via a review action first.
	require.NoError(t, fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-1"]}, "bob"))

	require.NoError(t, fx.engine.Hold(ctx, fx.rfp.ID))
	rfp, err := fx.store.GetRfp(ctx, fx.rfp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOnHold, rfp.Status)

	err = fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-2"]}, "bob")
	require.ErrorIs(t, err, model.ErrInvalidState)

	require.NoError(t, fx.engine.Resume(ctx, fx.rfp.ID))
	require.NoError(t, fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-2"]}, "bob"))
}

func TestAccept_PreservesEdit(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, model.OriginInternalInitiative)

	require.NoError(t, fx.engine.Edit(ctx, fx.rfp.ID, fx.ids["R-1"], "Export PDF and CSV reports.", "carol"))

	// A bulk accept sweeping up the edited candidate must not demote it.
	require.NoError(t, fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-1"], fx.ids["R-2"]}, "bob"))
	c := fx.candidate(t, "R-1")
	assert.Equal(t, model.CandidateModified, c.Status)
	assert.Equal(t, "Export PDF and CSV reports.", c.EffectiveText())

	require.NoError(t, fx.engine.Reject(ctx, fx.rfp.ID, []string{fx.ids["R-3"]}, "bob"))
	res, err := fx.engine.Confirm(ctx, fx.rfp.ID, "bob")
	require.NoError(t, err)
	require.True(t, res.Confirmed)

	byKey := map[string]string{}
	for _, req := range res.Requirements {
		byKey[req.ReqKey] = req.Text
	}
	assert.Equal(t, "Export PDF and CSV reports.", byKey["R-1"], "confirmation keeps the reviewer's edit")
	assert.Equal(t, "Respond within 200ms.", byKey["R-2"])
}

func TestRequestReanalysis_DuringReview(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, model.OriginInternalInitiative)

	// Mid-review, the reviewer decides the extraction is stale.
	require.NoError(t, fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-1"]}, "bob"))
	require.NoError(t, fx.engine.RequestReanalysis(ctx, fx.rfp.ID))

	rfp, err := fx.store.GetRfp(ctx, fx.rfp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsReanalysis, rfp.Status)
	assert.Equal(t, model.StatusReviewing, rfp.PreviousStatus)

	// Review is closed until the next run completes.
	err = fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-2"]}, "bob")
	require.ErrorIs(t, err, model.ErrInvalidState)

	// Prior review decisions survive the request.
	assert.Equal(t, model.CandidateAccepted, fx.candidate(t, "R-1").Status)
}

func TestRequestReanalysis_FromExtracted(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, model.OriginInternalInitiative)

	require.NoError(t, fx.engine.RequestReanalysis(ctx, fx.rfp.ID))

	rfp, err := fx.store.GetRfp(ctx, fx.rfp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusNeedsReanalysis, rfp.Status)

	// Not legal twice in a row; the RFP is already out of review.
	err = fx.engine.RequestReanalysis(ctx, fx.rfp.ID)
	require.True(t, model.IsIllegalTransition(err))
}

func TestConfirm_FullEvidenceRequiresAmbiguousReview(t *testing.T) {
	ctx := context.Background()
	// EXTERNAL_RFP: evidence level FULL.
	fx := newFixture(t, model.OriginExternalRFP)

	require.NoError(t, fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-1"]}, "bob"))
	require.NoError(t, fx.engine.Reject(ctx, fx.rfp.ID, []string{fx.ids["R-2"]}, "bob"))

	// R-3 is ambiguous and still PROPOSED: confirmation must not go through.
	res, err := fx.engine.Confirm(ctx, fx.rfp.ID, "bob")
	require.NoError(t, err)
	assert.False(t, res.Confirmed)
	assert.True(t, res.Incomplete)
	assert.Equal(t, []string{fx.ids["R-3"]}, res.UnreviewedAmbiguous)

	rfp, err := fx.store.GetRfp(ctx, fx.rfp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReviewing, rfp.Status)

	// Reviewing the ambiguous candidate unblocks confirmation.
	require.NoError(t, fx.engine.Edit(ctx, fx.rfp.ID, fx.ids["R-3"], "Comply with ISO 27001:2022.", "bob"))
	res, err = fx.engine.Confirm(ctx, fx.rfp.ID, "bob")
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	require.Len(t, res.Requirements, 2)

	rfp, err = fx.store.GetRfp(ctx, fx.rfp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, rfp.Status)

	reqs, err := fx.store.ListRequirements(ctx, fx.rfp.ID, fx.run.VersionID)
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	byKey := map[string]model.Requirement{}
	for _, r := range reqs {
		byKey[r.ReqKey] = r
		events, err := fx.store.ListChangeEvents(ctx, r.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, model.ChangeCreate, events[0].Type)
	}
	assert.Equal(t, "Export PDF reports.", byKey["R-1"].Text)
	assert.Equal(t, "Comply with ISO 27001:2022.", byKey["R-3"].Text, "modified candidates promote their edited text")
}

func TestConfirm_PartialEvidenceAllowsUnreviewedAmbiguous(t *testing.T) {
	ctx := context.Background()
	// INTERNAL_INITIATIVE: evidence level PARTIAL.
	fx := newFixture(t, model.OriginInternalInitiative)

	require.NoError(t, fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-1"], fx.ids["R-2"]}, "bob"))

	res, err := fx.engine.Confirm(ctx, fx.rfp.ID, "bob")
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Len(t, res.Requirements, 2, "ambiguous PROPOSED candidate is simply not promoted")
}

func TestConfirm_ReconfirmationStagedForApproval(t *testing.T) {
	ctx := context.Background()
	// EXTERNAL_RFP: changeApprovalRequired.
	fx := newFixture(t, model.OriginExternalRFP)

	// First confirmation commits directly.
	require.NoError(t, fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-1"], fx.ids["R-2"]}, "bob"))
	require.NoError(t, fx.engine.Edit(ctx, fx.rfp.ID, fx.ids["R-3"], "Comply with ISO 27001.", "bob"))
	res, err := fx.engine.Confirm(ctx, fx.rfp.ID, "bob")
	require.NoError(t, err)
	require.True(t, res.Confirmed)

	// A second version arrives and is extracted.
	fx.rfp.Status = model.StatusExtracted
	require.NoError(t, fx.store.UpdateRfp(ctx, fx.rfp))
	fx.seedRun(t, "v2", []model.RequirementCandidate{
		{ReqKey: "R-1", Text: "Export PDF and CSV reports.", Category: model.CategoryFunctional, Confidence: 0.9},
	})

	require.NoError(t, fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-1"]}, "bob"))
	res, err = fx.engine.Confirm(ctx, fx.rfp.ID, "bob")
	require.NoError(t, err)
	assert.True(t, res.PendingApproval)
	assert.False(t, res.Confirmed)

	// Still REVIEWING until the approver decides.
	rfp, err := fx.store.GetRfp(ctx, fx.rfp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReviewing, rfp.Status)

	got, err := fx.engine.ObserveApproval(ctx, fx.rfp.ID, true, "approver")
	require.NoError(t, err)
	assert.True(t, got.Confirmed)

	rfp, err = fx.store.GetRfp(ctx, fx.rfp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, rfp.Status)

	_, err = fx.store.GetStagedConfirmation(ctx, fx.rfp.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestObserveApproval_RejectionDiscardsStage(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, model.OriginExternalRFP)

	require.NoError(t, fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-1"], fx.ids["R-2"]}, "bob"))
	require.NoError(t, fx.engine.Edit(ctx, fx.rfp.ID, fx.ids["R-3"], "Comply.", "bob"))
	_, err := fx.engine.Confirm(ctx, fx.rfp.ID, "bob")
	require.NoError(t, err)

	fx.rfp.Status = model.StatusExtracted
	require.NoError(t, fx.store.UpdateRfp(ctx, fx.rfp))
	fx.seedRun(t, "v2", []model.RequirementCandidate{
		{ReqKey: "R-1", Text: "Revised requirement.", Category: model.CategoryFunctional, Confidence: 0.9},
	})
	require.NoError(t, fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-1"]}, "bob"))
	res, err := fx.engine.Confirm(ctx, fx.rfp.ID, "bob")
	require.NoError(t, err)
	require.True(t, res.PendingApproval)

	got, err := fx.engine.ObserveApproval(ctx, fx.rfp.ID, false, "approver")
	require.NoError(t, err)
	assert.False(t, got.Confirmed)

	rfp, err := fx.store.GetRfp(ctx, fx.rfp.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReviewing, rfp.Status, "discarded approval leaves review open")
}

func TestKPI(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, model.OriginInternalInitiative)

	require.NoError(t, fx.engine.Accept(ctx, fx.rfp.ID, []string{fx.ids["R-1"]}, "bob"))
	require.NoError(t, fx.engine.Reject(ctx, fx.rfp.ID, []string{fx.ids["R-2"]}, "bob"))

	kpi, err := fx.engine.KPI(ctx, fx.rfp.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, kpi.CandidateCount)
	assert.Equal(t, 1, kpi.AcceptedCount)
	assert.Equal(t, 1, kpi.RejectedCount)
	assert.Equal(t, 1, kpi.ProposedCount)
	assert.Equal(t, 1, kpi.AmbiguousCount)
	assert.InDelta(t, (0.95+0.85+0.4)/3, kpi.AvgConfidence, 1e-9)
}
