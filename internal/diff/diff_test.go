package diff

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rfp-intake/internal/model"
	"github.com/sells-group/rfp-intake/internal/store"
)

// stubLinks serves canned trace links per requirement id.
type stubLinks struct {
	links map[string][]model.TraceLink
}

func (s stubLinks) LinksFor(_ context.Context, requirementID string) ([]model.TraceLink, error) {
	return s.links[requirementID], nil
}

type fixture struct {
	store store.Store
	rfpID string
	// requirement ids by "label/reqKey"
	reqIDs map[string]string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "diff.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))
	t.Cleanup(func() { _ = st.Close() })

	now := time.Now().UTC()
	project := &model.Project{ID: uuid.NewString(), Name: "Diff Fixture", CreatedAt: now}
	require.NoError(t, st.CreateProject(ctx, project))

	rfp := &model.Rfp{
		ID: uuid.NewString(), ProjectID: project.ID, Title: "Diff RFP",
		OriginType: model.OriginExternalRFP, Status: model.StatusConfirmed,
		CreatedBy: "alice", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.CreateRfp(ctx, rfp))

	return &fixture{store: st, rfpID: rfp.ID, reqIDs: map[string]string{}}
}

// seedConfirmed creates a version with confirmed requirements keyed
// reqKey -> text.
func (fx *fixture) seedConfirmed(t *testing.T, label string, reqs map[string]string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	v := &model.RfpVersion{
		ID: uuid.NewString(), RfpID: fx.rfpID, VersionLabel: label,
		FileChecksum: "sum-" + label, FileURI: "blob:sha256/sum-" + label,
		ContentType: "text/plain", SizeBytes: 1, UploadedBy: "alice", UploadedAt: now,
	}
	require.NoError(t, fx.store.CreateVersion(ctx, v))

	run := &model.ExtractionRun{
		ID: uuid.NewString(), RfpID: fx.rfpID, VersionID: v.ID,
		Status: model.RunCompleted, StartedAt: now,
	}
	require.NoError(t, fx.store.CreateRun(ctx, run))

	rfp, err := fx.store.GetRfp(ctx, fx.rfpID)
	require.NoError(t, err)

	var confirmed []model.Requirement
	var events []model.ChangeEvent
	for key, text := range reqs {
		req := model.Requirement{
			ID: uuid.NewString(), RfpID: fx.rfpID, VersionID: v.ID,
			RunID: run.ID, CandidateID: uuid.NewString(),
			ReqKey: key, Text: text, Category: model.CategoryFunctional,
			ConfirmedBy: "alice", ConfirmedAt: now,
		}
		fx.reqIDs[label+"/"+key] = req.ID
		confirmed = append(confirmed, req)
		events = append(events, model.ChangeEvent{
			ID: uuid.NewString(), RequirementID: req.ID,
			Type: model.ChangeCreate, Actor: "alice", OccurredAt: now,
		})
	}
	require.NoError(t, fx.store.ConfirmRequirements(ctx, rfp, confirmed, events))
}

func TestCompare(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedConfirmed(t, "v1", map[string]string{
		"R-1": "Export PDF reports.",
		"R-2": "Retain logs for 5 years.",
		"R-4": "Unchanged requirement.",
	})
	fx.seedConfirmed(t, "v2", map[string]string{
		"R-1": "Export PDF and CSV reports.",
		"R-3": "Support SSO login.",
		"R-4": "Unchanged requirement.",
	})

	eng := NewEngine(fx.store, nil)
	d, err := eng.Compare(ctx, fx.rfpID, "v1", "v2")
	require.NoError(t, err)

	require.Len(t, d.Entries, 3)
	assert.Equal(t, model.DiffTotals{New: 1, Removed: 1, Modified: 1}, d.Totals)

	// Ordered by reqKey ascending.
	assert.Equal(t, "R-1", d.Entries[0].ReqKey)
	assert.Equal(t, model.DiffModified, d.Entries[0].Kind)
	assert.Equal(t, "Export PDF and CSV reports.", d.Entries[0].Text)
	assert.Equal(t, "Export PDF reports.", d.Entries[0].PreviousText)

	assert.Equal(t, "R-2", d.Entries[1].ReqKey)
	assert.Equal(t, model.DiffRemoved, d.Entries[1].Kind)
	assert.Equal(t, "Retain logs for 5 years.", d.Entries[1].Text)

	assert.Equal(t, "R-3", d.Entries[2].ReqKey)
	assert.Equal(t, model.DiffNew, d.Entries[2].Kind)
}

func TestCompare_Deterministic(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedConfirmed(t, "v1", map[string]string{
		"R-1": "a", "R-2": "b", "R-3": "c", "R-4": "d", "R-5": "e",
	})
	fx.seedConfirmed(t, "v2", map[string]string{
		"R-1": "a2", "R-2": "b", "R-6": "f", "R-7": "g",
	})

	eng := NewEngine(fx.store, nil)
	first, err := eng.Compare(ctx, fx.rfpID, "v1", "v2")
	require.NoError(t, err)
	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := eng.Compare(ctx, fx.rfpID, "v1", "v2")
		require.NoError(t, err)
		againJSON, err := json.Marshal(again)
		require.NoError(t, err)
		assert.Equal(t, string(firstJSON), string(againJSON))
	}
}

func TestCompare_NFCNormalization(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	// "é" precomposed vs combining sequence: same text, not a modification.
	fx.seedConfirmed(t, "v1", map[string]string{"R-1": "résumé parsing"})
	fx.seedConfirmed(t, "v2", map[string]string{"R-1": "résumé parsing"})

	eng := NewEngine(fx.store, nil)
	d, err := eng.Compare(ctx, fx.rfpID, "v1", "v2")
	require.NoError(t, err)
	assert.Empty(t, d.Entries)
}

func TestCompare_NothingToCompare(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedConfirmed(t, "v1", map[string]string{"R-1": "a"})

	// v2 exists but has no confirmed requirements.
	v2 := &model.RfpVersion{
		ID: uuid.NewString(), RfpID: fx.rfpID, VersionLabel: "v2",
		FileChecksum: "sum-v2", FileURI: "blob:sha256/sum-v2",
		ContentType: "text/plain", SizeBytes: 1, UploadedBy: "alice", UploadedAt: time.Now().UTC(),
	}
	require.NoError(t, fx.store.CreateVersion(context.Background(), v2))

	eng := NewEngine(fx.store, nil)
	_, err := eng.Compare(ctx, fx.rfpID, "v1", "v2")
	require.ErrorIs(t, err, model.ErrNothingToCompare)

	_, err = eng.Compare(ctx, fx.rfpID, "v1", "v9")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestCompare_ImpactCounts(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	fx.seedConfirmed(t, "v1", map[string]string{"R-1": "old text", "R-2": "gone"})
	fx.seedConfirmed(t, "v2", map[string]string{"R-1": "new text"})

	links := stubLinks{links: map[string][]model.TraceLink{
		fx.reqIDs["v2/R-1"]: {
			{RequirementID: fx.reqIDs["v2/R-1"], EntityKind: model.EntityEpic, EntityID: "EP-1"},
			{RequirementID: fx.reqIDs["v2/R-1"], EntityKind: model.EntityTest, EntityID: "T-1"},
			{RequirementID: fx.reqIDs["v2/R-1"], EntityKind: model.EntityTest, EntityID: "T-2"},
		},
		fx.reqIDs["v1/R-2"]: {
			{RequirementID: fx.reqIDs["v1/R-2"], EntityKind: model.EntityWbs, EntityID: "W-9"},
		},
	}}

	eng := NewEngine(fx.store, links)
	d, err := eng.Compare(ctx, fx.rfpID, "v1", "v2")
	require.NoError(t, err)

	require.Len(t, d.Entries, 2)
	assert.Equal(t, model.ImpactCounts{AffectedEpics: 1, AffectedTests: 2}, d.Entries[0].Impact)
	assert.Equal(t, model.ImpactCounts{AffectedWbs: 1}, d.Entries[1].Impact)
	assert.Equal(t, model.ImpactCounts{AffectedEpics: 1, AffectedWbs: 1, AffectedTests: 2}, d.Impact)
}
