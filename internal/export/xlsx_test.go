package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/rfp-intake/internal/model"
)

func TestWriteRequirements(t *testing.T) {
	rfp := &model.Rfp{ID: "rfp-1", Title: "Fleet RFP", Status: model.StatusConfirmed}
	confirmedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	reqs := []model.Requirement{
		{ID: "req-b", ReqKey: "R-2", Text: "Respond within 200ms.", Category: model.CategoryNonFunctional, ConfirmedBy: "bob", ConfirmedAt: confirmedAt},
		{ID: "req-a", ReqKey: "R-1", Text: "Export PDF reports.", Category: model.CategoryFunctional, ConfirmedBy: "bob", ConfirmedAt: confirmedAt},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRequirements(&buf, rfp, "v1", reqs))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)

	sheet, ok := f.Sheet["Requirements"]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)

	assert.Equal(t, "Req Key", sheet.Rows[0].Cells[0].String())
	// Rows come out ordered by req key regardless of input order.
	assert.Equal(t, "R-1", sheet.Rows[1].Cells[0].String())
	assert.Equal(t, "Export PDF reports.", sheet.Rows[1].Cells[2].String())
	assert.Equal(t, "2026-03-14 09:30:00", sheet.Rows[1].Cells[4].String())
	assert.Equal(t, "R-2", sheet.Rows[2].Cells[0].String())

	summary, ok := f.Sheet["Summary"]
	require.True(t, ok)
	assert.Equal(t, "Fleet RFP", summary.Rows[0].Cells[1].String())
	assert.Equal(t, "Confirmed", summary.Rows[1].Cells[1].String())
}

func TestWriteDiff(t *testing.T) {
	d := &model.RfpDiff{
		RfpID:       "rfp-1",
		FromVersion: "v1",
		ToVersion:   "v2",
		Entries: []model.DiffEntry{
			{ReqKey: "R-1", Kind: model.DiffModified, Category: model.CategoryFunctional,
				Text: "Export PDF and CSV reports.", PreviousText: "Export PDF reports.",
				Impact: model.ImpactCounts{AffectedEpics: 1, AffectedTests: 2}},
			{ReqKey: "R-3", Kind: model.DiffNew, Category: model.CategoryConstraint, Text: "Support SSO."},
		},
		Totals: model.DiffTotals{New: 1, Modified: 1},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteDiff(&buf, d))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)

	sheet, ok := f.Sheet["v1 to v2"]
	require.True(t, ok)

	assert.Equal(t, "MODIFIED", sheet.Rows[1].Cells[1].String())
	assert.Equal(t, "Export PDF reports.", sheet.Rows[1].Cells[4].String())
	assert.Equal(t, "1", sheet.Rows[1].Cells[5].String())
	assert.Equal(t, "2", sheet.Rows[1].Cells[8].String())
	assert.Equal(t, "NEW", sheet.Rows[2].Cells[1].String())

	last := sheet.Rows[len(sheet.Rows)-1]
	assert.Equal(t, "new=1 removed=0 modified=1", last.Cells[1].String())
}
