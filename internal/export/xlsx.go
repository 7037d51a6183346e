// Package export renders confirmed requirements and version diffs as XLSX
// workbooks for hand-off to procurement and delivery teams.
package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/rfp-intake/internal/model"
)

var requirementHeader = []string{
	"Req Key", "Category", "Text", "Confirmed By", "Confirmed At", "Version", "Requirement ID",
}

var diffHeader = []string{
	"Req Key", "Change", "Category", "Text", "Previous Text",
	"Epics", "WBS", "Sprints", "Tests",
}

// WriteRequirements writes one sheet of confirmed requirements, ordered by
// req key.
func WriteRequirements(w io.Writer, rfp *model.Rfp, versionLabel string, reqs []model.Requirement) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Requirements")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	addRow(sheet, requirementHeader)

	sorted := make([]model.Requirement, len(reqs))
	copy(sorted, reqs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ReqKey < sorted[j].ReqKey })

	for _, r := range sorted {
		addRow(sheet, []string{
			r.ReqKey,
			string(r.Category),
			r.Text,
			r.ConfirmedBy,
			r.ConfirmedAt.UTC().Format("2006-01-02 15:04:05"),
			versionLabel,
			r.ID,
		})
	}

	title, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}
	addRow(title, []string{"RFP", rfp.Title})
	addRow(title, []string{"Status", rfp.Status.Label()})
	addRow(title, []string{"Version", versionLabel})
	addRow(title, []string{"Requirements", fmt.Sprintf("%d", len(sorted))})

	return eris.Wrap(f.Write(w), "export: write workbook")
}

// WriteDiff writes a version-to-version diff. Entries keep the engine's
// req-key ordering so repeated exports of the same diff are identical.
func WriteDiff(w io.Writer, d *model.RfpDiff) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(fmt.Sprintf("%s to %s", d.FromVersion, d.ToVersion))
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	addRow(sheet, diffHeader)
	for _, entry := range d.Entries {
		addRow(sheet, []string{
			entry.ReqKey,
			string(entry.Kind),
			string(entry.Category),
			entry.Text,
			entry.PreviousText,
			fmt.Sprintf("%d", entry.Impact.AffectedEpics),
			fmt.Sprintf("%d", entry.Impact.AffectedWbs),
			fmt.Sprintf("%d", entry.Impact.AffectedSprints),
			fmt.Sprintf("%d", entry.Impact.AffectedTests),
		})
	}
	addRow(sheet, nil)
	addRow(sheet, []string{
		"Totals",
		fmt.Sprintf("new=%d removed=%d modified=%d", d.Totals.New, d.Totals.Removed, d.Totals.Modified),
	})

	return eris.Wrap(f.Write(w), "export: write workbook")
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().Value = c
	}
}
