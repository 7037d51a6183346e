// Package diff compares the confirmed requirement sets of two versions of
// one RFP. Output is deterministic so a diff can be re-run for audit and
// byte-compared against an archived copy.
package diff

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/rfp-intake/internal/model"
	"github.com/sells-group/rfp-intake/internal/store"
	"github.com/sells-group/rfp-intake/pkg/tracelink"
)

// Engine builds version-to-version diffs. Reads only committed state and
// takes no locks.
type Engine struct {
	store store.Store
	links tracelink.Source
}

// NewEngine creates a diff engine. A nil trace-link source disables impact
// counts.
func NewEngine(st store.Store, links tracelink.Source) *Engine {
	if links == nil {
		links = tracelink.None{}
	}
	return &Engine{store: st, links: links}
}

// Compare diffs the confirmed requirements of two version labels. Both sides
// must have at least one confirmed requirement; otherwise there is nothing
// meaningful to compare and the call fails with ErrNothingToCompare.
func (e *Engine) Compare(ctx context.Context, rfpID, fromLabel, toLabel string) (*model.RfpDiff, error) {
	from, err := e.confirmedByKey(ctx, rfpID, fromLabel)
	if err != nil {
		return nil, err
	}
	to, err := e.confirmedByKey(ctx, rfpID, toLabel)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, len(from)+len(to))
	for k := range from {
		keys[k] = struct{}{}
	}
	for k := range to {
		keys[k] = struct{}{}
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)

	out := &model.RfpDiff{RfpID: rfpID, FromVersion: fromLabel, ToVersion: toLabel}
	for _, key := range ordered {
		prev, inFrom := from[key]
		next, inTo := to[key]

		var entry model.DiffEntry
		switch {
		case inTo && !inFrom:
			entry = model.DiffEntry{ReqKey: key, Kind: model.DiffNew, Category: next.Category, Text: next.Text}
			out.Totals.New++
		case inFrom && !inTo:
			entry = model.DiffEntry{ReqKey: key, Kind: model.DiffRemoved, Category: prev.Category, Text: prev.Text}
			out.Totals.Removed++
		default:
			if sameText(prev.Text, next.Text) {
				continue
			}
			entry = model.DiffEntry{
				ReqKey: key, Kind: model.DiffModified,
				Category: next.Category, Text: next.Text, PreviousText: prev.Text,
			}
			out.Totals.Modified++
		}

		if impact, err := e.impactFor(ctx, prev, next, inFrom, inTo); err == nil {
			entry.Impact = impact
			out.Impact.Add(impact)
		} else {
			return nil, err
		}
		out.Entries = append(out.Entries, entry)
	}
	return out, nil
}

// confirmedByKey loads a version's confirmed requirements indexed by ReqKey.
func (e *Engine) confirmedByKey(ctx context.Context, rfpID, label string) (map[string]model.Requirement, error) {
	v, err := e.store.GetVersionByLabel(ctx, rfpID, label)
	if err != nil {
		return nil, eris.Wrapf(err, "diff: version %s", label)
	}
	reqs, err := e.store.ListRequirements(ctx, rfpID, v.ID)
	if err != nil {
		return nil, eris.Wrap(err, "diff: list requirements")
	}
	if len(reqs) == 0 {
		return nil, eris.Wrapf(model.ErrNothingToCompare, "diff: version %s has no confirmed requirements", label)
	}
	byKey := make(map[string]model.Requirement, len(reqs))
	for _, r := range reqs {
		byKey[r.ReqKey] = r
	}
	return byKey, nil
}

// impactFor counts downstream entities linked to the changed requirement.
// For MODIFIED, links of both sides count once each way; the trace-link
// source already de-duplicates per requirement.
func (e *Engine) impactFor(ctx context.Context, prev, next model.Requirement, inFrom, inTo bool) (model.ImpactCounts, error) {
	var total model.ImpactCounts
	if inTo {
		links, err := e.links.LinksFor(ctx, next.ID)
		if err != nil {
			return total, eris.Wrap(err, "diff: trace links")
		}
		total.Add(tracelink.ImpactOf(links))
	}
	if inFrom && !inTo {
		links, err := e.links.LinksFor(ctx, prev.ID)
		if err != nil {
			return total, eris.Wrap(err, "diff: trace links")
		}
		total.Add(tracelink.ImpactOf(links))
	}
	return total, nil
}

// sameText compares requirement text under NFC normalization so visually
// identical strings with different code point sequences do not produce
// spurious MODIFIED entries.
func sameText(a, b string) bool {
	return norm.NFC.String(a) == norm.NFC.String(b)
}
