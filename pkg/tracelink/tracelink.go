// Package tracelink resolves the downstream planning entities (epics, WBS
// items, sprints, tests) linked to confirmed requirements. The workflow core
// only counts and displays these links; it never creates them.
package tracelink

import (
	"context"

	"github.com/sells-group/rfp-intake/internal/model"
)

// Source resolves trace links for requirements. Implementations must return
// links in a stable order so downstream diff output stays deterministic.
type Source interface {
	LinksFor(ctx context.Context, requirementID string) ([]model.TraceLink, error)
}

// ImpactOf reduces a requirement's links to distinct-entity counts per kind.
func ImpactOf(links []model.TraceLink) model.ImpactCounts {
	seen := make(map[model.EntityKind]map[string]bool, 4)
	for _, l := range links {
		if seen[l.EntityKind] == nil {
			seen[l.EntityKind] = make(map[string]bool)
		}
		seen[l.EntityKind][l.EntityID] = true
	}
	return model.ImpactCounts{
		AffectedEpics:   len(seen[model.EntityEpic]),
		AffectedWbs:     len(seen[model.EntityWbs]),
		AffectedSprints: len(seen[model.EntitySprint]),
		AffectedTests:   len(seen[model.EntityTest]),
	}
}

// None is a Source with no links, used when no planning workspace is
// configured.
type None struct{}

func (None) LinksFor(context.Context, string) ([]model.TraceLink, error) {
	return nil, nil
}
