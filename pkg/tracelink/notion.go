package tracelink

import (
	"context"
	"fmt"
	"sort"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/rfp-intake/internal/model"
)

// DatabaseIDs maps each entity kind to the Notion database holding that
// entity type. Empty IDs are skipped.
type DatabaseIDs struct {
	Epics   string `yaml:"epics" mapstructure:"epics"`
	Wbs     string `yaml:"wbs" mapstructure:"wbs"`
	Sprints string `yaml:"sprints" mapstructure:"sprints"`
	Tests   string `yaml:"tests" mapstructure:"tests"`
}

// requirementProperty is the relation/rich-text property each planning
// database uses to reference a requirement.
const requirementProperty = "Requirement ID"

// NotionSource resolves trace links by querying the planning databases in a
// Notion workspace. Calls are throttled to Notion's 3 req/s limit.
type NotionSource struct {
	client  *notionapi.Client
	dbs     DatabaseIDs
	limiter *rate.Limiter
}

// NewNotionSource creates a trace-link source over a Notion workspace.
func NewNotionSource(token string, dbs DatabaseIDs) *NotionSource {
	return &NotionSource{
		client:  notionapi.NewClient(notionapi.Token(token)),
		dbs:     dbs,
		limiter: rate.NewLimiter(3, 1),
	}
}

func (s *NotionSource) LinksFor(ctx context.Context, requirementID string) ([]model.TraceLink, error) {
	kinds := []struct {
		kind model.EntityKind
		dbID string
	}{
		{model.EntityEpic, s.dbs.Epics},
		{model.EntityWbs, s.dbs.Wbs},
		{model.EntitySprint, s.dbs.Sprints},
		{model.EntityTest, s.dbs.Tests},
	}

	var links []model.TraceLink
	for _, k := range kinds {
		if k.dbID == "" {
			continue
		}
		pages, err := s.queryByRequirement(ctx, k.dbID, requirementID)
		if err != nil {
			return nil, err
		}
		for _, p := range pages {
			links = append(links, model.TraceLink{
				RequirementID: requirementID,
				EntityKind:    k.kind,
				EntityID:      string(p.ID),
				Title:         pageTitle(p),
			})
		}
	}

	// Stable order keeps diff output byte-identical across calls.
	sort.Slice(links, func(i, j int) bool {
		if links[i].EntityKind != links[j].EntityKind {
			return links[i].EntityKind < links[j].EntityKind
		}
		return links[i].EntityID < links[j].EntityID
	})
	return links, nil
}

func (s *NotionSource) queryByRequirement(ctx context.Context, dbID, requirementID string) ([]notionapi.Page, error) {
	var all []notionapi.Page
	var cursor notionapi.Cursor

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "tracelink: rate limit")
		}
		req := &notionapi.DatabaseQueryRequest{
			Filter: notionapi.PropertyFilter{
				Property: requirementProperty,
				RichText: &notionapi.TextFilterCondition{Equals: requirementID},
			},
			StartCursor: cursor,
		}
		resp, err := s.client.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("tracelink: query database %s", dbID))
		}
		all = append(all, resp.Results...)
		if !resp.HasMore {
			return all, nil
		}
		cursor = resp.NextCursor
	}
}

func pageTitle(p notionapi.Page) string {
	for _, prop := range p.Properties {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			var title string
			for _, rt := range tp.Title {
				title += rt.PlainText
			}
			return title
		}
	}
	return ""
}
