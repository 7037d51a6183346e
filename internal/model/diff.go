package model

// DiffKind classifies a requirement-level change between two versions.
type DiffKind string

const (
	DiffNew      DiffKind = "NEW"
	DiffRemoved  DiffKind = "REMOVED"
	DiffModified DiffKind = "MODIFIED"
)

// ImpactCounts tallies distinct downstream entities linked to a changed
// requirement. The counts come from the trace-link collaborator; the diff
// engine only aggregates them.
type ImpactCounts struct {
	AffectedEpics   int `json:"affected_epics"`
	AffectedWbs     int `json:"affected_wbs"`
	AffectedSprints int `json:"affected_sprints"`
	AffectedTests   int `json:"affected_tests"`
}

// Add accumulates other into c.
func (c *ImpactCounts) Add(other ImpactCounts) {
	c.AffectedEpics += other.AffectedEpics
	c.AffectedWbs += other.AffectedWbs
	c.AffectedSprints += other.AffectedSprints
	c.AffectedTests += other.AffectedTests
}

// DiffEntry is one changed requirement in a version-to-version diff.
type DiffEntry struct {
	ReqKey       string       `json:"req_key"`
	Kind         DiffKind     `json:"kind"`
	Category     Category     `json:"category,omitempty"`
	Text         string       `json:"text,omitempty"`
	PreviousText string       `json:"previous_text,omitempty"`
	Impact       ImpactCounts `json:"impact"`
}

// RfpDiff compares the confirmed requirement sets of two versions of the same
// RFP. Entries are ordered by ReqKey ascending; unchanged requirements are
// omitted. Output is deterministic: same inputs produce identical output.
type RfpDiff struct {
	RfpID       string       `json:"rfp_id"`
	FromVersion string       `json:"from_version"`
	ToVersion   string       `json:"to_version"`
	Entries     []DiffEntry  `json:"entries"`
	Totals      DiffTotals   `json:"totals"`
	Impact      ImpactCounts `json:"impact"`
}

// DiffTotals counts entries per kind.
type DiffTotals struct {
	New      int `json:"new"`
	Removed  int `json:"removed"`
	Modified int `json:"modified"`
}
