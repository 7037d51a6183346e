package model

import "time"

// Category classifies a requirement candidate.
type Category string

const (
	CategoryFunctional    Category = "FUNCTIONAL"
	CategoryNonFunctional Category = "NON_FUNCTIONAL"
	CategoryConstraint    Category = "CONSTRAINT"
)

// CandidateStatus is the review state of a candidate. It may only change
// through the review engine, never directly. REJECTED is terminal.
type CandidateStatus string

const (
	CandidateProposed CandidateStatus = "PROPOSED"
	CandidateAccepted CandidateStatus = "ACCEPTED"
	CandidateModified CandidateStatus = "MODIFIED"
	CandidateRejected CandidateStatus = "REJECTED"
)

// RequirementCandidate is an unconfirmed, AI-proposed requirement extracted
// by one run and scoped to that run.
type RequirementCandidate struct {
	ID                string          `json:"id"`
	RunID             string          `json:"run_id"`
	ReqKey            string          `json:"req_key"`
	Text              string          `json:"text"`
	Category          Category        `json:"category"`
	Confidence        float64         `json:"confidence"`
	SourceParagraphID string          `json:"source_paragraph_id,omitempty"`
	SourceSection     string          `json:"source_section,omitempty"`
	SourceQuote       string          `json:"source_quote,omitempty"`
	IsAmbiguous       bool            `json:"is_ambiguous"`
	DuplicateRefs     []string        `json:"duplicate_refs,omitempty"`
	Status            CandidateStatus `json:"status"`
	EditedText        string          `json:"edited_text,omitempty"`
	ReviewedBy        string          `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time      `json:"reviewed_at,omitempty"`
}

// EffectiveText returns the reviewer's edited text when one exists, otherwise
// the extracted text. An edit survives later status changes.
func (c RequirementCandidate) EffectiveText() string {
	if c.EditedText != "" {
		return c.EditedText
	}
	return c.Text
}

// Requirement is the confirmed, durable artifact promoted from an accepted or
// modified candidate. It keeps back-references to its originating candidate,
// run, and version so its evidence can be reconstructed.
type Requirement struct {
	ID          string    `json:"id"`
	RfpID       string    `json:"rfp_id"`
	VersionID   string    `json:"version_id"`
	RunID       string    `json:"run_id"`
	CandidateID string    `json:"candidate_id"`
	ReqKey      string    `json:"req_key"`
	Text        string    `json:"text"`
	Category    Category  `json:"category"`
	ConfirmedBy string    `json:"confirmed_by"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// ChangeType classifies a structural change to a requirement.
type ChangeType string

const (
	ChangeCreate ChangeType = "CREATE"
	ChangeEdit   ChangeType = "EDIT"
	ChangeDelete ChangeType = "DELETE"
	ChangeMerge  ChangeType = "MERGE"
	ChangeSplit  ChangeType = "SPLIT"
)

// ChangeEvent is an append-only audit record of a structural change to a
// requirement. Events are never mutated or deleted.
type ChangeEvent struct {
	ID            string     `json:"id"`
	RequirementID string     `json:"requirement_id"`
	Type          ChangeType `json:"type"`
	Actor         string     `json:"actor"`
	Reason        string     `json:"reason,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}
