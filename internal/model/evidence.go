package model

// IntegrityStatus is the result of comparing a stored file checksum against a
// freshly recomputed one.
type IntegrityStatus string

const (
	IntegrityVerified IntegrityStatus = "VERIFIED"
	IntegrityModified IntegrityStatus = "MODIFIED"
	IntegrityMissing  IntegrityStatus = "MISSING"
)

// EntityKind is the type of a downstream entity linked to a requirement.
type EntityKind string

const (
	EntityEpic   EntityKind = "EPIC"
	EntityWbs    EntityKind = "WBS"
	EntitySprint EntityKind = "SPRINT"
	EntityTest   EntityKind = "TEST"
)

// TraceLink connects a requirement to one downstream planning entity.
type TraceLink struct {
	RequirementID string     `json:"requirement_id"`
	EntityKind    EntityKind `json:"entity_kind"`
	EntityID      string     `json:"entity_id"`
	Title         string     `json:"title,omitempty"`
}

// SourceEvidence locates a requirement in its source document and reports
// whether the stored file still matches its recorded checksum.
type SourceEvidence struct {
	Quote           string          `json:"quote,omitempty"`
	Section         string          `json:"section,omitempty"`
	ParagraphID     string          `json:"paragraph_id,omitempty"`
	FileChecksum    string          `json:"file_checksum"`
	IntegrityStatus IntegrityStatus `json:"integrity_status"`
}

// AIEvidence records the model provenance of a requirement's extraction.
type AIEvidence struct {
	ModelName     string           `json:"model_name"`
	ModelVersion  string           `json:"model_version"`
	PromptVersion string           `json:"prompt_version"`
	SchemaVersion string           `json:"schema_version"`
	Params        GenerationParams `json:"generation_params"`
	Confidence    float64          `json:"confidence"`
	WasEdited     bool             `json:"was_edited"`
}

// Evidence is the full traceable record for one requirement: where it came
// from, how it was extracted, how humans changed it, and what it affects
// downstream. Incomplete is advisory, not an error: callers render partial
// evidence rather than failing.
type Evidence struct {
	RequirementID string         `json:"requirement_id"`
	Source        SourceEvidence `json:"source_evidence"`
	AI            *AIEvidence    `json:"ai_evidence,omitempty"`
	Changes       []ChangeEvent  `json:"change_evidence"`
	Impact        []TraceLink    `json:"impact_evidence"`
	Incomplete    bool           `json:"incomplete"`
	MissingParts  []string       `json:"missing_parts,omitempty"`
}
