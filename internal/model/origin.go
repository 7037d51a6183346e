package model

// OriginType is the declared provenance of a project's requirements. It is
// chosen once at project setup and fixes the project's governance policy.
type OriginType string

const (
	OriginExternalRFP        OriginType = "EXTERNAL_RFP"
	OriginInternalInitiative OriginType = "INTERNAL_INITIATIVE"
	OriginModernization      OriginType = "MODERNIZATION"
	OriginMixed              OriginType = "MIXED"
)

// Valid reports whether t is one of the four known origin types.
func (t OriginType) Valid() bool {
	switch t {
	case OriginExternalRFP, OriginInternalInitiative, OriginModernization, OriginMixed:
		return true
	}
	return false
}

// EvidenceLevel controls how much evidence a confirmed requirement must carry.
type EvidenceLevel string

const (
	EvidenceFull    EvidenceLevel = "FULL"
	EvidencePartial EvidenceLevel = "PARTIAL"
)

// LineageEnforcement controls how strictly a requirement must trace back to a
// source document.
type LineageEnforcement string

const (
	LineageStrict  LineageEnforcement = "STRICT"
	LineageRelaxed LineageEnforcement = "RELAXED"
)

// OriginPolicy is the governance policy derived from an OriginType. It is
// resolved once when the project declares its origin and persisted with the
// project; later edits to the policy table never change it retroactively.
type OriginPolicy struct {
	OriginType             OriginType         `json:"origin_type"`
	RequireSourceReference bool               `json:"require_source_reference"`
	EvidenceLevel          EvidenceLevel      `json:"evidence_level"`
	ChangeApprovalRequired bool               `json:"change_approval_required"`
	AutoAnalysisEnabled    bool               `json:"auto_analysis_enabled"`
	LineageEnforcement     LineageEnforcement `json:"lineage_enforcement"`
}
