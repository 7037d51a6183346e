// Package policy maps a project's declared origin type to its fixed
// governance policy.
package policy

import "github.com/sells-group/rfp-intake/internal/model"

// policyTable is the closed mapping from origin type to governance policy.
// Edits here only affect projects that declare their origin afterwards;
// resolved policies are persisted with the project.
var policyTable = map[model.OriginType]model.OriginPolicy{
	model.OriginExternalRFP: {
		OriginType:             model.OriginExternalRFP,
		RequireSourceReference: true,
		EvidenceLevel:          model.EvidenceFull,
		ChangeApprovalRequired: true,
		AutoAnalysisEnabled:    true,
		LineageEnforcement:     model.LineageStrict,
	},
	model.OriginInternalInitiative: {
		OriginType:             model.OriginInternalInitiative,
		RequireSourceReference: false,
		EvidenceLevel:          model.EvidencePartial,
		ChangeApprovalRequired: false,
		AutoAnalysisEnabled:    false,
		LineageEnforcement:     model.LineageRelaxed,
	},
	model.OriginModernization: {
		OriginType:             model.OriginModernization,
		RequireSourceReference: true,
		EvidenceLevel:          model.EvidenceFull,
		ChangeApprovalRequired: false,
		AutoAnalysisEnabled:    true,
		LineageEnforcement:     model.LineageStrict,
	},
	model.OriginMixed: {
		OriginType:             model.OriginMixed,
		RequireSourceReference: true,
		EvidenceLevel:          model.EvidencePartial,
		ChangeApprovalRequired: true,
		AutoAnalysisEnabled:    true,
		LineageEnforcement:     model.LineageRelaxed,
	},
}

// Resolve returns the governance policy for an origin type. It is pure and
// total over the closed enum; unknown values resolve to the most restrictive
// policy (the EXTERNAL_RFP row) so a bad value can never weaken governance.
func Resolve(t model.OriginType) model.OriginPolicy {
	if p, ok := policyTable[t]; ok {
		return p
	}
	p := policyTable[model.OriginExternalRFP]
	p.OriginType = t
	return p
}
