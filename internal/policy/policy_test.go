package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/rfp-intake/internal/model"
)

func TestResolve_Table(t *testing.T) {
	tests := []struct {
		origin   model.OriginType
		wantRef  bool
		wantEvd  model.EvidenceLevel
		wantAppr bool
		wantAuto bool
		wantLin  model.LineageEnforcement
	}{
		{model.OriginExternalRFP, true, model.EvidenceFull, true, true, model.LineageStrict},
		{model.OriginInternalInitiative, false, model.EvidencePartial, false, false, model.LineageRelaxed},
		{model.OriginModernization, true, model.EvidenceFull, false, true, model.LineageStrict},
		{model.OriginMixed, true, model.EvidencePartial, true, true, model.LineageRelaxed},
	}

	for _, tt := range tests {
		t.Run(string(tt.origin), func(t *testing.T) {
			p := Resolve(tt.origin)
			assert.Equal(t, tt.origin, p.OriginType)
			assert.Equal(t, tt.wantRef, p.RequireSourceReference)
			assert.Equal(t, tt.wantEvd, p.EvidenceLevel)
			assert.Equal(t, tt.wantAppr, p.ChangeApprovalRequired)
			assert.Equal(t, tt.wantAuto, p.AutoAnalysisEnabled)
			assert.Equal(t, tt.wantLin, p.LineageEnforcement)
		})
	}
}

func TestResolve_UnknownDefaultsRestrictive(t *testing.T) {
	p := Resolve(model.OriginType("FUTURE_KIND"))
	assert.True(t, p.RequireSourceReference)
	assert.Equal(t, model.EvidenceFull, p.EvidenceLevel)
	assert.True(t, p.ChangeApprovalRequired)
	assert.Equal(t, model.OriginType("FUTURE_KIND"), p.OriginType)
}

func TestResolve_Pure(t *testing.T) {
	a := Resolve(model.OriginExternalRFP)
	b := Resolve(model.OriginExternalRFP)
	assert.Equal(t, a, b)
}
