// Package evidence reconstructs the full traceable record of a confirmed
// requirement: source location and document integrity, AI provenance, human
// change history, and downstream impact.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rfp-intake/internal/model"
	"github.com/sells-group/rfp-intake/internal/policy"
	"github.com/sells-group/rfp-intake/internal/store"
	"github.com/sells-group/rfp-intake/pkg/tracelink"
)

// Ledger assembles evidence from committed state. It takes no locks; its
// reads run concurrently with the write path.
type Ledger struct {
	store store.Store
	links tracelink.Source
}

// NewLedger creates an evidence ledger. A nil trace-link source reports no
// impact evidence.
func NewLedger(st store.Store, links tracelink.Source) *Ledger {
	if links == nil {
		links = tracelink.None{}
	}
	return &Ledger{store: st, links: links}
}

// GetEvidence assembles the evidence record for one requirement. Missing
// evidence categories never fail the call: they are reported through
// Incomplete and MissingParts and it is the caller's decision what a gap
// means under the project's evidence level.
func (l *Ledger) GetEvidence(ctx context.Context, requirementID string) (*model.Evidence, error) {
	req, err := l.store.GetRequirement(ctx, requirementID)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: load requirement")
	}

	ev := &model.Evidence{RequirementID: req.ID}

	version, err := l.store.GetVersion(ctx, req.VersionID)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: load version")
	}
	ev.Source.FileChecksum = version.FileChecksum
	ev.Source.IntegrityStatus = l.verifyIntegrity(ctx, version.FileChecksum)

	candidate, err := l.store.GetCandidate(ctx, req.CandidateID)
	switch {
	case err == nil:
		ev.Source.Quote = candidate.SourceQuote
		ev.Source.Section = candidate.SourceSection
		ev.Source.ParagraphID = candidate.SourceParagraphID
	case eris.Is(err, model.ErrNotFound):
		ev.MissingParts = append(ev.MissingParts, "source_evidence")
	default:
		return nil, eris.Wrap(err, "evidence: load candidate")
	}

	run, err := l.store.GetRun(ctx, req.RunID)
	switch {
	case err == nil:
		ai := &model.AIEvidence{
			ModelName:     run.ModelName,
			ModelVersion:  run.ModelVersion,
			PromptVersion: run.PromptVersion,
			SchemaVersion: run.SchemaVersion,
			Params:        run.Params,
		}
		if candidate != nil {
			ai.Confidence = candidate.Confidence
			ai.WasEdited = candidate.Status == model.CandidateModified
		}
		ev.AI = ai
	case eris.Is(err, model.ErrNotFound):
		ev.MissingParts = append(ev.MissingParts, "ai_evidence")
	default:
		return nil, eris.Wrap(err, "evidence: load run")
	}

	changes, err := l.store.ListChangeEvents(ctx, req.ID)
	if err != nil {
		return nil, eris.Wrap(err, "evidence: list change events")
	}
	ev.Changes = changes
	if len(changes) == 0 {
		ev.MissingParts = append(ev.MissingParts, "change_evidence")
	}

	links, err := l.links.LinksFor(ctx, req.ID)
	if err != nil {
		// Impact evidence lives in an external system; its outage degrades
		// the record instead of failing it.
		zap.L().Warn("evidence: trace links unavailable",
			zap.String("requirement_id", req.ID), zap.Error(err))
		ev.MissingParts = append(ev.MissingParts, "impact_evidence")
	} else {
		ev.Impact = links
	}

	ev.Incomplete = len(ev.MissingParts) > 0
	if ev.Incomplete {
		if rfp, err := l.store.GetRfp(ctx, req.RfpID); err == nil {
			lvl := l.evidenceLevel(ctx, rfp)
			zap.L().Info("evidence: incomplete record",
				zap.String("requirement_id", req.ID),
				zap.Strings("missing", ev.MissingParts),
				zap.String("evidence_level", string(lvl)))
		}
	}
	return ev, nil
}

// verifyIntegrity recomputes the stored blob's checksum and compares it to
// the one recorded at upload time.
func (l *Ledger) verifyIntegrity(ctx context.Context, recorded string) model.IntegrityStatus {
	data, err := l.store.GetBlob(ctx, recorded)
	if err != nil {
		return model.IntegrityMissing
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != recorded {
		return model.IntegrityModified
	}
	return model.IntegrityVerified
}

func (l *Ledger) evidenceLevel(ctx context.Context, rfp *model.Rfp) model.EvidenceLevel {
	project, err := l.store.GetProject(ctx, rfp.ProjectID)
	if err == nil && project.Policy != nil {
		return project.Policy.EvidenceLevel
	}
	return policy.Resolve(rfp.OriginType).EvidenceLevel
}
