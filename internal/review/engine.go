// Package review implements candidate triage: accept, reject, edit, merge,
// and the confirmation that promotes surviving candidates into requirements.
package review

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rfp-intake/internal/lock"
	"github.com/sells-group/rfp-intake/internal/model"
	"github.com/sells-group/rfp-intake/internal/policy"
	"github.com/sells-group/rfp-intake/internal/status"
	"github.com/sells-group/rfp-intake/internal/store"
)

// ConfirmationResult reports the outcome of a confirm call. Incomplete is
// advisory data, not an error: callers render what is missing and let the
// reviewer finish.
type ConfirmationResult struct {
	Confirmed           bool                `json:"confirmed"`
	PendingApproval     bool                `json:"pending_approval"`
	Incomplete          bool                `json:"incomplete"`
	UnreviewedAmbiguous []string            `json:"unreviewed_ambiguous,omitempty"`
	Requirements        []model.Requirement `json:"requirements,omitempty"`
}

// Engine serializes review writes per RFP through the shared Locker and
// drives the EXTRACTED -> REVIEWING -> CONFIRMED leg of the workflow.
type Engine struct {
	store store.Store
	locks lock.Locker
}

// NewEngine creates a review engine over the given store.
func NewEngine(st store.Store, locks lock.Locker) *Engine {
	return &Engine{store: st, locks: locks}
}

// Accept marks candidates ACCEPTED. Accepting an already accepted candidate
// is a no-op, and so is accepting a MODIFIED one: the edit is itself an
// affirmative review and must not be reverted by a bulk accept. Accepting a
// REJECTED candidate fails, rejection is terminal.
func (e *Engine) Accept(ctx context.Context, rfpID string, candidateIDs []string, reviewer string) error {
	return e.reviewBatch(ctx, rfpID, candidateIDs, reviewer, func(c *model.RequirementCandidate) error {
		switch c.Status {
		case model.CandidateAccepted, model.CandidateModified:
			return nil
		case model.CandidateRejected:
			return eris.Wrapf(model.ErrAlreadyRejected, "review: candidate %s", c.ID)
		}
		c.Status = model.CandidateAccepted
		return nil
	})
}

// Reject marks candidates REJECTED. PROPOSED, ACCEPTED, and MODIFIED may all
// be rejected; rejecting a REJECTED candidate is a no-op.
func (e *Engine) Reject(ctx context.Context, rfpID string, candidateIDs []string, reviewer string) error {
	return e.reviewBatch(ctx, rfpID, candidateIDs, reviewer, func(c *model.RequirementCandidate) error {
		if c.Status == model.CandidateRejected {
			return nil
		}
		c.Status = model.CandidateRejected
		return nil
	})
}

// Edit replaces a candidate's text and marks it MODIFIED. REJECTED
// candidates cannot be edited.
func (e *Engine) Edit(ctx context.Context, rfpID, candidateID, newText, reviewer string) error {
	return e.reviewBatch(ctx, rfpID, []string{candidateID}, reviewer, func(c *model.RequirementCandidate) error {
		if c.Status == model.CandidateRejected {
			return eris.Wrapf(model.ErrInvalidState, "review: candidate %s is rejected", c.ID)
		}
		c.EditedText = newText
		c.Status = model.CandidateModified
		return nil
	})
}

// Merge folds duplicate candidates into a primary one. The duplicates are
// rejected and the merge is recorded as an audit event on the primary. Merge
// is always a deliberate reviewer action, never automatic.
func (e *Engine) Merge(ctx context.Context, rfpID, primaryID string, duplicateIDs []string, reviewer, reason string) error {
	e.locks.Lock(rfpID)
	defer e.locks.Unlock(rfpID)

	rfp, err := e.gate(ctx, rfpID)
	if err != nil {
		return err
	}

	primary, err := e.loadCandidate(ctx, rfp, primaryID)
	if err != nil {
		return err
	}
	if primary.Status == model.CandidateRejected {
		return eris.Wrapf(model.ErrInvalidState, "review: merge primary %s is rejected", primaryID)
	}

	now := time.Now().UTC()
	for _, dupID := range duplicateIDs {
		dup, err := e.loadCandidate(ctx, rfp, dupID)
		if err != nil {
			return err
		}
		if dup.ID == primary.ID {
			return eris.Wrapf(model.ErrInvalidCandidateID, "review: candidate %s cannot be merged into itself", dupID)
		}
		dup.Status = model.CandidateRejected
		dup.ReviewedBy = reviewer
		dup.ReviewedAt = &now
		if err := e.store.UpdateCandidate(ctx, dup); err != nil {
			return eris.Wrap(err, "review: reject duplicate")
		}
		primary.DuplicateRefs = appendUnique(primary.DuplicateRefs, dup.ReqKey)
	}

	primary.ReviewedBy = reviewer
	primary.ReviewedAt = &now
	if primary.Status == model.CandidateProposed {
		primary.Status = model.CandidateAccepted
	}
	if err := e.store.UpdateCandidate(ctx, primary); err != nil {
		return eris.Wrap(err, "review: update merge primary")
	}

	ev := &model.ChangeEvent{
		ID:            uuid.NewString(),
		RequirementID: primary.ID,
		Type:          model.ChangeMerge,
		Actor:         reviewer,
		Reason:        reason,
		OccurredAt:    now,
	}
	if err := e.store.AppendChangeEvent(ctx, ev); err != nil {
		return eris.Wrap(err, "review: record merge")
	}
	return nil
}

// Hold parks a REVIEWING RFP.
func (e *Engine) Hold(ctx context.Context, rfpID string) error {
	return e.moveRfp(ctx, rfpID, model.StatusOnHold)
}

// Resume returns an ON_HOLD RFP to review.
func (e *Engine) Resume(ctx context.Context, rfpID string) error {
	return e.moveRfp(ctx, rfpID, model.StatusReviewing)
}

// RequestReanalysis sends an RFP back for a fresh extraction when the
// reviewer finds the current candidate set stale. Legal from EXTRACTED,
// REVIEWING, and CONFIRMED; the RFP lands in NEEDS_REANALYSIS, from which a
// retry or a new version upload starts the next run. Existing candidates and
// confirmed requirements are untouched.
func (e *Engine) RequestReanalysis(ctx context.Context, rfpID string) error {
	return e.moveRfp(ctx, rfpID, model.StatusNeedsReanalysis)
}

// Confirm promotes every ACCEPTED and MODIFIED candidate of the active run
// into a durable Requirement and moves the RFP to CONFIRMED. Under a FULL
// evidence level, every ambiguous candidate must have been explicitly
// reviewed first; otherwise the result reports what is missing and nothing
// is promoted. A re-confirmation under changeApprovalRequired is staged and
// completed by ObserveApproval.
func (e *Engine) Confirm(ctx context.Context, rfpID, actor string) (*ConfirmationResult, error) {
	e.locks.Lock(rfpID)
	defer e.locks.Unlock(rfpID)

	rfp, err := e.gate(ctx, rfpID)
	if err != nil {
		return nil, err
	}

	run, err := e.store.GetActiveRun(ctx, rfpID)
	if err != nil {
		return nil, eris.Wrap(err, "review: load active run")
	}
	candidates, err := e.store.ListCandidates(ctx, run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "review: list candidates")
	}

	pol, err := e.effectivePolicy(ctx, rfp)
	if err != nil {
		return nil, err
	}

	if pol.EvidenceLevel == model.EvidenceFull {
		var unreviewed []string
		for _, c := range candidates {
			if c.IsAmbiguous && c.Status == model.CandidateProposed {
				unreviewed = append(unreviewed, c.ID)
			}
		}
		if len(unreviewed) > 0 {
			sort.Strings(unreviewed)
			return &ConfirmationResult{Incomplete: true, UnreviewedAmbiguous: unreviewed}, nil
		}
	}

	now := time.Now().UTC()
	reqs := make([]model.Requirement, 0, len(candidates))
	events := make([]model.ChangeEvent, 0, len(candidates))
	for _, c := range candidates {
		if c.Status != model.CandidateAccepted && c.Status != model.CandidateModified {
			continue
		}
		req := model.Requirement{
			ID:          uuid.NewString(),
			RfpID:       rfpID,
			VersionID:   run.VersionID,
			RunID:       run.ID,
			CandidateID: c.ID,
			ReqKey:      c.ReqKey,
			Text:        c.EffectiveText(),
			Category:    c.Category,
			ConfirmedBy: actor,
			ConfirmedAt: now,
		}
		reqs = append(reqs, req)
		events = append(events, model.ChangeEvent{
			ID:            uuid.NewString(),
			RequirementID: req.ID,
			Type:          model.ChangeCreate,
			Actor:         actor,
			OccurredAt:    now,
		})
	}

	// Re-confirmation under change approval: a previously confirmed version
	// already exists, so the new requirement set waits for sign-off.
	if pol.ChangeApprovalRequired {
		confirmedBefore, err := e.hasConfirmedRequirements(ctx, rfpID, run.VersionID)
		if err != nil {
			return nil, err
		}
		if confirmedBefore {
			staged := &store.StagedConfirmation{
				RfpID:        rfpID,
				VersionID:    run.VersionID,
				Actor:        actor,
				Requirements: reqs,
			}
			if err := e.store.SaveStagedConfirmation(ctx, staged); err != nil {
				return nil, eris.Wrap(err, "review: stage confirmation")
			}
			zap.L().Info("review: confirmation staged for approval",
				zap.String("rfp_id", rfpID), zap.Int("requirements", len(reqs)))
			return &ConfirmationResult{PendingApproval: true, Requirements: reqs}, nil
		}
	}

	if err := status.Transition(rfp, model.StatusConfirmed); err != nil {
		return nil, err
	}
	rfp.UpdatedAt = now
	if err := e.store.ConfirmRequirements(ctx, rfp, reqs, events); err != nil {
		return nil, eris.Wrap(err, "review: confirm requirements")
	}

	zap.L().Info("review: rfp confirmed",
		zap.String("rfp_id", rfpID),
		zap.Int("requirements", len(reqs)),
		zap.String("actor", actor))
	return &ConfirmationResult{Confirmed: true, Requirements: reqs}, nil
}

// ObserveApproval completes or discards a staged confirmation once the
// external approver has decided.
func (e *Engine) ObserveApproval(ctx context.Context, rfpID string, approved bool, actor string) (*ConfirmationResult, error) {
	e.locks.Lock(rfpID)
	defer e.locks.Unlock(rfpID)

	staged, err := e.store.GetStagedConfirmation(ctx, rfpID)
	if err != nil {
		return nil, eris.Wrap(err, "review: load staged confirmation")
	}

	if !approved {
		if err := e.store.DeleteStagedConfirmation(ctx, rfpID); err != nil {
			return nil, eris.Wrap(err, "review: discard staged confirmation")
		}
		zap.L().Info("review: staged confirmation discarded",
			zap.String("rfp_id", rfpID), zap.String("actor", actor))
		return &ConfirmationResult{}, nil
	}

	rfp, err := e.gate(ctx, rfpID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	events := make([]model.ChangeEvent, 0, len(staged.Requirements))
	for _, req := range staged.Requirements {
		events = append(events, model.ChangeEvent{
			ID:            uuid.NewString(),
			RequirementID: req.ID,
			Type:          model.ChangeCreate,
			Actor:         actor,
			OccurredAt:    now,
		})
	}

	if err := status.Transition(rfp, model.StatusConfirmed); err != nil {
		return nil, err
	}
	rfp.UpdatedAt = now
	if err := e.store.ConfirmRequirements(ctx, rfp, staged.Requirements, events); err != nil {
		return nil, eris.Wrap(err, "review: commit approved confirmation")
	}
	if err := e.store.DeleteStagedConfirmation(ctx, rfpID); err != nil {
		return nil, eris.Wrap(err, "review: clear staged confirmation")
	}
	return &ConfirmationResult{Confirmed: true, Requirements: staged.Requirements}, nil
}

// KPI summarizes review progress for one RFP from committed state.
func (e *Engine) KPI(ctx context.Context, rfpID string) (*model.KPI, error) {
	kpi := &model.KPI{RfpID: rfpID}

	run, err := e.store.GetActiveRun(ctx, rfpID)
	if err != nil {
		if eris.Is(err, model.ErrNotFound) {
			return kpi, nil
		}
		return nil, eris.Wrap(err, "review: load active run")
	}

	candidates, err := e.store.ListCandidates(ctx, run.ID)
	if err != nil {
		return nil, eris.Wrap(err, "review: list candidates")
	}
	var sum float64
	for _, c := range candidates {
		kpi.CandidateCount++
		sum += c.Confidence
		if c.IsAmbiguous {
			kpi.AmbiguousCount++
		}
		switch c.Status {
		case model.CandidateAccepted:
			kpi.AcceptedCount++
		case model.CandidateModified:
			kpi.ModifiedCount++
		case model.CandidateRejected:
			kpi.RejectedCount++
		case model.CandidateProposed:
			kpi.ProposedCount++
		}
	}
	if kpi.CandidateCount > 0 {
		kpi.AvgConfidence = sum / float64(kpi.CandidateCount)
	}

	reqs, err := e.store.ListRequirements(ctx, rfpID, run.VersionID)
	if err != nil {
		return nil, eris.Wrap(err, "review: list requirements")
	}
	kpi.RequirementCount = len(reqs)
	return kpi, nil
}

// reviewBatch applies one mutation to each candidate under the RFP lock. All
// candidates are validated before any write so a bad id rejects the whole
// batch.
func (e *Engine) reviewBatch(ctx context.Context, rfpID string, ids []string, reviewer string, mutate func(*model.RequirementCandidate) error) error {
	e.locks.Lock(rfpID)
	defer e.locks.Unlock(rfpID)

	rfp, err := e.gate(ctx, rfpID)
	if err != nil {
		return err
	}

	loaded := make([]*model.RequirementCandidate, 0, len(ids))
	for _, id := range ids {
		c, err := e.loadCandidate(ctx, rfp, id)
		if err != nil {
			return err
		}
		loaded = append(loaded, c)
	}

	now := time.Now().UTC()
	for _, c := range loaded {
		before := c.Status
		if err := mutate(c); err != nil {
			return err
		}
		if c.Status == before && c.EditedText == "" {
			continue
		}
		c.ReviewedBy = reviewer
		c.ReviewedAt = &now
		if err := e.store.UpdateCandidate(ctx, c); err != nil {
			return eris.Wrap(err, "review: update candidate")
		}
	}
	return nil
}

// gate verifies the RFP accepts review actions, moving EXTRACTED into
// REVIEWING on the first one.
func (e *Engine) gate(ctx context.Context, rfpID string) (*model.Rfp, error) {
	rfp, err := e.store.GetRfp(ctx, rfpID)
	if err != nil {
		return nil, eris.Wrap(err, "review: load rfp")
	}
	if err := status.Require(rfp, model.StatusExtracted, model.StatusReviewing); err != nil {
		return nil, err
	}
	if rfp.Status == model.StatusExtracted {
		if err := status.Transition(rfp, model.StatusReviewing); err != nil {
			return nil, err
		}
		rfp.UpdatedAt = time.Now().UTC()
		if err := e.store.UpdateRfp(ctx, rfp); err != nil {
			return nil, eris.Wrap(err, "review: enter reviewing")
		}
	}
	return rfp, nil
}

// loadCandidate fetches a candidate and verifies it belongs to the RFP's
// active run, so stale ids from an older run are rejected.
func (e *Engine) loadCandidate(ctx context.Context, rfp *model.Rfp, id string) (*model.RequirementCandidate, error) {
	c, err := e.store.GetCandidate(ctx, id)
	if err != nil {
		if eris.Is(err, model.ErrNotFound) {
			return nil, eris.Wrapf(model.ErrInvalidCandidateID, "review: candidate %s", id)
		}
		return nil, eris.Wrap(err, "review: load candidate")
	}
	run, err := e.store.GetActiveRun(ctx, rfp.ID)
	if err != nil {
		return nil, eris.Wrap(err, "review: load active run")
	}
	if c.RunID != run.ID {
		return nil, eris.Wrapf(model.ErrInvalidCandidateID, "review: candidate %s is not part of the active run", id)
	}
	return c, nil
}

func (e *Engine) moveRfp(ctx context.Context, rfpID string, to model.RfpStatus) error {
	e.locks.Lock(rfpID)
	defer e.locks.Unlock(rfpID)

	rfp, err := e.store.GetRfp(ctx, rfpID)
	if err != nil {
		return eris.Wrap(err, "review: load rfp")
	}
	if err := status.Transition(rfp, to); err != nil {
		return err
	}
	rfp.UpdatedAt = time.Now().UTC()
	return eris.Wrap(e.store.UpdateRfp(ctx, rfp), "review: update rfp")
}

func (e *Engine) effectivePolicy(ctx context.Context, rfp *model.Rfp) (model.OriginPolicy, error) {
	project, err := e.store.GetProject(ctx, rfp.ProjectID)
	if err != nil {
		return model.OriginPolicy{}, eris.Wrap(err, "review: load project")
	}
	if project.Policy != nil {
		return *project.Policy, nil
	}
	return policy.Resolve(rfp.OriginType), nil
}

// hasConfirmedRequirements reports whether any earlier version of the RFP
// already has confirmed requirements.
func (e *Engine) hasConfirmedRequirements(ctx context.Context, rfpID, excludeVersionID string) (bool, error) {
	versions, err := e.store.ListVersions(ctx, rfpID)
	if err != nil {
		return false, eris.Wrap(err, "review: list versions")
	}
	for _, v := range versions {
		if v.ID == excludeVersionID {
			continue
		}
		reqs, err := e.store.ListRequirements(ctx, rfpID, v.ID)
		if err != nil {
			return false, eris.Wrap(err, "review: list requirements")
		}
		if len(reqs) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func appendUnique(refs []string, key string) []string {
	for _, r := range refs {
		if r == key {
			return refs
		}
	}
	return append(refs, key)
}
